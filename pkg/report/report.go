// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package report classifies the outcome of one target execution:
// did the run hit the recorded crash, run to completion, or fail for
// reasons unrelated to the target (missing libraries, display setup,
// timeouts).
package report

import (
	"bytes"
	"regexp"

	"github.com/google/clusterfuzz-tools/pkg/jobs"
)

// Verdict is the classification of a single run.
type Verdict int

const (
	NoCrash Verdict = iota
	Crash
	ToolError
)

func (v Verdict) String() string {
	switch v {
	case Crash:
		return "crash"
	case ToolError:
		return "tool-error"
	default:
		return "no-crash"
	}
}

// ExitStatus describes how the target process terminated.
type ExitStatus struct {
	Code        int
	Signaled    bool
	StartFailed bool
	TimedOut    bool
}

// Classifier recognizes crash signatures in target output for one
// sanitizer. Tool-error patterns are shared across sanitizers.
type Classifier struct {
	sanitizer jobs.Sanitizer
	banners   []*regexp.Regexp
}

// NewClassifier returns a classifier for the given sanitizer.
// An unknown/none sanitizer still recognizes the generic signatures
// (libfuzzer banners, CHECK failures, fatal signals).
func NewClassifier(san jobs.Sanitizer) *Classifier {
	c := &Classifier{sanitizer: san}
	c.banners = append(c.banners, genericBanners...)
	if res := sanitizerBanners[san]; res != nil {
		c.banners = append(c.banners, res...)
	}
	return c
}

// Classify maps one run to a verdict.
// Failure to launch or a timeout is a ToolError regardless of the output:
// it says nothing about whether the crash reproduces. A recognized crash
// signature wins over tool-error patterns in the same output, a target
// that crashed for real may still have warned about the display on the
// way up.
func (c *Classifier) Classify(exit ExitStatus, output []byte) Verdict {
	if exit.StartFailed || exit.TimedOut {
		return ToolError
	}
	for _, re := range c.banners {
		if matchLine(output, re) {
			return Crash
		}
	}
	for _, re := range toolErrorPatterns {
		if matchLine(output, re) {
			return ToolError
		}
	}
	if exit.Signaled {
		return Crash
	}
	// Shells report exec failure as 126/127; anything else non-zero
	// without a recognized signature is not a crash we can attribute.
	if exit.Code == 126 || exit.Code == 127 {
		return ToolError
	}
	return NoCrash
}

// ContainsCrash reports whether the output contains a recognized
// crash signature.
func (c *Classifier) ContainsCrash(output []byte) bool {
	for _, re := range c.banners {
		if matchLine(output, re) {
			return true
		}
	}
	return false
}

// matchLine applies re line-by-line; sanitizer banners never span lines
// and per-line matching keeps pathological outputs cheap.
func matchLine(output []byte, re *regexp.Regexp) bool {
	for pos := 0; pos < len(output); {
		next := bytes.IndexByte(output[pos:], '\n')
		if next != -1 {
			next += pos
		} else {
			next = len(output)
		}
		if re.Match(output[pos:next]) {
			return true
		}
		pos = next + 1
	}
	return false
}

var genericBanners = []*regexp.Regexp{
	regexp.MustCompile(`SUMMARY: [A-Za-z]+Sanitizer`),
	regexp.MustCompile(`Sanitizer CHECK failed`),
	regexp.MustCompile(`==[0-9]+== ?ERROR: libFuzzer`),
	regexp.MustCompile(`DEADLYSIGNAL`),
	regexp.MustCompile(`Check failed:`),
	regexp.MustCompile(`FATAL:`),
	regexp.MustCompile(`Segmentation fault`),
}

var sanitizerBanners = map[jobs.Sanitizer][]*regexp.Regexp{
	jobs.ASAN: {
		regexp.MustCompile(`ERROR: AddressSanitizer`),
		regexp.MustCompile(`attempting (double-free|free on address)`),
	},
	jobs.MSAN: {
		regexp.MustCompile(`WARNING: MemorySanitizer`),
	},
	jobs.UBSAN: {
		regexp.MustCompile(`: runtime error: `),
		regexp.MustCompile(`ERROR: UndefinedBehaviorSanitizer`),
	},
	jobs.LSAN: {
		regexp.MustCompile(`ERROR: LeakSanitizer`),
	},
	jobs.TSAN: {
		regexp.MustCompile(`WARNING: ThreadSanitizer`),
	},
	jobs.CFI: {
		regexp.MustCompile(`control flow integrity check .* failed`),
	},
}

// Output patterns that mean the tool could not execute the target at all.
var toolErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`error while loading shared libraries`),
	regexp.MustCompile(`cannot open shared object file`),
	regexp.MustCompile(`cannot execute binary file`),
	regexp.MustCompile(`No such file or directory.*exec`),
	regexp.MustCompile(`Failed to open display`),
	regexp.MustCompile(`Gtk-WARNING.*cannot open display`),
}
