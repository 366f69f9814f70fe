// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package testcase holds the metadata the fuzzing service recorded for a
// crash: the job it ran under, the revision, the target arguments and the
// environment recovered from the recorded stacktrace.
package testcase

import (
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"
)

// Testcase is the parsed metadata of one recorded crash.
type Testcase struct {
	ID              string
	JobName         string
	Revision        string
	BuildURL        string
	AbsolutePath    string
	StacktraceLines []string
	CrashType       string
	CrashState      string
	// Raw metadata recorded by the server, used to disambiguate
	// unknown job names.
	Sanitizer string
	Platform  string
	// The tool warns about these but proceeds.
	OneTimeCrasher bool
	Gestures       bool
	// gn args recorded at build time, if any.
	GNArgs string

	// Derived from StacktraceLines, see Parse.
	Environment      map[string]string
	ReproductionArgs string

	// Path of the downloaded testcase file on local disk.
	LocalPath string
}

const (
	envMarker = "[Environment] "
	cmdMarker = "Running command: "
)

// Parse recovers the reproduction environment and arguments from the
// recorded stacktrace lines. *_OPTIONS variables are forced to
// symbolize=1 so the local run produces a readable report.
func (tc *Testcase) Parse() {
	tc.Environment = make(map[string]string)
	for _, line := range tc.StacktraceLines {
		line = html.UnescapeString(line)
		switch {
		case strings.Contains(line, envMarker):
			line = line[strings.Index(line, envMarker)+len(envMarker):]
			name, value, ok := strings.Cut(line, " = ")
			if !ok {
				continue
			}
			if strings.Contains(name, "_OPTIONS") {
				value = sanitizeOptions(value)
			}
			tc.Environment[name] = value
		case strings.Contains(line, cmdMarker):
			fields := strings.Fields(line[strings.Index(line, cmdMarker)+len(cmdMarker):])
			// Strip off the binary and the trailing testcase path.
			if len(fields) >= 2 {
				tc.ReproductionArgs = strings.Join(fields[1:len(fields)-1], " ")
			}
		}
	}
}

// sanitizeOptions rewrites a recorded *_OPTIONS value for a local run:
// symbolization is forced on and bot-only paths (coverage output) are
// dropped.
func sanitizeOptions(value string) string {
	var opts []string
	for _, opt := range strings.Split(value, ":") {
		switch {
		case opt == "symbolize=0":
			opt = "symbolize=1"
		case strings.HasPrefix(opt, "coverage_dir="):
			continue
		}
		opts = append(opts, opt)
	}
	value = strings.Join(opts, ":")
	if !strings.Contains(value, "symbolize=1") {
		value += ":symbolize=1"
	}
	return value
}

// BinaryName recovers the target binary name from the recorded
// "Running command:" stacktrace line.
func (tc *Testcase) BinaryName() (string, error) {
	for _, line := range tc.StacktraceLines {
		idx := strings.Index(line, cmdMarker)
		if idx == -1 {
			continue
		}
		fields := strings.Fields(line[idx+len(cmdMarker):])
		if len(fields) == 0 {
			continue
		}
		return filepath.Base(fields[0]), nil
	}
	return "", fmt.Errorf("the stacktrace of testcase %v does not contain a %q line",
		tc.ID, cmdMarker)
}

// FirstStacktrace returns the first recorded stacktrace; testcases that
// crashed several times carry multiple stacktraces separated by +---- rulers,
// and only the first one corresponds to the recorded crash state.
func (tc *Testcase) FirstStacktrace() []string {
	var out []string
	for _, line := range tc.StacktraceLines {
		line = strings.TrimRight(stripAnchors(html.UnescapeString(line)), " \t")
		if strings.HasPrefix(line, "+----") && len(out) != 0 {
			break
		}
		if len(out) != 0 || line != "" {
			out = append(out, line)
		}
	}
	return out
}

var anchorRe = regexp.MustCompile(`<[/a][^<]+?>`)

func stripAnchors(line string) string {
	return anchorRe.ReplaceAllString(line, "")
}

// FileExtension returns the extension of the recorded testcase path
// (with the leading dot), or "" if it has none.
func (tc *Testcase) FileExtension() string {
	return filepath.Ext(tc.AbsolutePath)
}
