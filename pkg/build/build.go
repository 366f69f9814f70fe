// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package build compiles (or fetches) the target binary for a resolved job
// configuration. The build system variant is selected by the configuration;
// all variants produce a BuildArtifact consumed by the reproduction runner.
package build

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/vcs"
)

// Artifact is the compiled or downloaded binary plus its build directory.
// It is never mutated after creation.
type Artifact struct {
	Dir    string
	Binary string
	// Source tree the artifact was built from (empty for downloads).
	SourceDir  string
	Downloaded bool
}

// EditFunc lets the user modify generated build arguments before
// compilation (the interactive editor collaborator).
type EditFunc func(content []byte, comment string) ([]byte, error)

// Options are user-level knobs for one build.
type Options struct {
	// Tags the output directory so builds of different testcases coexist.
	TestcaseID string
	// Goma installation dir; empty disables remote compilation.
	GomaDir string
	// Parallel compile jobs; 0 derives from the local CPU count.
	GomaThreads int
	// Keep symbols / build debug where the sanitizer allows it.
	EnableDebug bool
	// Let the user edit generated build args before compiling.
	EditMode bool
	Edit     EditFunc
	// Skip auxiliary pre-build steps (clang update, instrumented-libraries
	// hooks, gold plugin download).
	DisableHooks bool
	// args.gn content recorded with the testcase or recovered from the
	// downloaded build; used when the tree has no better source of args.
	RecordedGNArgs string
	// The tree is used as-is (skips pre-build steps that modify it).
	CurrentTree bool
}

// Builder compiles the target binary for one build system family.
type Builder interface {
	Build(ctx context.Context, cfg *jobs.Config, tree *vcs.Tree, opts *Options) (*Artifact, error)
}

// For returns the builder for the configuration's build system family.
func For(cfg *jobs.Config) (Builder, error) {
	switch cfg.Builder {
	case jobs.BuilderGN, jobs.BuilderChromium:
		return &gnBuilder{}, nil
	case jobs.BuilderMake:
		return &makeBuilder{}, nil
	}
	return nil, fmt.Errorf("no builder for %q", cfg.Builder)
}

// ConfigureError is a configuration-time build failure (malformed build
// arguments, gn gen failure). Tool output is preserved verbatim.
type ConfigureError struct {
	Output []byte
	Err    error
}

func (err *ConfigureError) Error() string {
	if len(err.Output) == 0 {
		return fmt.Sprintf("build configuration failed: %v", err.Err)
	}
	return fmt.Sprintf("build configuration failed: %v\n%s", err.Err, err.Output)
}

func (err *ConfigureError) Unwrap() error {
	return err.Err
}

// CompileError is a non-zero exit from the compiler driver.
// Cause is the extracted headline; Output is the full tool output.
type CompileError struct {
	Cause  string
	Output []byte
}

func (err *CompileError) Error() string {
	if err.Cause == "" {
		return fmt.Sprintf("compilation failed\n%s", err.Output)
	}
	return fmt.Sprintf("compilation failed: %v\n%s", err.Cause, err.Output)
}

// ArtifactNotFoundError means the expected binary is absent or not
// executable after a build or download.
type ArtifactNotFoundError struct {
	Path string
}

func (err *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("target binary %v is missing or not executable", err.Path)
}

// extractCompileCause digs the most relevant error lines out of compiler
// driver output for the error headline. The full output is always kept
// alongside; this only saves the user a scroll.
func extractCompileCause(output []byte, srcDir string) string {
	var stripPrefix []byte
	if srcDir != "" {
		stripPrefix = []byte(strings.TrimSuffix(srcDir, string(filepath.Separator)) +
			string(filepath.Separator))
	}
	weak := true
	var cause [][]byte
	dedup := make(map[string]bool)
	for _, line := range bytes.Split(output, []byte{'\n'}) {
		for _, pattern := range compileFailureCauses {
			// Once a strong cause is found, weak epilogue lines add nothing.
			if pattern.weak && !weak {
				continue
			}
			if !bytes.Contains(line, pattern.pattern) {
				continue
			}
			if !pattern.weak && weak {
				cause = nil
				dedup = make(map[string]bool)
			}
			weak = pattern.weak
			if dedup[string(line)] {
				break
			}
			dedup[string(line)] = true
			if stripPrefix != nil {
				line = bytes.ReplaceAll(line, stripPrefix, nil)
			}
			cause = append(cause, line)
			break
		}
	}
	const maxLines = 20
	if len(cause) > maxLines {
		cause = cause[:maxLines]
	}
	return string(bytes.Join(cause, []byte{'\n'}))
}

type compileFailureCause struct {
	pattern []byte
	weak    bool
}

var compileFailureCauses = [...]compileFailureCause{
	{pattern: []byte(": error: ")},
	{pattern: []byte("ERROR: ")},
	{pattern: []byte(": fatal error: ")},
	{pattern: []byte(": undefined reference to")},
	{pattern: []byte(": multiple definition of")},
	{pattern: []byte(": Permission denied")},
	{weak: true, pattern: []byte(": final link failed: ")},
	{weak: true, pattern: []byte("collect2: error: ")},
	{weak: true, pattern: []byte("ninja: build stopped")},
}
