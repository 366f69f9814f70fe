// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/log"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
	"github.com/google/clusterfuzz-tools/pkg/vcs"
)

// makeBuilder compiles standalone (non-gn) targets with make, injecting
// sanitizer flags through the environment.
type makeBuilder struct{}

func (mk *makeBuilder) Build(ctx context.Context, cfg *jobs.Config, tree *vcs.Tree,
	opts *Options) (*Artifact, error) {
	target := cfg.Target
	if target == "" {
		target = cfg.Binary
	}
	log.Logf(1, "building %v with make in %v", target, tree.Dir)
	cmd := osutil.Command("make", "-j", fmt.Sprint(CompileCores(opts.GomaThreads, false)), target)
	cmd.Dir = tree.Dir
	cmd.Env = append(os.Environ(), sanitizerMakeEnv(cfg.Sanitizer, opts.EnableDebug)...)
	output, err := osutil.Run(ctx, 0, cmd)
	if err != nil {
		return nil, &CompileError{
			Cause:  extractCompileCause(output, tree.Dir),
			Output: output,
		}
	}
	binary := filepath.Join(tree.Dir, cfg.Binary)
	if !osutil.IsExecutable(binary) {
		return nil, &ArtifactNotFoundError{Path: binary}
	}
	return &Artifact{Dir: tree.Dir, Binary: binary, SourceDir: tree.Dir}, nil
}

// sanitizerMakeEnv translates a sanitizer selection into the compiler
// flag environment standalone makefiles conventionally honor.
func sanitizerMakeEnv(san jobs.Sanitizer, debug bool) []string {
	var parts []string
	switch san {
	case jobs.ASAN:
		parts = append(parts, "-fsanitize=address")
	case jobs.MSAN:
		parts = append(parts, "-fsanitize=memory", "-fsanitize-memory-track-origins")
	case jobs.UBSAN:
		parts = append(parts, "-fsanitize=undefined", "-fno-sanitize-recover=undefined")
	case jobs.LSAN:
		parts = append(parts, "-fsanitize=leak")
	case jobs.TSAN:
		parts = append(parts, "-fsanitize=thread")
	case jobs.CFI:
		parts = append(parts, "-fsanitize=cfi", "-flto")
	}
	if debug {
		parts = append(parts, "-g", "-O1")
	}
	if len(parts) == 0 {
		return nil
	}
	flags := strings.Join(parts, " ")
	return []string{
		"SANITIZER_FLAGS=" + flags,
		"CFLAGS=" + flags + " -fno-omit-frame-pointer",
		"CXXFLAGS=" + flags + " -fno-omit-frame-pointer",
		"CC=clang", "CXX=clang++",
	}
}
