// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/log"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
	"github.com/google/clusterfuzz-tools/pkg/vcs"
)

const (
	configureTimeout = 10 * time.Minute
	hookTimeout      = time.Hour
)

// gnBuilder drives gn gen + ninja inside a chromium-style checkout.
type gnBuilder struct{}

func (gn *gnBuilder) Build(ctx context.Context, cfg *jobs.Config, tree *vcs.Tree,
	opts *Options) (*Artifact, error) {
	outDir := OutDir(tree.Dir, opts.TestcaseID)
	if err := osutil.MkdirAll(outDir); err != nil {
		return nil, err
	}
	args := gnArgs(cfg, opts)
	if opts.EditMode && opts.Edit != nil {
		edited, err := opts.Edit([]byte(SerializeGNArgs(args)),
			"edit build arguments, then save and close the editor")
		if err != nil {
			return nil, err
		}
		args = DeserializeGNArgs(string(edited))
	}
	if !opts.DisableHooks && !opts.CurrentTree {
		if err := gn.preBuild(ctx, cfg, tree, opts); err != nil {
			return nil, err
		}
	}
	serialized := SerializeGNArgs(args)
	log.Logf(1, "building %v in %v with args:\n%v", cfg.Binary, outDir, serialized)
	if err := osutil.WriteFile(filepath.Join(outDir, "args.gn"), []byte(serialized)); err != nil {
		return nil, err
	}
	genArgs := []string{"gen", outDir}
	// pdfium's gn tree does not pass --check cleanly.
	if cfg.Source != jobs.SourcePdfium {
		genArgs = append(genArgs, "--check")
	}
	if output, err := osutil.RunCmd(ctx, configureTimeout, tree.Dir,
		"gn", genArgs...); err != nil {
		return nil, &ConfigureError{Output: output, Err: err}
	}
	target := cfg.Target
	if target == "" {
		target = cfg.Binary
	}
	cores := CompileCores(opts.GomaThreads, opts.GomaDir != "")
	ninjaArgs := []string{"-w", "dupbuild=err", "-C", outDir,
		"-j", fmt.Sprint(cores), "-l", "15", target}
	// Compilation gets no wall clock limit, only ctx cancellation;
	// full chromium builds legitimately run for hours.
	output, err := osutil.RunCmd(ctx, 0, tree.Dir, "ninja", ninjaArgs...)
	if err != nil {
		return nil, &CompileError{
			Cause:  extractCompileCause(output, tree.Dir),
			Output: output,
		}
	}
	binary := filepath.Join(outDir, cfg.Binary)
	if !osutil.IsExecutable(binary) {
		return nil, &ArtifactNotFoundError{Path: binary}
	}
	return &Artifact{Dir: outDir, Binary: binary, SourceDir: tree.Dir}, nil
}

// preBuild runs the auxiliary steps some configurations need before
// gn gen will produce a working build.
func (gn *gnBuilder) preBuild(ctx context.Context, cfg *jobs.Config, tree *vcs.Tree,
	opts *Options) error {
	clangUpdate := filepath.Join(tree.Dir, "tools", "clang", "scripts", "update.py")
	if osutil.IsExist(clangUpdate) {
		if _, err := osutil.RunCmd(ctx, hookTimeout, tree.Dir,
			"python", clangUpdate); err != nil {
			return osutil.PrependContext("clang update failed", err)
		}
	}
	switch cfg.Sanitizer {
	case jobs.MSAN:
		// MSan needs the instrumented system libraries, installed by a
		// runhooks pass with the right GYP defines.
		cmd := osutil.Command("gclient", "runhooks")
		cmd.Dir = tree.Dir
		cmd.Env = append(os.Environ(),
			"GYP_DEFINES=msan=1 use_instrumented_libraries=1 instrumented_libraries_jobs=10")
		if output, err := osutil.Run(ctx, hookTimeout, cmd); err != nil {
			return osutil.PrependContext(fmt.Sprintf("instrumented libraries hooks failed:\n%s", output), err)
		}
	case jobs.CFI:
		dl := filepath.Join(tree.Dir, "build", "download_gold_plugin.py")
		if osutil.IsExist(dl) {
			if _, err := osutil.RunCmd(ctx, hookTimeout, tree.Dir, "python", dl); err != nil {
				return osutil.PrependContext("gold plugin download failed", err)
			}
		}
	}
	return nil
}

// OutDir names the build output directory for a testcase so builds of
// different testcases never clobber each other.
func OutDir(srcDir, testcaseID string) string {
	return filepath.Join(srcDir, "out", "clusterfuzz_"+testcaseID)
}

// gnArgs merges the configuration's build arguments with the arguments
// recorded alongside the testcase and the sanitizer/goma/debug knobs.
// Precedence, low to high: recorded args, job args, derived knobs.
func gnArgs(cfg *jobs.Config, opts *Options) map[string]string {
	args := DeserializeGNArgs(opts.RecordedGNArgs)
	for k, v := range cfg.GNArgs {
		args[k] = v
	}
	if opts.GomaDir != "" {
		args["use_goma"] = "true"
		args["goma_dir"] = fmt.Sprintf("%q", opts.GomaDir)
	} else {
		args["use_goma"] = "false"
		delete(args, "goma_dir")
	}
	if opts.EnableDebug {
		args["sanitizer_keep_symbols"] = "true"
		args["symbol_level"] = "2"
		// MSan builds misbehave with is_debug, keep them release.
		if cfg.Sanitizer != jobs.MSAN {
			args["is_debug"] = "true"
		}
	}
	return args
}

// SerializeGNArgs renders args.gn content with deterministic key order.
func SerializeGNArgs(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%v = %v\n", k, args[k])
	}
	return sb.String()
}

// DeserializeGNArgs parses args.gn content. Unparseable lines and
// comments are skipped, matching gn's own tolerance for what the
// testcase metadata may carry.
func DeserializeGNArgs(content string) map[string]string {
	args := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			continue
		}
		args[key] = val
	}
	return args
}

// CompileCores picks the ninja parallelism: an explicit thread count wins,
// goma sustains heavy overcommit, local builds stay below the CPU count.
func CompileCores(threads int, goma bool) int {
	if threads > 0 {
		return threads
	}
	cpus := runtime.NumCPU()
	if goma {
		return 50 * cpus
	}
	cores := 3 * cpus / 4
	if cores < 1 {
		cores = 1
	}
	return cores
}
