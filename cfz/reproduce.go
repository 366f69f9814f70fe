// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
	"github.com/google/clusterfuzz-tools/pkg/repro"
	"github.com/google/clusterfuzz-tools/pkg/vcs"
)

var reproduceFlags struct {
	current              bool
	revision             string
	mode                 string
	job                  string
	iterations           int
	timeout              time.Duration
	stopOnFirstCrash     bool
	gomaThreads          int
	disableGoma          bool
	disableGclient       bool
	enableDebug          bool
	editMode             bool
	disableXvfb          bool
	targetArgs           []string
	expectUnreproducible bool
}

var reproduceCmd = &cobra.Command{
	Use:   "reproduce <testcase-id>",
	Short: "build the testcase's target and run it against the testcase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReproduce(cmd.Context(), args[0])
	},
}

func init() {
	f := reproduceCmd.Flags()
	f.BoolVar(&reproduceFlags.current, "current", false,
		"use the source tree as currently checked out, no sync")
	f.StringVar(&reproduceFlags.revision, "revision", "",
		"build at this commit instead of the testcase's recorded revision")
	f.StringVar(&reproduceFlags.mode, "build", string(jobs.ModeStandalone),
		"how to obtain the binary: download, chromium or standalone")
	f.StringVar(&reproduceFlags.job, "job", "",
		"override the job recorded with the testcase")
	f.IntVarP(&reproduceFlags.iterations, "iterations", "n", 3,
		"number of reproduction runs")
	f.DurationVar(&reproduceFlags.timeout, "timeout", 0,
		"per-run time limit (default 10m)")
	f.BoolVar(&reproduceFlags.stopOnFirstCrash, "stop-on-first-crash", false,
		"stop iterating after the first run that crashes")
	f.IntVarP(&reproduceFlags.gomaThreads, "goma-threads", "j", 0,
		"number of concurrent compile jobs (default derived from CPU count)")
	f.BoolVar(&reproduceFlags.disableGoma, "disable-goma", false,
		"compile locally even if goma is installed")
	f.BoolVar(&reproduceFlags.disableGclient, "disable-gclient", false,
		"skip gclient sync/runhooks after checkout")
	f.BoolVar(&reproduceFlags.enableDebug, "enable-debug", false,
		"build with symbols and run the target under gdb")
	f.BoolVar(&reproduceFlags.editMode, "edit-mode", false,
		"open generated build arguments in $EDITOR before compiling")
	f.BoolVar(&reproduceFlags.disableXvfb, "disable-xvfb", false,
		"run browser targets on the real display")
	f.StringArrayVar(&reproduceFlags.targetArgs, "target-args", nil,
		"extra arguments passed to the target (repeatable)")
	f.BoolVar(&reproduceFlags.expectUnreproducible, "expect-unreproducible", false,
		"invert the exit code: succeed when the crash does not reproduce")
	rootCmd.AddCommand(reproduceCmd)
}

func runReproduce(ctx context.Context, testcaseID string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()
	table, err := loadTable()
	if err != nil {
		return err
	}
	req := &repro.Request{
		TestcaseID:       testcaseID,
		Job:              reproduceFlags.job,
		Mode:             jobs.Mode(reproduceFlags.mode),
		Current:          reproduceFlags.current,
		Revision:         reproduceFlags.revision,
		Iterations:       reproduceFlags.iterations,
		Timeout:          reproduceFlags.timeout,
		StopOnFirstCrash: reproduceFlags.stopOnFirstCrash,
		GomaThreads:      reproduceFlags.gomaThreads,
		EnableDebug:      reproduceFlags.enableDebug,
		EditMode:         reproduceFlags.editMode,
		DisableXvfb:      reproduceFlags.disableXvfb,
		TargetArgs:       reproduceFlags.targetArgs,
	}
	switch req.Mode {
	case jobs.ModeDownload, jobs.ModeChromium, jobs.ModeStandalone:
	default:
		return fmt.Errorf("unknown --build mode %q", req.Mode)
	}
	if !reproduceFlags.disableGoma {
		req.GomaDir = gomaDir()
	}
	prov := vcs.NewProvisioner(sourceRoots())
	prov.DisableGclient = reproduceFlags.disableGclient
	deps := &repro.Deps{
		Table:       table,
		Service:     newAPIService(serverAddr),
		Provisioner: prov,
		Edit:        editInEditor,
		Workdir:     workdir,
	}
	verdict, err := repro.Reproduce(ctx, req, deps)
	if err != nil {
		return err
	}
	printVerdict(verdict)
	reproduced := verdict.Reproduced
	if reproduceFlags.expectUnreproducible {
		reproduced = !reproduced
	}
	if verdict.Aborted {
		return fmt.Errorf("all runs failed before reaching the target, verdict inconclusive")
	}
	if !reproduced {
		os.Exit(1)
	}
	return nil
}

func printVerdict(v *repro.Verdict) {
	status := "did NOT reproduce"
	if v.Reproduced {
		status = "REPRODUCED"
	}
	fmt.Printf("testcase %v (%v): %v [%v/%v runs crashed",
		v.Testcase.ID, v.Config.Job, status, v.Crashes, len(v.Results))
	if v.ToolErrors > 0 {
		fmt.Printf(", %v tool errors", v.ToolErrors)
	}
	fmt.Printf("]\n")
	if v.Testcase.CrashType != "" {
		fmt.Printf("expected crash: %v / %v\n", v.Testcase.CrashType, v.Testcase.CrashState)
	}
}

func gomaDir() string {
	if dir := os.Getenv("GOMA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, "goma")
	if osutil.IsDir(dir) {
		return dir
	}
	return ""
}

// sourceRoots picks up checkout locations from the conventional
// environment variables (CHROMIUM_SRC, V8_SRC, PDFIUM_SRC).
func sourceRoots() map[jobs.Source]string {
	roots := make(map[jobs.Source]string)
	for _, src := range []jobs.Source{jobs.SourceChromium, jobs.SourceV8, jobs.SourcePdfium} {
		if dir := os.Getenv(vcs.SourceRootEnv(src)); dir != "" {
			roots[src] = osutil.Abs(dir)
		}
	}
	return roots
}
