// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package repro

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/clusterfuzz-tools/pkg/build"
	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/log"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
	"github.com/google/clusterfuzz-tools/pkg/report"
	"github.com/google/clusterfuzz-tools/pkg/testcase"
	"github.com/google/clusterfuzz-tools/pkg/vcs"
)

// Service fetches testcase metadata and artifacts from the fuzzing
// infrastructure.
type Service interface {
	GetTestcase(ctx context.Context, id string) (*testcase.Testcase, error)
	// DownloadTestcase fetches the reproducer file into destDir and
	// returns its local path.
	DownloadTestcase(ctx context.Context, tc *testcase.Testcase, destDir string) (string, error)
	// DownloadBuild fetches and unpacks the prebuilt binary archive.
	DownloadBuild(ctx context.Context, buildURL, destDir string) error
}

// Request describes one end-to-end reproduction attempt.
type Request struct {
	TestcaseID string
	// Overrides the job recorded with the testcase.
	Job  string
	Mode jobs.Mode
	// Build the tree as currently checked out, no sync.
	Current  bool
	Revision string

	Iterations       int
	Timeout          time.Duration
	StopOnFirstCrash bool

	GomaDir     string
	GomaThreads int
	EnableDebug bool
	EditMode    bool
	DisableXvfb bool
	TargetArgs  []string
}

// Deps are the orchestrator's collaborators, injectable for tests.
type Deps struct {
	Table       *jobs.Table
	Service     Service
	Provisioner *vcs.Provisioner
	Edit        build.EditFunc
	// Root directory for per-testcase working state.
	Workdir string
	// Exec defaults to osutil.Run.
	Exec ExecFunc
}

// Verdict is the aggregated outcome of one Request.
type Verdict struct {
	Config     *jobs.Config
	Testcase   *testcase.Testcase
	Results    []Result
	Crashes    int
	ToolErrors int
	// At least one run reproduced the crash.
	Reproduced bool
	// Every run was a tool error, so the verdict says nothing about
	// the crash itself.
	Aborted bool
}

// Reproduce performs the whole pipeline: resolve the job, provision the
// source (or download the prebuilt binary), build, then run the iteration
// loop and aggregate.
func Reproduce(ctx context.Context, req *Request, deps *Deps) (*Verdict, error) {
	tc, err := deps.Service.GetTestcase(ctx, req.TestcaseID)
	if err != nil {
		return nil, err
	}
	tc.Parse()
	jobName := req.Job
	if jobName == "" {
		jobName = tc.JobName
	}
	cfg, err := deps.Table.ResolveJob(jobName, req.Mode, &jobs.Hints{
		Sanitizer: tc.Sanitizer,
		Platform:  tc.Platform,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Binary == "" {
		if cfg.Binary, err = tc.BinaryName(); err != nil {
			return nil, fmt.Errorf("job %v names no binary and the testcase has none either: %w",
				cfg.Job, err)
		}
	}
	log.Logf(0, "testcase %v: job %v (%v/%v, %v)",
		tc.ID, cfg.Job, cfg.Builder, cfg.Source, cfg.Sanitizer)
	if tc.OneTimeCrasher {
		log.Errorf("the service only reproduced this crash once, expect flaky results")
	}
	if tc.Gestures {
		log.Errorf("this crash needs recorded UI gestures, which are not replayed locally")
	}
	workdir := filepath.Join(deps.Workdir, req.TestcaseID)
	if err := osutil.MkdirAll(workdir); err != nil {
		return nil, err
	}
	if tc.LocalPath, err = deps.Service.DownloadTestcase(ctx, tc, workdir); err != nil {
		return nil, err
	}
	artifact, err := provideArtifact(ctx, req, deps, cfg, tc, workdir)
	if err != nil {
		return nil, err
	}
	runner := &Runner{
		Cfg:        cfg,
		Artifact:   artifact,
		Testcase:   tc,
		Classifier: report.NewClassifier(cfg.Sanitizer),
		Opts: RunOptions{
			Iterations:       req.Iterations,
			Timeout:          req.Timeout,
			StopOnFirstCrash: req.StopOnFirstCrash,
			EnableDebug:      req.EnableDebug,
			DisableXvfb:      req.DisableXvfb,
			TargetArgs:       req.TargetArgs,
		},
		Exec: deps.Exec,
	}
	results, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	verdict := &Verdict{
		Config:     cfg,
		Testcase:   tc,
		Results:    results,
		Crashes:    Crashes(results),
		ToolErrors: ToolErrors(results),
	}
	verdict.Reproduced = verdict.Crashes > 0
	verdict.Aborted = len(results) > 0 && verdict.ToolErrors == len(results)
	log.Logf(0, "%v of %v runs crashed", verdict.Crashes, len(results))
	return verdict, nil
}

func provideArtifact(ctx context.Context, req *Request, deps *Deps, cfg *jobs.Config,
	tc *testcase.Testcase, workdir string) (*build.Artifact, error) {
	if req.Mode == jobs.ModeDownload {
		if tc.BuildURL == "" {
			return nil, fmt.Errorf("testcase %v has no prebuilt binary to download", tc.ID)
		}
		return build.Download(ctx, cfg, tc.BuildURL, filepath.Join(workdir, "build"),
			deps.Service.DownloadBuild)
	}
	rev := vcs.Revision{Current: req.Current, Commit: req.Revision}
	if rev.Commit == "" {
		rev.Commit = tc.Revision
	}
	tree, err := deps.Provisioner.Provision(ctx, cfg, rev)
	if err != nil {
		return nil, err
	}
	builder, err := build.For(cfg)
	if err != nil {
		return nil, err
	}
	recorded := tc.GNArgs
	if recorded == "" && cfg.Builder != jobs.BuilderMake && tc.BuildURL != "" {
		recorded = downloadedGNArgs(ctx, deps.Service, tc, workdir)
	}
	opts := &build.Options{
		TestcaseID:     tc.ID,
		GomaDir:        req.GomaDir,
		GomaThreads:    req.GomaThreads,
		EnableDebug:    req.EnableDebug,
		EditMode:       req.EditMode,
		Edit:           deps.Edit,
		RecordedGNArgs: recorded,
		CurrentTree:    req.Current,
	}
	return builder.Build(ctx, cfg, tree, opts)
}

// downloadedGNArgs recovers the gn args the fuzzing bot built with from
// its prebuilt binary archive. Older testcases carry no gn args in their
// metadata, but the archive ships the args.gn it was generated from.
// Best effort: the local build proceeds on job defaults without it.
func downloadedGNArgs(ctx context.Context, svc Service, tc *testcase.Testcase,
	workdir string) string {
	destDir := filepath.Join(workdir, "prebuilt")
	argsFile := filepath.Join(destDir, "args.gn")
	if !osutil.IsExist(argsFile) {
		log.Logf(0, "testcase %v records no gn args, fetching them from the prebuilt build", tc.ID)
		if err := osutil.MkdirAll(destDir); err != nil {
			log.Errorf("failed to create %v: %v", destDir, err)
			return ""
		}
		if err := svc.DownloadBuild(ctx, tc.BuildURL, destDir); err != nil {
			log.Errorf("failed to fetch the prebuilt build: %v", err)
			return ""
		}
	}
	data, err := os.ReadFile(argsFile)
	if err != nil {
		log.Errorf("prebuilt build carries no args.gn: %v", err)
		return ""
	}
	return string(data)
}
