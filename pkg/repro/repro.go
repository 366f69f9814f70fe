// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package repro runs a built target against a testcase the configured
// number of times and classifies each run, then aggregates the runs into
// an overall reproduction verdict.
package repro

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/google/clusterfuzz-tools/pkg/build"
	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/log"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
	"github.com/google/clusterfuzz-tools/pkg/report"
	"github.com/google/clusterfuzz-tools/pkg/testcase"
)

const defaultRunTimeout = 10 * time.Minute

// Placeholders recognized in recorded reproduction arguments.
const (
	testcaseToken = "%TESTCASE%"
	appDirToken   = "%APP_DIR%"
)

// RunOptions are user-level knobs for the iteration loop.
type RunOptions struct {
	// Number of runs; every run produces exactly one Result.
	Iterations int
	// Per-run wall clock limit; a run that exceeds it is a tool error.
	Timeout time.Duration
	// Stop after the first run that reproduces the crash.
	StopOnFirstCrash bool
	// Run the target under gdb with inherited stdio (single run).
	EnableDebug bool
	// Run browser targets on the real display instead of a virtual one.
	DisableXvfb bool
	// Extra arguments appended after the recorded ones.
	TargetArgs []string
}

// Result is the outcome of one run.
type Result struct {
	Verdict  report.Verdict
	Output   []byte
	Duration time.Duration
	// Execution-level failure details for tool errors.
	Err error
}

// ExecFunc runs one prepared command, for tests to intercept.
type ExecFunc func(ctx context.Context, timeout time.Duration, cmd *exec.Cmd) ([]byte, error)

// DisplayFunc acquires a virtual display, for tests to intercept.
type DisplayFunc func(ctx context.Context) (*Display, error)

// Runner executes the reproduction loop for one built artifact.
type Runner struct {
	Cfg        *jobs.Config
	Artifact   *build.Artifact
	Testcase   *testcase.Testcase
	Classifier *report.Classifier
	Opts       RunOptions

	// Exec defaults to osutil.Run.
	Exec ExecFunc
	// Display defaults to StartDisplay.
	Display DisplayFunc
}

// Run performs the iteration loop. It returns one Result per completed
// run; the slice is shorter than Iterations only when the context is
// canceled or StopOnFirstCrash fires.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	iters := r.Opts.Iterations
	if iters <= 0 {
		iters = 1
	}
	timeout := r.Opts.Timeout
	if timeout == 0 {
		timeout = defaultRunTimeout
	}
	run := r.Exec
	if run == nil {
		run = osutil.Run
	}
	if r.Opts.EnableDebug {
		// Debugging is interactive, there is nothing to gain from repeating.
		iters = 1
		timeout = 0
	}
	startDisplay := r.Display
	if startDisplay == nil {
		startDisplay = StartDisplay
	}
	needDisplay := r.Cfg.Reproducer == jobs.ReproducerChrome && !r.Opts.DisableXvfb && !r.Opts.EnableDebug
	baseEnv := r.baseEnv()
	baseArgs := r.args()
	var results []Result
	for i := 0; i < iters; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		args := baseArgs
		var profileDir string
		if r.Cfg.RequireUserDataDir {
			profileDir = filepath.Join(os.TempDir(), "clusterfuzz-profile-"+uuid.NewString())
			args = append(append([]string(nil), args...), "--user-data-dir="+profileDir)
		}
		// Every run gets a fresh display so that a crashed or wedged
		// browser cannot poison the next one.
		env := baseEnv
		var display *Display
		if needDisplay {
			var err error
			display, err = startDisplay(ctx)
			if err != nil {
				log.Errorf("virtual display unavailable, using the real one: %v", err)
				display = nil
			} else {
				env = append(append([]string(nil), baseEnv...), display.Env())
			}
		}
		log.Logf(1, "run %v/%v: %v %v", i+1, iters, r.Artifact.Binary, strings.Join(args, " "))
		res := r.runOnce(ctx, run, timeout, args, env)
		if display != nil {
			display.Close()
		}
		if profileDir != "" {
			os.RemoveAll(profileDir)
		}
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			return results, res.Err
		}
		log.Logf(1, "run %v/%v: %v", i+1, iters, res.Verdict)
		results = append(results, res)
		if r.Opts.StopOnFirstCrash && res.Verdict == report.Crash {
			break
		}
	}
	return results, nil
}

func (r *Runner) runOnce(ctx context.Context, run ExecFunc, timeout time.Duration,
	args, env []string) Result {
	var cmd *exec.Cmd
	if r.Opts.EnableDebug {
		gdbArgs := append([]string{
			"-ex", "b __sanitizer::Die",
			"-ex", "run",
			"--args", r.Artifact.Binary,
		}, args...)
		cmd = osutil.Command("gdb", gdbArgs...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd = osutil.Command(r.Artifact.Binary, args...)
	}
	cmd.Dir = r.Artifact.Dir
	cmd.Env = env
	start := time.Now()
	output, err := run(ctx, timeout, cmd)
	res := Result{Output: output, Duration: time.Since(start), Err: err}
	var exit report.ExitStatus
	if err != nil {
		var verr *osutil.VerboseError
		if errors.As(err, &verr) {
			exit = report.ExitStatus{
				Code:        verr.ExitCode,
				Signaled:    verr.ExitCode < 0,
				StartFailed: verr.StartFailed,
				TimedOut:    verr.TimedOut,
			}
		} else {
			// Context errors propagate to the caller, anything else is
			// an execution failure.
			res.Verdict = report.ToolError
			return res
		}
	}
	res.Verdict = r.Classifier.Classify(exit, output)
	return res
}

// args assembles the target's command line from the recorded reproduction
// arguments, placeholder substitution and the extras, and appends the
// testcase path.
func (r *Runner) args() []string {
	var args []string
	for _, arg := range strings.Fields(r.Testcase.ReproductionArgs) {
		args = append(args, r.substitute(arg))
	}
	if r.Cfg.Reproducer == jobs.ReproducerLibfuzzer {
		args = rewriteDictPath(args, r.Artifact.Dir)
	}
	for _, arg := range r.Opts.TargetArgs {
		args = append(args, r.substitute(arg))
	}
	if !containsArg(args, r.Testcase.LocalPath) {
		args = append(args, r.Testcase.LocalPath)
	}
	return args
}

func (r *Runner) substitute(arg string) string {
	arg = strings.ReplaceAll(arg, testcaseToken, r.Testcase.LocalPath)
	arg = strings.ReplaceAll(arg, appDirToken, r.Artifact.Dir)
	return arg
}

func containsArg(args []string, val string) bool {
	if val == "" {
		return true
	}
	for _, arg := range args {
		if arg == val || strings.Contains(arg, val) {
			return true
		}
	}
	return false
}

// rewriteDictPath points -dict= at the copy shipped next to the fuzz
// target. Recorded paths come from the fuzzing bot and do not exist here.
func rewriteDictPath(args []string, buildDir string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if val, ok := strings.CutPrefix(arg, "-dict="); ok {
			local := filepath.Join(buildDir, filepath.Base(val))
			if osutil.IsExist(local) {
				arg = "-dict=" + local
			} else {
				// No local dictionary, better to drop the flag than to
				// fail the run on a bot-only path.
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}

// baseEnv layers the testcase's recorded environment (sanitizer options
// and friends) over the current process environment.
func (r *Runner) baseEnv() []string {
	env := os.Environ()
	for k, v := range r.Testcase.Environment {
		env = append(env, fmt.Sprintf("%v=%v", k, v))
	}
	if r.Artifact.SourceDir != "" {
		symbolizer := filepath.Join(r.Artifact.SourceDir,
			"third_party", "llvm-build", "Release+Asserts", "bin", "llvm-symbolizer")
		if osutil.IsExecutable(symbolizer) {
			env = append(env, "ASAN_SYMBOLIZER_PATH="+symbolizer,
				"MSAN_SYMBOLIZER_PATH="+symbolizer,
				"UBSAN_SYMBOLIZER_PATH="+symbolizer)
		}
	}
	return env
}

// Crashes counts the runs that reproduced the crash.
func Crashes(results []Result) int {
	n := 0
	for _, res := range results {
		if res.Verdict == report.Crash {
			n++
		}
	}
	return n
}

// ToolErrors counts the runs that failed to execute the target.
func ToolErrors(results []Result) int {
	n := 0
	for _, res := range results {
		if res.Verdict == report.ToolError {
			n++
		}
	}
	return n
}
