// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package repro

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/google/clusterfuzz-tools/pkg/build"
	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
	"github.com/google/clusterfuzz-tools/pkg/testcase"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) GetTestcase(ctx context.Context, id string) (*testcase.Testcase, error) {
	args := m.Called(ctx, id)
	tc, _ := args.Get(0).(*testcase.Testcase)
	return tc, args.Error(1)
}

func (m *mockService) DownloadTestcase(ctx context.Context, tc *testcase.Testcase,
	destDir string) (string, error) {
	args := m.Called(ctx, tc, destDir)
	return args.String(0), args.Error(1)
}

func (m *mockService) DownloadBuild(ctx context.Context, buildURL, destDir string) error {
	return m.Called(ctx, buildURL, destDir).Error(0)
}

func downloadTestcase(t *testing.T) *testcase.Testcase {
	return &testcase.Testcase{
		ID:       "4242",
		JobName:  "linux_asan_d8",
		Revision: "123456",
		BuildURL: "gs://builds/d8-rev.zip",
		StacktraceLines: []string{
			"[Environment] ASAN_OPTIONS = symbolize=1",
			"Running command: /build/d8 --expose-gc /inputs/fuzz.js",
		},
	}
}

// setupMocks wires the service mock for testcase 4242 against a fixed
// workdir, so the download paths are known up front.
func setupMocks(t *testing.T, svc *mockService, tc *testcase.Testcase,
	workdir string, binaryMode os.FileMode) {
	tcDir := filepath.Join(workdir, tc.ID)
	tcPath := filepath.Join(tcDir, "testcase.js")
	buildDir := filepath.Join(tcDir, "build")
	svc.On("GetTestcase", mock.Anything, tc.ID).Return(tc, nil)
	svc.On("DownloadTestcase", mock.Anything, tc, tcDir).
		Run(func(args mock.Arguments) {
			require.NoError(t, os.WriteFile(tcPath, []byte("crash();"), 0644))
		}).
		Return(tcPath, nil)
	svc.On("DownloadBuild", mock.Anything, tc.BuildURL, buildDir).
		Run(func(args mock.Arguments) {
			require.NoError(t, os.WriteFile(filepath.Join(buildDir, "d8"),
				[]byte("#!/bin/true\n"), binaryMode))
		}).
		Return(nil)
}

func TestReproduceDownloadMode(t *testing.T) {
	tc := downloadTestcase(t)
	svc := new(mockService)
	workdir := t.TempDir()
	setupMocks(t, svc, tc, workdir, 0755)

	crashes := 0
	execFn := func(ctx context.Context, timeout time.Duration, cmd *exec.Cmd) ([]byte, error) {
		crashes++
		return []byte("==1==ERROR: AddressSanitizer: heap-use-after-free\n"),
			&osutil.VerboseError{Title: "failed", ExitCode: 1}
	}
	deps := &Deps{
		Table:   jobs.DefaultTable(),
		Service: svc,
		Workdir: workdir,
		Exec:    execFn,
	}
	req := &Request{TestcaseID: "4242", Mode: jobs.ModeDownload, Iterations: 3}

	verdict, err := Reproduce(context.Background(), req, deps)
	require.NoError(t, err)
	assert.True(t, verdict.Reproduced)
	assert.False(t, verdict.Aborted)
	assert.Equal(t, 3, verdict.Crashes)
	assert.Equal(t, 3, crashes)
	assert.Equal(t, "linux_asan_d8", verdict.Config.Job)
	// The recorded command line was recovered from the stacktrace.
	assert.Equal(t, "--expose-gc", verdict.Testcase.ReproductionArgs)
	svc.AssertExpectations(t)
}

func TestReproduceMissingArtifactAborts(t *testing.T) {
	// A build archive without the expected binary must fail before any
	// reproduction run happens.
	tc := downloadTestcase(t)
	svc := new(mockService)
	workdir := t.TempDir()
	setupMocks(t, svc, tc, workdir, 0644) // present but not executable

	ran := false
	deps := &Deps{
		Table:   jobs.DefaultTable(),
		Service: svc,
		Workdir: workdir,
		Exec: func(ctx context.Context, timeout time.Duration, cmd *exec.Cmd) ([]byte, error) {
			ran = true
			return nil, nil
		},
	}
	req := &Request{TestcaseID: "4242", Mode: jobs.ModeDownload, Iterations: 3}

	_, err := Reproduce(context.Background(), req, deps)
	var notFound *build.ArtifactNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.False(t, ran)
}

func TestReproduceAllToolErrors(t *testing.T) {
	tc := downloadTestcase(t)
	svc := new(mockService)
	workdir := t.TempDir()
	setupMocks(t, svc, tc, workdir, 0755)

	deps := &Deps{
		Table:   jobs.DefaultTable(),
		Service: svc,
		Workdir: workdir,
		Exec: func(ctx context.Context, timeout time.Duration, cmd *exec.Cmd) ([]byte, error) {
			return []byte("d8: error while loading shared libraries: libc++.so\n"),
				&osutil.VerboseError{Title: "failed", ExitCode: 127}
		},
	}
	req := &Request{TestcaseID: "4242", Mode: jobs.ModeDownload, Iterations: 2}

	verdict, err := Reproduce(context.Background(), req, deps)
	require.NoError(t, err)
	assert.False(t, verdict.Reproduced)
	// All runs failed before reaching the target, the verdict is void.
	assert.True(t, verdict.Aborted)
	assert.Equal(t, 2, verdict.ToolErrors)
}

func TestReproduceNoBuildURL(t *testing.T) {
	tc := downloadTestcase(t)
	tc.BuildURL = ""
	svc := new(mockService)
	workdir := t.TempDir()
	tcPath := filepath.Join(workdir, tc.ID, "testcase.js")
	svc.On("GetTestcase", mock.Anything, tc.ID).Return(tc, nil)
	svc.On("DownloadTestcase", mock.Anything, tc, filepath.Join(workdir, tc.ID)).
		Run(func(args mock.Arguments) {
			require.NoError(t, os.WriteFile(tcPath, []byte("x"), 0644))
		}).
		Return(tcPath, nil)

	deps := &Deps{Table: jobs.DefaultTable(), Service: svc, Workdir: workdir}
	req := &Request{TestcaseID: "4242", Mode: jobs.ModeDownload}

	_, err := Reproduce(context.Background(), req, deps)
	assert.ErrorContains(t, err, "no prebuilt binary")
}

func TestReproduceSanitizerFromMetadata(t *testing.T) {
	// A job name carrying no sanitizer token resolves via the sanitizer
	// the server recorded with the testcase.
	tc := downloadTestcase(t)
	tc.JobName = "linux_experimental_d8_variant"
	tc.Sanitizer = "MSAN"
	svc := new(mockService)
	workdir := t.TempDir()
	setupMocks(t, svc, tc, workdir, 0755)

	deps := &Deps{
		Table:   jobs.DefaultTable(),
		Service: svc,
		Workdir: workdir,
		Exec: func(ctx context.Context, timeout time.Duration, cmd *exec.Cmd) ([]byte, error) {
			return []byte("fine\n"), nil
		},
	}
	req := &Request{TestcaseID: "4242", Mode: jobs.ModeDownload, Iterations: 1}

	verdict, err := Reproduce(context.Background(), req, deps)
	require.NoError(t, err)
	assert.Equal(t, jobs.MSAN, verdict.Config.Sanitizer)
	assert.False(t, verdict.Config.InferredField("sanitizer"))
}

func TestDownloadedGNArgs(t *testing.T) {
	tc := downloadTestcase(t)
	workdir := t.TempDir()
	destDir := filepath.Join(workdir, "prebuilt")
	svc := new(mockService)
	svc.On("DownloadBuild", mock.Anything, tc.BuildURL, destDir).
		Run(func(args mock.Arguments) {
			require.NoError(t, os.WriteFile(filepath.Join(destDir, "args.gn"),
				[]byte("is_asan = true\n"), 0644))
		}).
		Return(nil).
		Once()

	// First call fetches the prebuilt build.
	got := downloadedGNArgs(context.Background(), svc, tc, workdir)
	assert.Equal(t, "is_asan = true\n", got)
	// Second call reuses the unpacked archive.
	got = downloadedGNArgs(context.Background(), svc, tc, workdir)
	assert.Equal(t, "is_asan = true\n", got)
	svc.AssertExpectations(t)
}

func TestDownloadedGNArgsFetchFailure(t *testing.T) {
	tc := downloadTestcase(t)
	workdir := t.TempDir()
	svc := new(mockService)
	svc.On("DownloadBuild", mock.Anything, tc.BuildURL, mock.Anything).
		Return(fmt.Errorf("status 500"))

	// A dead archive degrades to the job's default gn args.
	assert.Empty(t, downloadedGNArgs(context.Background(), svc, tc, workdir))
}

func TestReproduceJobOverride(t *testing.T) {
	tc := downloadTestcase(t)
	svc := new(mockService)
	workdir := t.TempDir()
	setupMocks(t, svc, tc, workdir, 0755)

	deps := &Deps{
		Table:   jobs.DefaultTable(),
		Service: svc,
		Workdir: workdir,
		Exec: func(ctx context.Context, timeout time.Duration, cmd *exec.Cmd) ([]byte, error) {
			return []byte("fine\n"), nil
		},
	}
	req := &Request{
		TestcaseID: "4242",
		Job:        "linux_asan_d8_dbg",
		Mode:       jobs.ModeDownload,
		Iterations: 1,
	}

	verdict, err := Reproduce(context.Background(), req, deps)
	require.NoError(t, err)
	assert.Equal(t, "linux_asan_d8_dbg", verdict.Config.Job)
	assert.False(t, verdict.Reproduced)
}
