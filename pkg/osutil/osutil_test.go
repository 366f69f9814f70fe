// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCmd(t *testing.T) {
	output, err := RunCmd(context.Background(), time.Minute, "", "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(output))
}

func TestRunCmdFailure(t *testing.T) {
	output, err := RunCmd(context.Background(), time.Minute, "", "sh", "-c",
		"echo oops; exit 3")
	var verr *VerboseError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 3, verr.ExitCode)
	assert.False(t, verr.TimedOut)
	assert.Contains(t, string(output), "oops")
	// The error message carries the output for the final report.
	assert.Contains(t, verr.Error(), "oops")
}

func TestRunCmdStartFailure(t *testing.T) {
	_, err := RunCmd(context.Background(), time.Minute, "", "/nonexistent/binary")
	var verr *VerboseError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.StartFailed)
}

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	_, err := RunCmd(context.Background(), 100*time.Millisecond, "", "sleep", "30")
	var verr *VerboseError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.TimedOut)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := RunCmd(ctx, time.Minute, "", "sleep", "30")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrependContext(t *testing.T) {
	err := PrependContext("outer", &VerboseError{Title: "inner"})
	var verr *VerboseError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "outer: inner", verr.Title)

	plain := PrependContext("outer", errors.New("inner"))
	assert.EqualError(t, plain, "outer: inner")
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sub", "file")
	require.NoError(t, MkdirAll(filepath.Dir(file)))
	require.NoError(t, WriteFile(file, []byte("data")))
	assert.True(t, IsExist(file))
	assert.False(t, IsExecutable(file))
	assert.True(t, IsDir(dir))
	assert.False(t, IsDir(file))

	exe := filepath.Join(dir, "exe")
	require.NoError(t, WriteExecFile(exe, []byte("#!/bin/true\n")))
	assert.True(t, IsExecutable(exe))
}
