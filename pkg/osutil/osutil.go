// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package osutil contains helpers for running external tools (git, gclient, gn,
// ninja, target binaries) and for common file operations.
package osutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	DefaultDirPerm  = 0755
	DefaultFilePerm = 0644
	DefaultExecPerm = 0755
)

// RunCmd runs "bin args..." in dir with timeout and returns its combined output.
func RunCmd(ctx context.Context, timeout time.Duration, dir, bin string, args ...string) ([]byte, error) {
	cmd := Command(bin, args...)
	cmd.Dir = dir
	return Run(ctx, timeout, cmd)
}

// Run runs cmd with the specified timeout and honors ctx cancellation.
// Returns combined output. If the command fails, err is a *VerboseError
// that includes the full output.
func Run(ctx context.Context, timeout time.Duration, cmd *exec.Cmd) ([]byte, error) {
	output := new(bytes.Buffer)
	if cmd.Stdout == nil {
		cmd.Stdout = output
	}
	if cmd.Stderr == nil {
		cmd.Stderr = output
	}
	if err := cmd.Start(); err != nil {
		return nil, &VerboseError{
			Title:       fmt.Sprintf("failed to start %v %+v: %v", cmd.Path, cmd.Args, err),
			StartFailed: true,
		}
	}
	done := make(chan bool)
	timedout := make(chan bool, 1)
	var timerC <-chan time.Time
	if timeout != 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}
	go func() {
		select {
		case <-timerC:
			timedout <- true
			killPgroup(cmd)
			cmd.Process.Kill()
		case <-ctx.Done():
			timedout <- false
			killPgroup(cmd)
			cmd.Process.Kill()
		case <-done:
			timedout <- false
		}
	}()
	err := cmd.Wait()
	close(done)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return output.Bytes(), ctxErr
		}
		verr := &VerboseError{
			Title:  fmt.Sprintf("failed to run %q: %v", cmd.Args, err),
			Output: output.Bytes(),
		}
		if <-timedout {
			verr.Title = fmt.Sprintf("timedout %q", cmd.Args)
			verr.TimedOut = true
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			verr.ExitCode = exitErr.ExitCode()
		}
		return output.Bytes(), verr
	}
	return output.Bytes(), nil
}

// Command is similar to os/exec.Command, but also puts the child into a new
// process group (so that the whole tree can be killed on timeout) and sets
// PDEATHSIG on linux.
func Command(bin string, args ...string) *exec.Cmd {
	cmd := exec.Command(bin, args...)
	setPdeathsig(cmd)
	return cmd
}

type VerboseError struct {
	Title       string
	Output      []byte
	ExitCode    int
	TimedOut    bool
	StartFailed bool
}

func (err *VerboseError) Error() string {
	if len(err.Output) == 0 {
		return err.Title
	}
	return fmt.Sprintf("%v\n%s", err.Title, err.Output)
}

func PrependContext(ctx string, err error) error {
	var verr *VerboseError
	if errors.As(err, &verr) {
		verr.Title = fmt.Sprintf("%v: %v", ctx, verr.Title)
		return verr
	}
	return fmt.Errorf("%v: %w", ctx, err)
}

// IsExist returns true if the file name exists.
func IsExist(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// IsExecutable returns true if the file exists and is executable by the owner.
func IsExecutable(name string) bool {
	info, err := os.Stat(name)
	return err == nil && !info.IsDir() && info.Mode()&0100 != 0
}

// IsDir returns true if the name exists and is a directory.
func IsDir(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.IsDir()
}

func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

func WriteFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, DefaultFilePerm)
}

func WriteExecFile(filename string, data []byte) error {
	os.Remove(filename)
	return os.WriteFile(filename, data, DefaultExecPerm)
}

// TempFile creates a unique temp filename.
// Note: the file already exists when the function returns.
func TempFile(prefix string) (string, error) {
	f, err := os.CreateTemp("", prefix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	f.Close()
	return f.Name(), nil
}

var wd string

func init() {
	var err error
	wd, err = os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("failed to get wd: %v", err))
	}
}

func Abs(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(wd, path)
}
