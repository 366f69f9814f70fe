// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vcs

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/clusterfuzz-tools/pkg/osutil"
)

type git struct {
	dir string
}

func newGit(dir string) *git {
	return &git{dir: dir}
}

func (git *git) Dir() string {
	return git.dir
}

func (git *git) Exists() bool {
	return osutil.IsDir(filepath.Join(git.dir, ".git"))
}

func (git *git) HeadCommit() (string, error) {
	output, err := git.run(context.Background(), "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func (git *git) IsDirty(ctx context.Context) (bool, error) {
	// git diff exits 0 even when there are changes, so look at the output.
	output, err := git.run(ctx, "diff", "--name-only")
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(output))) != 0, nil
}

func (git *git) FetchCommit(ctx context.Context, commit string) error {
	// cat-file -e is cheap; fetch only if the sha is not known locally.
	if _, err := git.run(ctx, "cat-file", "-e", commit); err == nil {
		return nil
	}
	_, err := git.run(ctx, "fetch", "origin", commit)
	return err
}

func (git *git) Checkout(ctx context.Context, commit string) error {
	if _, err := git.run(ctx, "checkout", commit); err != nil {
		return osutil.PrependContext("git checkout "+commit, err)
	}
	return nil
}

func (git *git) run(ctx context.Context, args ...string) ([]byte, error) {
	return osutil.RunCmd(ctx, time.Hour, git.dir, "git", args...)
}
