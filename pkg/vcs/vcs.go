// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package vcs pins local source checkouts to the revision a testcase was
// found on. It wraps git for revision selection and gclient for dependency
// sync and hooks.
package vcs

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/log"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
)

// Tree is a source checkout ready for building.
type Tree struct {
	Dir    string
	Source jobs.Source
	// HEAD commit after provisioning; empty in current-tree mode.
	Commit string
}

// Revision says what state the tree must be in.
type Revision struct {
	// Use whatever is on disk, never sync.
	Current bool
	// Git sha to pin the tree to (ignored if Current).
	Commit string
}

// MissingTreeError is returned in current-tree mode when no checkout
// exists at the configured source root.
type MissingTreeError struct {
	Dir string
}

func (err *MissingTreeError) Error() string {
	return fmt.Sprintf("no existing checkout at %v; create one or drop --current", err.Dir)
}

// SyncError is a fatal provisioning failure after all retries.
// The tree at Dir may be in a partial state; it is left for inspection.
type SyncError struct {
	Dir      string
	Attempts int
	Err      error
}

func (err *SyncError) Error() string {
	return fmt.Sprintf("failed to sync %v after %v attempts: %v (inspect the tree before retrying)",
		err.Dir, err.Attempts, err.Err)
}

func (err *SyncError) Unwrap() error {
	return err.Err
}

type DirtyTreeError struct {
	Dir string
}

func (err *DirtyTreeError) Error() string {
	return fmt.Sprintf("%v has uncommitted changes; commit or stash them before checkout", err.Dir)
}

// Provisioner turns (config, revision) into a ready source tree.
type Provisioner struct {
	// Source root directories keyed by source enum.
	Roots map[jobs.Source]string
	// Skip gclient sync and runhooks (they are slow and sometimes the
	// user has already run them).
	DisableGclient bool

	retries int
	backoff time.Duration
	repoFor func(dir string) Repo
}

func NewProvisioner(roots map[jobs.Source]string) *Provisioner {
	return &Provisioner{
		Roots:   roots,
		retries: 3,
		backoff: 10 * time.Second,
		repoFor: func(dir string) Repo { return newGit(dir) },
	}
}

// Provision ensures the checkout for cfg.Source is at the requested
// revision. In current-tree mode it only verifies that a checkout exists.
func (p *Provisioner) Provision(ctx context.Context, cfg *jobs.Config, rev Revision) (*Tree, error) {
	dir, ok := p.Roots[cfg.Source]
	if !ok || dir == "" {
		return nil, fmt.Errorf("no source root configured for %v", cfg.Source)
	}
	dir = osutil.Abs(dir)
	tree := &Tree{Dir: dir, Source: cfg.Source}
	repo := p.repoFor(dir)

	if rev.Current {
		if !repo.Exists() {
			return nil, &MissingTreeError{Dir: dir}
		}
		log.Logf(0, "using the current tree at %v as-is", dir)
		return tree, nil
	}

	if err := p.checkout(ctx, repo, rev.Commit); err != nil {
		return nil, err
	}
	tree.Commit = rev.Commit
	if !p.DisableGclient {
		if err := p.gclient(ctx, dir, "sync"); err != nil {
			return nil, err
		}
		if err := p.gclient(ctx, dir, "runhooks"); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func (p *Provisioner) checkout(ctx context.Context, repo Repo, commit string) error {
	if !CheckCommitHash(commit) {
		return fmt.Errorf("%q does not look like a git sha", commit)
	}
	if head, err := repo.HeadCommit(); err == nil && head == commit {
		log.Logf(0, "the tree is already on %v, no checkout needed", commit)
		return nil
	}
	if dirty, err := repo.IsDirty(ctx); err != nil {
		return err
	} else if dirty {
		return &DirtyTreeError{Dir: repo.Dir()}
	}
	err := p.retry(ctx, repo.Dir(), func() error {
		return repo.FetchCommit(ctx, commit)
	})
	if err != nil {
		return err
	}
	return repo.Checkout(ctx, commit)
}

func (p *Provisioner) gclient(ctx context.Context, dir, subcommand string) error {
	log.Logf(0, "running gclient %v in %v...", subcommand, dir)
	return p.retry(ctx, dir, func() error {
		cmd := osutil.Command("gclient", subcommand)
		cmd.Dir = dir
		cmd.Stdout = log.VerboseWriter(2)
		cmd.Stderr = log.VerboseWriter(2)
		_, err := osutil.Run(ctx, 0, cmd)
		return err
	})
}

// retry runs fn up to p.retries times with backoff; transient network and
// vcs failures are common during long syncs.
func (p *Provisioner) retry(ctx context.Context, dir string, fn func() error) error {
	var last error
	for attempt := 0; attempt < p.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn()
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Errorf("sync attempt %v/%v failed: %v", attempt+1, p.retries, last)
		if attempt != p.retries-1 {
			select {
			case <-time.After(p.backoff << uint(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return &SyncError{Dir: dir, Attempts: p.retries, Err: last}
}

// Repo is the subset of version control operations provisioning needs.
type Repo interface {
	Dir() string
	// Exists reports whether dir contains a checkout at all.
	Exists() bool
	HeadCommit() (string, error)
	IsDirty(ctx context.Context) (bool, error)
	// FetchCommit makes the commit available locally (no-op if present).
	FetchCommit(ctx context.Context, commit string) error
	Checkout(ctx context.Context, commit string) error
}

var gitHashRe = regexp.MustCompile("^[a-f0-9]+$")

// CheckCommitHash does a best-effort approximate check of a git sha.
func CheckCommitHash(hash string) bool {
	if !gitHashRe.MatchString(hash) {
		return false
	}
	ln := len(hash)
	return ln == 8 || ln == 10 || ln == 12 || ln == 16 || ln == 20 || ln == 40
}

// SourceRootEnv returns the environment variable conventionally holding
// the source root for the given source (e.g. CHROMIUM_SRC).
func SourceRootEnv(src jobs.Source) string {
	return strings.ToUpper(string(src)) + "_SRC"
}
