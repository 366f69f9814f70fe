// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vcs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/clusterfuzz-tools/pkg/jobs"
)

type fakeRepo struct {
	dir      string
	exists   bool
	head     string
	dirty    bool
	fetchErr error
	// Call log, in order.
	calls []string
}

func (f *fakeRepo) Dir() string { return f.dir }

func (f *fakeRepo) Exists() bool {
	f.calls = append(f.calls, "exists")
	return f.exists
}

func (f *fakeRepo) HeadCommit() (string, error) {
	f.calls = append(f.calls, "head")
	return f.head, nil
}

func (f *fakeRepo) IsDirty(ctx context.Context) (bool, error) {
	f.calls = append(f.calls, "dirty")
	return f.dirty, nil
}

func (f *fakeRepo) FetchCommit(ctx context.Context, commit string) error {
	f.calls = append(f.calls, "fetch "+commit)
	return f.fetchErr
}

func (f *fakeRepo) Checkout(ctx context.Context, commit string) error {
	f.calls = append(f.calls, "checkout "+commit)
	return nil
}

func testProvisioner(repo *fakeRepo) *Provisioner {
	p := NewProvisioner(map[jobs.Source]string{jobs.SourceV8: repo.dir})
	p.DisableGclient = true
	p.backoff = time.Millisecond
	p.repoFor = func(dir string) Repo { return repo }
	return p
}

const testCommit = "0123456789abcdef0123456789abcdef01234567"

func TestProvisionCurrentMissingTree(t *testing.T) {
	repo := &fakeRepo{dir: "/src/v8", exists: false}
	p := testProvisioner(repo)
	cfg := &jobs.Config{Source: jobs.SourceV8}

	_, err := p.Provision(context.Background(), cfg, Revision{Current: true})
	var missing *MissingTreeError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "/src/v8", missing.Dir)
	// Current-tree mode must never try to sync or check out.
	assert.Equal(t, []string{"exists"}, repo.calls)
}

func TestProvisionCurrent(t *testing.T) {
	repo := &fakeRepo{dir: "/src/v8", exists: true, dirty: true}
	p := testProvisioner(repo)
	cfg := &jobs.Config{Source: jobs.SourceV8}

	// A dirty tree is fine in current-tree mode, that is the point of it.
	tree, err := p.Provision(context.Background(), cfg, Revision{Current: true})
	require.NoError(t, err)
	assert.Equal(t, "/src/v8", tree.Dir)
	assert.Empty(t, tree.Commit)
}

func TestProvisionCheckout(t *testing.T) {
	repo := &fakeRepo{dir: "/src/v8", exists: true, head: "deadbeef"}
	p := testProvisioner(repo)
	cfg := &jobs.Config{Source: jobs.SourceV8}

	tree, err := p.Provision(context.Background(), cfg, Revision{Commit: testCommit})
	require.NoError(t, err)
	assert.Equal(t, testCommit, tree.Commit)
	assert.Equal(t, []string{"head", "dirty", "fetch " + testCommit, "checkout " + testCommit},
		repo.calls)
}

func TestProvisionAlreadyAtCommit(t *testing.T) {
	repo := &fakeRepo{dir: "/src/v8", exists: true, head: testCommit, dirty: true}
	p := testProvisioner(repo)
	cfg := &jobs.Config{Source: jobs.SourceV8}

	// No fetch/checkout (and no dirtiness complaint) when HEAD already matches.
	_, err := p.Provision(context.Background(), cfg, Revision{Commit: testCommit})
	require.NoError(t, err)
	assert.Equal(t, []string{"head"}, repo.calls)
}

func TestProvisionDirtyTree(t *testing.T) {
	repo := &fakeRepo{dir: "/src/v8", exists: true, head: "deadbeef", dirty: true}
	p := testProvisioner(repo)
	cfg := &jobs.Config{Source: jobs.SourceV8}

	_, err := p.Provision(context.Background(), cfg, Revision{Commit: testCommit})
	var dirty *DirtyTreeError
	require.ErrorAs(t, err, &dirty)
	assert.Equal(t, "/src/v8", dirty.Dir)
}

func TestProvisionBadCommit(t *testing.T) {
	repo := &fakeRepo{dir: "/src/v8", exists: true}
	p := testProvisioner(repo)
	cfg := &jobs.Config{Source: jobs.SourceV8}

	_, err := p.Provision(context.Background(), cfg, Revision{Commit: "not-a-sha"})
	assert.ErrorContains(t, err, "git sha")
}

func TestProvisionFetchRetries(t *testing.T) {
	repo := &fakeRepo{dir: "/src/v8", exists: true, head: "deadbeef",
		fetchErr: errors.New("remote hung up")}
	p := testProvisioner(repo)
	cfg := &jobs.Config{Source: jobs.SourceV8}

	_, err := p.Provision(context.Background(), cfg, Revision{Commit: testCommit})
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, 3, syncErr.Attempts)
	// One fetch per attempt, no checkout after exhausting retries.
	fetches := 0
	for _, call := range repo.calls {
		if call == "fetch "+testCommit {
			fetches++
		}
	}
	assert.Equal(t, 3, fetches)
}

func TestProvisionNoRoot(t *testing.T) {
	p := testProvisioner(&fakeRepo{dir: "/src/v8"})
	cfg := &jobs.Config{Source: jobs.SourcePdfium}
	_, err := p.Provision(context.Background(), cfg, Revision{Current: true})
	assert.ErrorContains(t, err, "no source root")
}

func TestCheckCommitHash(t *testing.T) {
	assert.True(t, CheckCommitHash("deadbeef"))
	assert.True(t, CheckCommitHash(testCommit))
	assert.False(t, CheckCommitHash("deadbee"))       // 7 chars
	assert.False(t, CheckCommitHash("DEADBEEF"))      // upper case
	assert.False(t, CheckCommitHash("deadbeeg"))      // not hex
	assert.False(t, CheckCommitHash(""))
}

func TestSourceRootEnv(t *testing.T) {
	assert.Equal(t, "CHROMIUM_SRC", SourceRootEnv(jobs.SourceChromium))
	assert.Equal(t, "V8_SRC", SourceRootEnv(jobs.SourceV8))
	assert.Equal(t, "PDFIUM_SRC", SourceRootEnv(jobs.SourcePdfium))
}
