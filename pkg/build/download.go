// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package build

import (
	"context"
	"path/filepath"

	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/log"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
)

// DownloadFunc fetches the prebuilt artifact archive for a testcase into
// destDir and returns once the extracted build is in place.
type DownloadFunc func(ctx context.Context, buildURL, destDir string) error

// Download fetches a prebuilt binary instead of compiling one. The
// artifact is validated the same way compiled artifacts are: the target
// binary must exist and be executable, otherwise ArtifactNotFoundError.
func Download(ctx context.Context, cfg *jobs.Config, buildURL, destDir string,
	fetch DownloadFunc) (*Artifact, error) {
	log.Logf(1, "downloading prebuilt %v into %v", cfg.Binary, destDir)
	if err := osutil.MkdirAll(destDir); err != nil {
		return nil, err
	}
	if err := fetch(ctx, buildURL, destDir); err != nil {
		return nil, err
	}
	binary := filepath.Join(destDir, cfg.Binary)
	if !osutil.IsExecutable(binary) {
		return nil, &ArtifactNotFoundError{Path: binary}
	}
	return &Artifact{Dir: destDir, Binary: binary, Downloaded: true}, nil
}
