// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/clusterfuzz-tools/pkg/log"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
	"github.com/google/clusterfuzz-tools/pkg/testcase"
)

const defaultServer = "https://clusterfuzz.com"

// apiService talks to the fuzzing infrastructure's HTTP API.
// Authentication is a bearer token from the environment.
type apiService struct {
	base   string
	token  string
	client *http.Client
}

func newAPIService(base string) *apiService {
	return &apiService{
		base:   base,
		token:  os.Getenv("CLUSTERFUZZ_API_KEY"),
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// testcaseDetail mirrors the API's testcase-detail response, only the
// fields the reproduction pipeline consumes.
type testcaseDetail struct {
	ID       json.Number `json:"id"`
	Job      string      `json:"job_type"`
	Revision json.Number `json:"crash_revision"`
	BuildURL string      `json:"build_url"`
	Crash    struct {
		Type  string `json:"type"`
		State string `json:"state"`
	} `json:"crash"`
	OneTimeCrasher  bool     `json:"one_time_crasher_flag"`
	Gestures        []string `json:"gestures"`
	AbsolutePath    string   `json:"absolute_path"`
	Sanitizer       string   `json:"sanitizer"`
	Platform        string   `json:"platform"`
	GNArgs          string   `json:"gn_args"`
	Stacktrace      string   `json:"crash_stacktrace"`
	MinimizedKeys   string   `json:"minimized_keys"`
	FuzzedKeys      string   `json:"fuzzed_keys"`
	StacktraceLines []struct {
		Content string `json:"content"`
	} `json:"crash_stacktrace_lines"`
}

func (s *apiService) GetTestcase(ctx context.Context, id string) (*testcase.Testcase, error) {
	body, err := json.Marshal(map[string]string{"testcaseId": id})
	if err != nil {
		return nil, err
	}
	data, err := s.do(ctx, http.MethodPost, s.base+"/v2/testcase-detail", body)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch testcase %v: %w", id, err)
	}
	var detail testcaseDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("malformed testcase %v response: %w", id, err)
	}
	tc := &testcase.Testcase{
		ID:             detail.ID.String(),
		JobName:        detail.Job,
		Revision:       detail.Revision.String(),
		BuildURL:       detail.BuildURL,
		AbsolutePath:   detail.AbsolutePath,
		CrashType:      detail.Crash.Type,
		CrashState:     detail.Crash.State,
		OneTimeCrasher: detail.OneTimeCrasher,
		Gestures:       len(detail.Gestures) != 0,
		Sanitizer:      detail.Sanitizer,
		Platform:       detail.Platform,
		GNArgs:         detail.GNArgs,
	}
	if tc.ID == "" {
		tc.ID = id
	}
	for _, line := range detail.StacktraceLines {
		tc.StacktraceLines = append(tc.StacktraceLines, line.Content)
	}
	return tc, nil
}

func (s *apiService) DownloadTestcase(ctx context.Context, tc *testcase.Testcase,
	destDir string) (string, error) {
	url := fmt.Sprintf("%v/v2/testcase-download?id=%v", s.base, tc.ID)
	data, err := s.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to download testcase %v: %w", tc.ID, err)
	}
	path := filepath.Join(destDir, "testcase"+tc.FileExtension())
	if err := osutil.WriteFile(path, data); err != nil {
		return "", err
	}
	log.Logf(1, "testcase saved to %v (%v bytes)", path, len(data))
	return path, nil
}

func (s *apiService) DownloadBuild(ctx context.Context, buildURL, destDir string) error {
	data, err := s.do(ctx, http.MethodGet, buildURL, nil)
	if err != nil {
		return fmt.Errorf("failed to download build: %w", err)
	}
	archive, err := osutil.TempFile("cfz-build")
	if err != nil {
		return err
	}
	defer os.Remove(archive)
	if err := osutil.WriteFile(archive, data); err != nil {
		return err
	}
	if _, err := osutil.RunCmd(ctx, 10*time.Minute, destDir,
		"unzip", "-q", "-o", archive, "-d", destDir); err != nil {
		return osutil.PrependContext("failed to unpack build archive", err)
	}
	return flattenSingleDir(destDir)
}

// flattenSingleDir lifts the contents of a lone wrapper directory (build
// archives pack everything under a revision-named root) up into dir.
func flattenSingleDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}
	sub := filepath.Join(dir, entries[0].Name())
	inner, err := os.ReadDir(sub)
	if err != nil {
		return err
	}
	for _, ent := range inner {
		if err := os.Rename(filepath.Join(sub, ent.Name()),
			filepath.Join(dir, ent.Name())); err != nil {
			return err
		}
	}
	return os.Remove(sub)
}

func (s *apiService) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%v %v: status %v: %.200s", method, url, resp.StatusCode, data)
	}
	return data, nil
}
