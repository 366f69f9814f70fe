// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditInEditorUnset(t *testing.T) {
	t.Setenv("EDITOR", "")
	content := []byte("use_goma = true\n")
	got, err := editInEditor(content, "build args")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestEditInEditorLaunchFailure(t *testing.T) {
	// A broken $EDITOR must not abort the build, the generated
	// content is used as is.
	t.Setenv("EDITOR", "/nonexistent/editor")
	content := []byte("is_asan = true\nuse_goma = true\n")
	got, err := editInEditor(content, "build args")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestEditInEditorExitFailure(t *testing.T) {
	t.Setenv("EDITOR", "/bin/false")
	content := []byte("is_asan = true\n")
	got, err := editInEditor(content, "build args")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestEditInEditorRewrite(t *testing.T) {
	editor := filepath.Join(t.TempDir(), "editor.sh")
	script := "#!/bin/sh\necho 'symbol_level = 2' > \"$1\"\n"
	require.NoError(t, os.WriteFile(editor, []byte(script), 0755))
	t.Setenv("EDITOR", editor)
	got, err := editInEditor([]byte("symbol_level = 1\n"), "build args")
	require.NoError(t, err)
	assert.Equal(t, "symbol_level = 2\n", string(got))
}
