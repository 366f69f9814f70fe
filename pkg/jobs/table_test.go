// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinTableResolves(t *testing.T) {
	// Every builtin entry must resolve without dangling presets or cycles,
	// and every job entry must end up with a usable builder/source pair.
	table := DefaultTable()
	for _, name := range table.Names() {
		cfg, err := table.Resolve(name)
		require.NoError(t, err, "entry %v", name)
		assert.NotEqual(t, BuilderUnknown, cfg.Builder, "entry %v has no builder", name)
	}
}

func TestNewTableDuplicate(t *testing.T) {
	_, err := NewTable([]*PresetEntry{
		{Name: "dup", Builder: BuilderGN},
		{Name: "dup", Builder: BuilderMake},
	})
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoadData(t *testing.T) {
	data := []byte(`
my_asan_job:
  preset: v8
  sanitizer: ASAN
linux_asan_d8:
  preset: pdfium
  sanitizer: ASAN
`)
	table, err := DefaultTable().LoadData(data)
	require.NoError(t, err)

	// New entry chains into the builtin preset.
	cfg, err := table.Resolve("my_asan_job")
	require.NoError(t, err)
	assert.Equal(t, SourceV8, cfg.Source)
	assert.Equal(t, ASAN, cfg.Sanitizer)

	// File entries override builtins with the same name.
	cfg, err = table.Resolve("linux_asan_d8")
	require.NoError(t, err)
	assert.Equal(t, SourcePdfium, cfg.Source)
}

func TestLoadDataBadEnum(t *testing.T) {
	_, err := DefaultTable().LoadData([]byte(`
bad_job:
  builder: cmake
`))
	assert.ErrorContains(t, err, "cmake")
}

func TestLoadDataDoesNotMutateBase(t *testing.T) {
	base := DefaultTable()
	_, err := base.LoadData([]byte("linux_asan_d8:\n  sanitizer: MSAN\n"))
	require.NoError(t, err)
	cfg, err := base.Resolve("linux_asan_d8")
	require.NoError(t, err)
	assert.Equal(t, ASAN, cfg.Sanitizer)
}
