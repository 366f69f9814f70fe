// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package jobs

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Table is the static registry of job/preset entries.
// It is built once at process start and read-only afterwards.
type Table struct {
	entries map[string]*PresetEntry
}

// NewTable builds a table from the given entries.
// Entry names must be unique.
func NewTable(entries []*PresetEntry) (*Table, error) {
	t := &Table{entries: make(map[string]*PresetEntry, len(entries))}
	for _, ent := range entries {
		if ent.Name == "" {
			return nil, fmt.Errorf("job entry with empty name")
		}
		if t.entries[ent.Name] != nil {
			return nil, fmt.Errorf("duplicate job entry %q", ent.Name)
		}
		t.entries[ent.Name] = ent
	}
	return t, nil
}

// DefaultTable returns the built-in job table.
func DefaultTable() *Table {
	t, err := NewTable(builtinEntries())
	if err != nil {
		panic(fmt.Sprintf("builtin job table is broken: %v", err))
	}
	return t
}

// LoadFile merges additional entries from a YAML file into a copy of the
// table. File entries override built-in entries with the same name.
// The file is a mapping from entry name to fields:
//
//	my_asan_job:
//	  preset: v8
//	  sanitizer: ASAN
func (t *Table) LoadFile(filename string) (*Table, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read job table: %w", err)
	}
	return t.LoadData(data)
}

func (t *Table) LoadData(data []byte) (*Table, error) {
	raw := make(map[string]*PresetEntry)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse job table: %w", err)
	}
	merged := &Table{entries: make(map[string]*PresetEntry, len(t.entries)+len(raw))}
	for name, ent := range t.entries {
		merged.entries[name] = ent
	}
	for name, ent := range raw {
		if ent == nil {
			return nil, fmt.Errorf("job entry %q is empty", name)
		}
		ent.Name = name
		merged.entries[name] = ent
	}
	return merged, nil
}

// Names returns all entry names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func boolPtr(v bool) *bool {
	return &v
}

// The built-in table mirrors the job types the reproduction service runs.
// Base presets carry the build system wiring, job entries mostly just pin
// a preset and a sanitizer.
func builtinEntries() []*PresetEntry {
	return []*PresetEntry{
		// Presets.
		{
			Name:       "v8",
			Builder:    BuilderGN,
			Source:     SourceV8,
			Binary:     "d8",
			Reproducer: ReproducerBase,
		},
		{
			Name:       "pdfium",
			Builder:    BuilderGN,
			Source:     SourcePdfium,
			Binary:     "pdfium_test",
			Reproducer: ReproducerBase,
			GNArgs:     map[string]string{"pdf_is_standalone": "true"},
		},
		{
			Name:       "chromium",
			Builder:    BuilderChromium,
			Source:     SourceChromium,
			Reproducer: ReproducerBase,
		},
		{
			Name:               "chromium-browser",
			Preset:             "chromium",
			Binary:             "chrome",
			Target:             "chromium_builder_asan",
			Reproducer:         ReproducerChrome,
			RequireUserDataDir: boolPtr(true),
		},
		{
			Name:       "libfuzzer",
			Preset:     "chromium",
			Reproducer: ReproducerLibfuzzer,
		},
		{
			Name:       "standalone",
			Builder:    BuilderMake,
			Reproducer: ReproducerBase,
		},

		// Standalone d8/pdfium jobs.
		{Name: "linux_asan_d8", Preset: "v8", Sanitizer: ASAN},
		{Name: "linux_asan_d8_dbg", Preset: "linux_asan_d8"},
		{Name: "linux_asan_d8_v8_mipsel_db", Preset: "linux_asan_d8"},
		{Name: "linux_v8_d8_tot", Preset: "v8", Sanitizer: ASAN},
		{Name: "linux_asan_pdfium", Preset: "pdfium", Sanitizer: ASAN},
		{Name: "linux_msan_pdfium", Preset: "pdfium", Sanitizer: MSAN},

		// Libfuzzer jobs.
		{Name: "libfuzzer_chrome_asan", Preset: "libfuzzer", Sanitizer: ASAN},
		{Name: "libfuzzer_chrome_asan_debug", Preset: "libfuzzer_chrome_asan"},
		{Name: "libfuzzer_chrome_msan", Preset: "libfuzzer", Sanitizer: MSAN},
		{Name: "libfuzzer_chrome_ubsan", Preset: "libfuzzer", Sanitizer: UBSAN},

		// Full browser jobs.
		{Name: "linux_asan_chrome_mp", Preset: "chromium-browser", Sanitizer: ASAN},
		{Name: "linux_asan_chrome_chromeos", Preset: "chromium-browser", Sanitizer: ASAN},
		{Name: "linux_asan_chrome_media", Preset: "chromium-browser", Sanitizer: ASAN},
		{Name: "linux_asan_chrome_gpu", Preset: "chromium-browser", Sanitizer: ASAN},
		{Name: "linux_msan_chrome", Preset: "chromium-browser", Sanitizer: MSAN},
		{Name: "linux_ubsan_chrome", Preset: "chromium-browser", Sanitizer: UBSAN},
		{Name: "linux_cfi_chrome", Preset: "chromium-browser", Sanitizer: CFI},
	}
}
