// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package jobs

import (
	"strings"

	"github.com/google/clusterfuzz-tools/pkg/log"
)

// Mode is the user-requested way of obtaining the target binary.
type Mode string

const (
	// Fetch the prebuilt binary recorded for the testcase.
	ModeDownload Mode = "download"
	// Build the target inside a full chromium checkout.
	ModeChromium Mode = "chromium"
	// Build the target in its standalone checkout.
	ModeStandalone Mode = "standalone"
)

// Resolve flattens the preset chain of the named entry into a Config.
// Fields declared closer to the named entry win over ancestor fields.
// Returns *UnknownPresetError if the name (or any ancestor) is absent and
// *CyclicPresetError if the chain revisits an entry.
func (t *Table) Resolve(name string) (*Config, error) {
	cfg := &Config{Job: name, GNArgs: make(map[string]string)}
	visited := make(map[string]bool)
	var chain []string
	udd := false // RequireUserDataDir already set by a more-derived entry
	for cur := name; cur != ""; {
		if visited[cur] {
			return nil, &CyclicPresetError{Name: name, Chain: append(chain, cur)}
		}
		visited[cur] = true
		chain = append(chain, cur)
		ent := t.entries[cur]
		if ent == nil {
			return nil, &UnknownPresetError{Name: cur}
		}
		applyEntry(cfg, ent, &udd)
		cur = ent.Preset
	}
	return cfg, nil
}

// applyEntry copies entry fields into cfg unless a more-derived entry
// (processed earlier) already set them.
func applyEntry(cfg *Config, ent *PresetEntry, udd *bool) {
	if cfg.Builder == BuilderUnknown {
		cfg.Builder = ent.Builder
	}
	if cfg.Source == SourceUnknown {
		cfg.Source = ent.Source
	}
	if cfg.Binary == "" {
		cfg.Binary = ent.Binary
	}
	if cfg.Sanitizer == SanitizerUnknown {
		cfg.Sanitizer = ent.Sanitizer
	}
	if cfg.Reproducer == ReproducerUnknown {
		cfg.Reproducer = ent.Reproducer
	}
	if cfg.Target == "" {
		cfg.Target = ent.Target
	}
	if !*udd && ent.RequireUserDataDir != nil {
		cfg.RequireUserDataDir = *ent.RequireUserDataDir
		*udd = true
	}
	for k, v := range ent.GNArgs {
		if _, ok := cfg.GNArgs[k]; !ok {
			cfg.GNArgs[k] = v
		}
	}
}

// Hints carries testcase metadata fields useful for heuristic resolution
// of job names absent from the table.
type Hints struct {
	// Sanitizer name recorded with the testcase, if any.
	Sanitizer string
	// Platform string recorded with the testcase (e.g. "linux").
	Platform string
}

// ResolveJob maps a runtime job name to a Config.
// Exact table lookup is attempted first; unknown names fall back to
// inference from well-known tokens in the job name. The heuristic path
// marks fields it defaulted in Config.Inferred; it fails with
// *UnresolvableJobError only if no usable builder/source pair emerges.
// The requested mode narrows the final builder choice (download bypasses
// building entirely, chromium forces a full-checkout build).
func (t *Table) ResolveJob(name string, mode Mode, hints *Hints) (*Config, error) {
	cfg, err := t.Resolve(name)
	switch err.(type) {
	case nil:
	case *UnknownPresetError:
		cfg, err = t.infer(name, hints)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	applyMode(cfg, mode)
	return cfg, nil
}

func applyMode(cfg *Config, mode Mode) {
	// A job that normally builds standalone is still buildable from a full
	// chromium checkout (the checkout contains v8 and pdfium as deps).
	if mode == ModeChromium && cfg.Builder != BuilderChromium {
		cfg.Builder = BuilderChromium
		cfg.Source = SourceChromium
	}
}

// infer derives a best-effort Config for a job name absent from the table.
func (t *Table) infer(name string, hints *Hints) (*Config, error) {
	cfg := &Config{Job: name, GNArgs: make(map[string]string)}

	for _, tok := range sanitizerTokens {
		if containsToken(name, tok.name) {
			cfg.Sanitizer = tok.sanitizer
			break
		}
	}
	if cfg.Sanitizer == SanitizerUnknown && hints != nil && hints.Sanitizer != "" {
		for _, san := range []Sanitizer{ASAN, MSAN, UBSAN, LSAN, TSAN, CFI} {
			if strings.EqualFold(hints.Sanitizer, string(san)) {
				cfg.Sanitizer = san
				break
			}
		}
	}
	if cfg.Sanitizer == SanitizerUnknown {
		cfg.Sanitizer = ASAN
		cfg.Inferred = append(cfg.Inferred, "sanitizer")
	}

	for _, tok := range presetTokens {
		if containsToken(name, tok.name) {
			base, err := t.Resolve(tok.preset)
			if err != nil {
				return nil, err
			}
			cfg.Builder = base.Builder
			cfg.Source = base.Source
			cfg.Reproducer = base.Reproducer
			cfg.Binary = base.Binary
			cfg.Target = base.Target
			cfg.RequireUserDataDir = base.RequireUserDataDir
			break
		}
	}
	if containsToken(name, "libfuzzer") {
		cfg.Reproducer = ReproducerLibfuzzer
		if cfg.Source == SourceUnknown {
			cfg.Builder = BuilderChromium
			cfg.Source = SourceChromium
		}
	}
	if cfg.Builder == BuilderUnknown || cfg.Source == SourceUnknown {
		return nil, &UnresolvableJobError{Job: name}
	}
	if cfg.Reproducer == ReproducerUnknown {
		cfg.Reproducer = ReproducerBase
		cfg.Inferred = append(cfg.Inferred, "reproducer")
	}
	if cfg.Binary == "" {
		// Downstream recovers the binary name from the recorded stacktrace.
		cfg.Inferred = append(cfg.Inferred, "binary")
	}
	log.Logf(1, "job %q is not in the table, inferred config: builder=%v source=%v sanitizer=%v (defaulted: %v)",
		name, cfg.Builder, cfg.Source, cfg.Sanitizer, cfg.Inferred)
	return cfg, nil
}

// The token tables are data, not code, so that new job naming conventions
// can be accommodated without touching the resolution logic. They are
// ordered: the first matching token wins, so a name carrying both a
// target token and a browser token resolves to the target.
var sanitizerTokens = []struct {
	name      string
	sanitizer Sanitizer
}{
	{"asan", ASAN},
	{"msan", MSAN},
	{"ubsan", UBSAN},
	{"lsan", LSAN},
	{"tsan", TSAN},
	{"cfi", CFI},
}

var presetTokens = []struct {
	name   string
	preset string
}{
	{"d8", "v8"},
	{"v8", "v8"},
	{"pdfium", "pdfium"},
	{"chrome", "chromium-browser"},
	{"chromium", "chromium-browser"},
}

func containsToken(name, tok string) bool {
	for _, part := range strings.Split(strings.ToLower(name), "_") {
		if part == tok {
			return true
		}
	}
	return false
}
