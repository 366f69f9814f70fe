// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package jobs maps fuzzing job names to build/run configurations.
// Job definitions form an inheritance hierarchy: an entry can reference
// a preset entry and override individual fields. Resolution flattens the
// chain into a single Config consumed by the provisioning, build and
// reproduction packages.
package jobs

import (
	"fmt"
	"strings"
)

// Builder says which build system family produces the target binary.
type Builder string

const (
	BuilderUnknown Builder = ""
	// GN/ninja build in a standalone checkout (v8, pdfium).
	BuilderGN Builder = "gn"
	// GN/ninja build of a target inside a full chromium checkout.
	BuilderChromium Builder = "chromium"
	// Plain make build in a standalone checkout.
	BuilderMake Builder = "make"
)

// Source says which source repository root the job builds from.
type Source string

const (
	SourceUnknown  Source = ""
	SourceChromium Source = "chromium"
	SourceV8       Source = "v8"
	SourcePdfium   Source = "pdfium"
)

// Sanitizer is the compile-time instrumentation mode of the job.
type Sanitizer string

const (
	SanitizerUnknown Sanitizer = ""
	SanitizerNone    Sanitizer = "none"
	ASAN             Sanitizer = "ASAN"
	MSAN             Sanitizer = "MSAN"
	UBSAN            Sanitizer = "UBSAN"
	LSAN             Sanitizer = "LSAN"
	TSAN             Sanitizer = "TSAN"
	CFI              Sanitizer = "CFI"
)

// Reproducer selects the execution strategy for the built target.
type Reproducer string

const (
	ReproducerUnknown Reproducer = ""
	// Run the binary directly against the testcase.
	ReproducerBase Reproducer = "base"
	// Run a full browser target inside an isolated display
	// with a fresh profile directory.
	ReproducerChrome Reproducer = "chrome"
	// Run a libfuzzer target (rewrites -dict= and friends).
	ReproducerLibfuzzer Reproducer = "libfuzzer"
)

func (b *Builder) UnmarshalYAML(unmarshal func(interface{}) error) error {
	return unmarshalEnum((*string)(b), unmarshal, "builder",
		string(BuilderGN), string(BuilderChromium), string(BuilderMake))
}

func (s *Source) UnmarshalYAML(unmarshal func(interface{}) error) error {
	return unmarshalEnum((*string)(s), unmarshal, "source",
		string(SourceChromium), string(SourceV8), string(SourcePdfium))
}

func (s *Sanitizer) UnmarshalYAML(unmarshal func(interface{}) error) error {
	return unmarshalEnum((*string)(s), unmarshal, "sanitizer",
		string(SanitizerNone), string(ASAN), string(MSAN), string(UBSAN),
		string(LSAN), string(TSAN), string(CFI))
}

func (r *Reproducer) UnmarshalYAML(unmarshal func(interface{}) error) error {
	return unmarshalEnum((*string)(r), unmarshal, "reproducer",
		string(ReproducerBase), string(ReproducerChrome), string(ReproducerLibfuzzer))
}

func unmarshalEnum(dst *string, unmarshal func(interface{}) error, what string, allowed ...string) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	for _, v := range allowed {
		if raw == v {
			*dst = raw
			return nil
		}
	}
	return fmt.Errorf("unknown %v %q (want one of %v)", what, raw, strings.Join(allowed, "/"))
}

// PresetEntry is one named, possibly partial job definition.
// Unset fields are inherited from the Preset parent chain.
type PresetEntry struct {
	Name               string            `yaml:"-"`
	Preset             string            `yaml:"preset,omitempty"`
	Builder            Builder           `yaml:"builder,omitempty"`
	Source             Source            `yaml:"source,omitempty"`
	Binary             string            `yaml:"binary,omitempty"`
	Sanitizer          Sanitizer         `yaml:"sanitizer,omitempty"`
	Reproducer         Reproducer        `yaml:"reproducer,omitempty"`
	Target             string            `yaml:"target,omitempty"`
	RequireUserDataDir *bool             `yaml:"require_user_data_dir,omitempty"`
	GNArgs             map[string]string `yaml:"gn_args,omitempty"`
}

// Config is the flattened result of resolving one job name.
// All preset references are applied; remaining empty fields were set
// nowhere in the chain (heuristic resolution marks them in Inferred).
type Config struct {
	Job                string
	Builder            Builder
	Source             Source
	Binary             string
	Sanitizer          Sanitizer
	Reproducer         Reproducer
	Target             string
	RequireUserDataDir bool
	GNArgs             map[string]string
	// Names of fields that were not resolved from the table but inferred
	// from the job name. Downstream treats these as soft warnings.
	Inferred []string
}

// InferredField reports whether the named field was heuristically inferred.
func (cfg *Config) InferredField(name string) bool {
	for _, f := range cfg.Inferred {
		if f == name {
			return true
		}
	}
	return false
}

type UnknownPresetError struct {
	Name string
}

func (err *UnknownPresetError) Error() string {
	return fmt.Sprintf("unknown job preset %q", err.Name)
}

type CyclicPresetError struct {
	Name  string
	Chain []string
}

func (err *CyclicPresetError) Error() string {
	return fmt.Sprintf("preset chain for %q contains a cycle: %v",
		err.Name, strings.Join(err.Chain, " -> "))
}

type UnresolvableJobError struct {
	Job string
}

func (err *UnresolvableJobError) Error() string {
	return fmt.Sprintf("the job %q is not supported and no builder/source "+
		"could be inferred from its name", err.Job)
}
