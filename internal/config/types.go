// Package config parses trilogy.toml project configuration files.
// This package is pure: it turns text into records and performs no discovery.
// Discovery and active-selection tracking live in internal/registry.
package config

import "slices"

// FileName is the name of a project configuration file.
const FileName = "trilogy.toml"

// Record is one parsed project configuration file.
// Records are immutable once built; a changed file yields a new Record.
type Record struct {
	// AbsolutePath uniquely identifies the record
	AbsolutePath string `json:"path" yaml:"path"`

	// DisplayPath is the workspace-relative path shown to users
	DisplayPath string `json:"relativePath" yaml:"relative_path"`

	// Dialect is the engine dialect, empty when the file does not set one
	Dialect string `json:"dialect,omitempty" yaml:"dialect,omitempty"`

	// Parallelism is the engine parallelism, 0 when unset
	Parallelism int `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`

	// SetupScripts lists [setup].sql entries followed by [setup].trilogy entries
	SetupScripts []string `json:"setupFiles,omitempty" yaml:"setup_files,omitempty"`
}

// Equal reports whether two records carry the same values.
func (r Record) Equal(other Record) bool {
	return r.AbsolutePath == other.AbsolutePath &&
		r.DisplayPath == other.DisplayPath &&
		r.Dialect == other.Dialect &&
		r.Parallelism == other.Parallelism &&
		slices.Equal(r.SetupScripts, other.SetupScripts)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.SetupScripts = slices.Clone(r.SetupScripts)
	return r
}

// DialectOrDefault returns the record's dialect or DefaultDialect.
func (r Record) DialectOrDefault() string {
	if r.Dialect == "" {
		return DefaultDialect
	}
	return r.Dialect
}

// Settings is the structured content of a configuration file before it is
// bound to a location on disk.
type Settings struct {
	Engine EngineSection
	Setup  SetupSection
}

// EngineSection holds the scalar [engine] settings.
type EngineSection struct {
	Dialect     string
	Parallelism int
}

// SetupSection holds the array-valued [setup] settings.
type SetupSection struct {
	SQL     []string
	Trilogy []string
}

// Scripts concatenates setup entries in declaration order.
func (s SetupSection) Scripts() []string {
	if len(s.SQL) == 0 && len(s.Trilogy) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.SQL)+len(s.Trilogy))
	out = append(out, s.SQL...)
	return append(out, s.Trilogy...)
}
