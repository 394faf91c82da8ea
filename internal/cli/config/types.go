// Package config loads trilogyctl settings from defaults, trilogyctl.yaml,
// TRILOGYCTL_ environment variables and command-line flags.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	Workspace []string    `koanf:"workspace"`
	StatePath string      `koanf:"state_path"`
	LogLevel  string      `koanf:"log_level"`
	LogFormat string      `koanf:"log_format"`
	Output    string      `koanf:"output"`
	Watch     bool        `koanf:"watch"`
	Query     QueryConfig `koanf:"query"`
	Serve     ServeConfig `koanf:"serve"`
	API       APIConfig   `koanf:"api"`

	// File is the config file that was loaded, empty when none was found.
	File string `koanf:"-"`
}

// QueryConfig holds query session settings.
type QueryConfig struct {
	PageSize int `koanf:"page_size"`
}

// ServeConfig holds preview server settings.
type ServeConfig struct {
	// Command overrides resolution of the trilogy executable. It may carry
	// leading arguments, e.g. "python -m trilogy".
	Command string `koanf:"command"`

	// Interpreter is the path of the Python interpreter whose sibling scripts
	// are tried first.
	Interpreter string `koanf:"interpreter"`

	GracePeriod  time.Duration `koanf:"grace_period"`
	KillTimeout  time.Duration `koanf:"kill_timeout"`
	ProbeTimeout time.Duration `koanf:"probe_timeout"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Addr string `koanf:"addr"`
}

// Default configuration values.
const (
	DefaultStateFile = ".trilogyctl/state.db"
	DefaultLogLevel  = "warn"
	DefaultLogFormat = "text"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=json
	DefaultPageSize  = 100
	DefaultAPIAddr   = "127.0.0.1:7878"
	EnvPrefix        = "TRILOGYCTL_"
)

// FileNames are the config file names searched for, in order.
var FileNames = []string{"trilogyctl.yaml", "trilogyctl.yml"}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Workspace: []string{"."},
		StatePath: DefaultStateFile,
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Output:    DefaultOutput,
		Watch:     true,
		Query:     QueryConfig{PageSize: DefaultPageSize},
		Serve: ServeConfig{
			GracePeriod:  time.Second,
			KillTimeout:  2 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
		API: APIConfig{Addr: DefaultAPIAddr},
	}
}
