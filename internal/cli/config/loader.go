package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// configKey is used to store config in context.
type configKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps recognized flag names to config keys.
var flagKeys = map[string]string{
	"workspace":     "workspace",
	"state":         "state_path",
	"log-level":     "log_level",
	"log-format":    "log_format",
	"output":        "output",
	"watch":         "watch",
	"page-size":     "query.page_size",
	"serve-command": "serve.command",
	"interpreter":   "serve.interpreter",
	"grace-period":  "serve.grace_period",
	"kill-timeout":  "serve.kill_timeout",
	"probe-timeout": "serve.probe_timeout",
	"addr":          "api.addr",
}

// nestedSections are config sections addressed as SECTION_KEY in env vars.
var nestedSections = []string{"query", "serve", "api"}

// configExistsIn returns the config file in dir, if any.
func configExistsIn(dir string) string {
	for _, name := range FileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findConfigUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if found := configExistsIn(dir); found != "" {
			return found
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// envKey transforms TRILOGYCTL_SERVE_KILL_TIMEOUT into serve.kill_timeout.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range nestedSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Load loads configuration from defaults, file, environment variables and
// flags. Precedence (highest to lowest): flags > env vars > config file > defaults
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// 1. Load defaults
	def := Default()
	if err := k.Load(confmap.Provider(map[string]any{
		"workspace":           def.Workspace,
		"state_path":          def.StatePath,
		"log_level":           def.LogLevel,
		"log_format":          def.LogFormat,
		"output":              def.Output,
		"watch":               def.Watch,
		"query.page_size":     def.Query.PageSize,
		"serve.command":       "",
		"serve.interpreter":   "",
		"serve.grace_period":  def.Serve.GracePeriod.String(),
		"serve.kill_timeout":  def.Serve.KillTimeout.String(),
		"serve.probe_timeout": def.Serve.ProbeTimeout.String(),
		"api.addr":            def.API.Addr,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	if cfgFile == "" {
		cfgFile = findConfigUpward(cwd)
	}
	baseDir := cwd
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		if abs, err := filepath.Abs(cfgFile); err == nil {
			cfgFile = abs
		}
		baseDir = filepath.Dir(cfgFile)
	}

	// 3. Load environment variables (TRILOGYCTL_ prefix)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = cfgFile

	// 6. Resolve relative paths. Flag values are relative to the working
	// directory, everything else to the config file's directory.
	changed := func(name string) bool {
		return flags != nil && flags.Lookup(name) != nil && flags.Changed(name)
	}
	pathBase := func(flag string) string {
		if changed(flag) {
			return cwd
		}
		return baseDir
	}
	for i, root := range cfg.Workspace {
		cfg.Workspace[i] = resolvePathRelativeTo(root, pathBase("workspace"))
	}
	if len(cfg.Workspace) == 0 {
		cfg.Workspace = []string{baseDir}
	}
	cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, pathBase("state"))
	if cfg.Query.PageSize <= 0 {
		cfg.Query.PageSize = DefaultPageSize
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q (expected text or json)", c.LogFormat)
	}
	if c.Serve.GracePeriod < 0 || c.Serve.KillTimeout < 0 || c.Serve.ProbeTimeout < 0 {
		return fmt.Errorf("serve timeouts must not be negative")
	}
	return nil
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return level, nil
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() any {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return Default()
}
