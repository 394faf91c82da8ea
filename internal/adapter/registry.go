package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// DefaultEngine is used when Config.Type is empty.
const DefaultEngine = "duckdb"

// Factory builds an unconnected adapter.
type Factory func(*slog.Logger) Adapter

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes an engine available under name. Engines register from init.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	factories[name] = f
	factoriesMu.Unlock()
}

// Engines returns the registered engine names, sorted.
func Engines() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}

// Open builds the engine named by cfg.Type and connects it.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Adapter, error) {
	name := cfg.Type
	if name == "" {
		name = DefaultEngine
	}

	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, &UnknownEngineError{Name: name, Known: Engines()}
	}

	a := f(logger)
	if err := a.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	return a, nil
}

// UnknownEngineError reports a Config.Type with no registered engine.
type UnknownEngineError struct {
	Name  string
	Known []string
}

func (e *UnknownEngineError) Error() string {
	return fmt.Sprintf("no query engine named %q (registered: %s)", e.Name, strings.Join(e.Known, ", "))
}
