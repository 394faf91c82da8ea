// Package registry discovers trilogy.toml project files in a workspace and
// tracks which one is active. Changes to the discovered set and to the active
// selection are broadcast to subscribers.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/leapstack-labs/trilogyctl/internal/config"
	"github.com/leapstack-labs/trilogyctl/internal/notify"
	"github.com/leapstack-labs/trilogyctl/internal/state"
)

// ErrUnknownConfig is returned when activating a record that is not part of
// the current discovered set.
var ErrUnknownConfig = errors.New("config is not in the discovered set")

// Finder locates configuration files below a workspace root.
type Finder interface {
	Find(ctx context.Context, root string) ([]string, error)
}

// Reader reads the contents of a discovered file.
type Reader interface {
	ReadFile(path string) ([]byte, error)
}

// Store persists the active selection across restarts.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// State is a snapshot of the registry.
type State struct {
	Records []config.Record `json:"configs" yaml:"configs"`
	Active  *config.Record  `json:"active" yaml:"active"`
}

// Options configures a Registry.
type Options struct {
	Roots  []string
	Finder Finder
	Reader Reader
	Store  Store
	Logger *slog.Logger
}

// Registry owns the discovered configuration records and the active one.
type Registry struct {
	roots  []string
	finder Finder
	reader Reader
	store  Store
	logger *slog.Logger

	// discoverMu serializes discovery passes so that state replacement and
	// event delivery of one pass never interleave with another.
	discoverMu sync.Mutex

	mu      sync.RWMutex
	records []config.Record
	active  *config.Record
	pending string

	recordsHub *notify.Hub[[]config.Record]
	activeHub  *notify.Hub[*config.Record]
}

// New creates a Registry. Missing Finder and Reader default to the local
// filesystem; a missing Store keeps state in memory.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	finder := opts.Finder
	if finder == nil {
		finder = NewFSFinder(config.FileName)
	}
	reader := opts.Reader
	if reader == nil {
		reader = FSReader{}
	}
	store := opts.Store
	if store == nil {
		store = state.NewMemoryStore()
	}

	roots := make([]string, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		roots = append(roots, filepath.Clean(r))
	}

	return &Registry{
		roots:      roots,
		finder:     finder,
		reader:     reader,
		store:      store,
		logger:     logger,
		recordsHub: notify.New[[]config.Record](),
		activeHub:  notify.New[*config.Record](),
	}
}

// Roots returns the workspace roots searched by Discover.
func (r *Registry) Roots() []string {
	return slices.Clone(r.roots)
}

// Discover rescans all roots and replaces the record set.
// A file that cannot be read or parsed is logged and skipped.
func (r *Registry) Discover(ctx context.Context) State {
	r.discoverMu.Lock()
	defer r.discoverMu.Unlock()

	records := r.scan(ctx)

	r.mu.Lock()
	r.records = records

	var (
		activeChanged bool
		newActive     *config.Record
		clearStore    bool
	)

	if r.active != nil {
		if rec, ok := findRecord(records, r.active.AbsolutePath); ok {
			if !rec.Equal(*r.active) {
				updated := rec.Clone()
				r.active = &updated
				activeChanged = true
				newActive = cloneRecord(r.active)
			}
		} else {
			r.active = nil
			activeChanged = true
			clearStore = true
		}
	}

	if r.pending != "" {
		if rec, ok := findRecord(records, r.pending); ok {
			r.pending = ""
			if r.active == nil || !rec.Equal(*r.active) {
				updated := rec.Clone()
				r.active = &updated
				activeChanged = true
				newActive = cloneRecord(r.active)
				clearStore = false
			}
		}
	}

	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if clearStore {
		if err := r.store.Delete(ctx, state.KeyActiveConfigPath); err != nil {
			r.logger.Warn("failed to clear saved active config", "error", err)
		}
	}

	r.recordsHub.Publish(cloneRecords(snapshot.Records))
	if activeChanged {
		r.activeHub.Publish(newActive)
	}

	r.logger.Debug("discovered configs", "count", len(snapshot.Records))
	return snapshot
}

func (r *Registry) scan(ctx context.Context) []config.Record {
	seen := make(map[string]struct{})
	var records []config.Record

	for _, root := range r.roots {
		paths, err := r.finder.Find(ctx, root)
		if err != nil {
			r.logger.Error("failed to search workspace root", "root", root, "error", err)
			continue
		}
		for _, path := range paths {
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}

			rec, err := r.load(path)
			if err != nil {
				r.logger.Error("failed to load config", "path", path, "error", err)
				continue
			}
			records = append(records, rec)
		}
	}

	slices.SortFunc(records, func(a, b config.Record) int {
		return strings.Compare(a.AbsolutePath, b.AbsolutePath)
	})
	if records == nil {
		records = []config.Record{}
	}
	return records
}

func (r *Registry) load(path string) (config.Record, error) {
	data, err := r.reader.ReadFile(path)
	if err != nil {
		return config.Record{}, err
	}
	return config.ParseRecord(path, r.displayPath(path), string(data))
}

// displayPath renders path relative to the root that contains it.
func (r *Registry) displayPath(path string) string {
	for _, root := range r.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return filepath.ToSlash(rel)
	}
	return path
}

// SetActive marks rec as active. A nil record clears the selection.
// Persisting the choice is best effort; a failure is logged.
func (r *Registry) SetActive(ctx context.Context, rec *config.Record) error {
	r.mu.Lock()
	if rec != nil {
		if _, ok := findRecord(r.records, rec.AbsolutePath); !ok {
			r.mu.Unlock()
			return ErrUnknownConfig
		}
	}
	r.pending = ""
	if rec == nil {
		r.active = nil
	} else {
		found, _ := findRecord(r.records, rec.AbsolutePath)
		active := found.Clone()
		r.active = &active
	}
	published := cloneRecord(r.active)
	r.mu.Unlock()

	var err error
	if published == nil {
		err = r.store.Delete(ctx, state.KeyActiveConfigPath)
	} else {
		err = r.store.Set(ctx, state.KeyActiveConfigPath, published.AbsolutePath)
	}
	if err != nil {
		r.logger.Warn("failed to persist active config", "error", err)
	}

	r.activeHub.Publish(published)
	return nil
}

// SetActivePath activates the discovered record at path.
func (r *Registry) SetActivePath(ctx context.Context, path string) error {
	if path == "" {
		return r.SetActive(ctx, nil)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	r.mu.RLock()
	rec, ok := findRecord(r.records, path)
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConfig
	}
	return r.SetActive(ctx, &rec)
}

// ClearActive clears the active selection.
func (r *Registry) ClearActive(ctx context.Context) {
	_ = r.SetActive(ctx, nil)
}

// RestoreActive remembers path so that the first discovery containing it
// activates that record.
func (r *Registry) RestoreActive(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = path
}

// RestoreFromStore loads the saved active path from the store, if any.
func (r *Registry) RestoreFromStore(ctx context.Context) error {
	path, ok, err := r.store.Get(ctx, state.KeyActiveConfigPath)
	if err != nil {
		return err
	}
	if ok && path != "" {
		r.RestoreActive(path)
	}
	return nil
}

// State returns a snapshot of records and the active record.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Records returns the discovered records.
func (r *Registry) Records() []config.Record {
	return r.State().Records
}

// Active returns the active record, or nil.
func (r *Registry) Active() *config.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneRecord(r.active)
}

// ActiveDialect returns the active record's dialect or the default.
func (r *Registry) ActiveDialect() string {
	if rec := r.Active(); rec != nil {
		return rec.DialectOrDefault()
	}
	return config.DefaultDialect
}

// OnRecordsChanged subscribes to record set replacements.
func (r *Registry) OnRecordsChanged(fn func([]config.Record)) (dispose func()) {
	return r.recordsHub.Subscribe(fn)
}

// OnActiveChanged subscribes to active selection changes. A nil record means
// the selection was cleared.
func (r *Registry) OnActiveChanged(fn func(*config.Record)) (dispose func()) {
	return r.activeHub.Subscribe(fn)
}

func (r *Registry) snapshotLocked() State {
	return State{Records: cloneRecords(r.records), Active: cloneRecord(r.active)}
}

func findRecord(records []config.Record, path string) (config.Record, bool) {
	for _, rec := range records {
		if rec.AbsolutePath == path {
			return rec, true
		}
	}
	return config.Record{}, false
}

func cloneRecord(rec *config.Record) *config.Record {
	if rec == nil {
		return nil
	}
	c := rec.Clone()
	return &c
}

func cloneRecords(records []config.Record) []config.Record {
	out := make([]config.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
