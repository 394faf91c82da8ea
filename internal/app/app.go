// Package app wires the registry, query sessions and preview server
// supervisor into one explicitly constructed set of services shared by every
// transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/trilogyctl/internal/notify"
	"github.com/leapstack-labs/trilogyctl/internal/protocol"
	"github.com/leapstack-labs/trilogyctl/internal/query"
	"github.com/leapstack-labs/trilogyctl/internal/registry"
	"github.com/leapstack-labs/trilogyctl/internal/serve"
	"github.com/leapstack-labs/trilogyctl/internal/state"
)

// ServeOptions configures the preview server supervisor.
type ServeOptions struct {
	Command      string
	Interpreter  string
	GracePeriod  time.Duration
	KillTimeout  time.Duration
	ProbeTimeout time.Duration

	// Spawner, Opener and Terminator override the OS implementations.
	Spawner    serve.Spawner
	Opener     serve.Opener
	Terminator serve.Terminator

	// Resolver overrides command resolution entirely.
	Resolver serve.CommandResolver
}

// Options configures Services.
type Options struct {
	// Roots are the workspace folders searched for trilogy.toml files.
	Roots []string

	// StatePath is the SQLite file holding workspace state. Empty keeps
	// state in memory for the life of the process.
	StatePath string

	// PageSize is the default query page size.
	PageSize int

	Serve  ServeOptions
	Logger *slog.Logger
}

// Services is the session control plane.
type Services struct {
	Registry *registry.Registry
	Sessions *query.Manager
	Serve    *serve.Supervisor

	store    *state.SQLiteStore
	resolver *serve.Resolver
	messages *notify.Hub[protocol.Message]
	pageSize int
	logger   *slog.Logger
}

// New constructs Services and restores the saved active config path.
// Discovery is not run; call Discover or Run.
func New(ctx context.Context, opts Options) (*Services, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	roots := opts.Roots
	if len(roots) == 0 {
		roots = []string{"."}
	}

	var (
		kv    registry.Store
		store *state.SQLiteStore
	)
	if opts.StatePath != "" {
		store = state.NewSQLiteStore(state.ScopeFor(roots), logger)
		if err := store.Open(opts.StatePath); err != nil {
			return nil, fmt.Errorf("failed to open workspace state: %w", err)
		}
		kv = store
	} else {
		kv = state.NewMemoryStore()
	}

	reg := registry.New(registry.Options{
		Roots:  roots,
		Store:  kv,
		Logger: logger.With("component", "registry"),
	})
	if err := reg.RestoreFromStore(ctx); err != nil {
		logger.Warn("failed to restore active config", "error", err)
	}

	s := &Services{
		Registry: reg,
		Sessions: query.NewManager(logger.With("component", "query")),
		store:    store,
		messages: notify.New[protocol.Message](),
		pageSize: opts.PageSize,
		logger:   logger,
	}
	if s.pageSize <= 0 {
		s.pageSize = query.DefaultPageSize
	}

	resolver := opts.Serve.Resolver
	if resolver == nil {
		interpreter := opts.Serve.Interpreter
		s.resolver = serve.NewResolver(serve.ResolverOptions{
			Override:     opts.Serve.Command,
			Interpreter:  func() string { return interpreter },
			Roots:        reg.Roots(),
			ProbeTimeout: opts.Serve.ProbeTimeout,
			Logger:       logger.With("component", "resolver"),
		})
		resolver = s.resolver
	}

	s.Serve = serve.New(serve.Options{
		Spawner:       opts.Serve.Spawner,
		Opener:        opts.Serve.Opener,
		Terminator:    opts.Serve.Terminator,
		Resolver:      resolver,
		DefaultFolder: s.activeFolder,
		GracePeriod:   opts.Serve.GracePeriod,
		KillTimeout:   opts.Serve.KillTimeout,
		Logger:        logger.With("component", "serve"),
	})

	return s, nil
}

// activeFolder is the directory of the active config, if any.
func (s *Services) activeFolder() string {
	if rec := s.Registry.Active(); rec != nil {
		return filepath.Dir(rec.AbsolutePath)
	}
	return ""
}

// PageSize returns the default query page size.
func (s *Services) PageSize() int {
	return s.pageSize
}

// Discover runs a discovery pass.
func (s *Services) Discover(ctx context.Context) registry.State {
	return s.Registry.Discover(ctx)
}

// OpenSession opens a query session configured from the active config.
func (s *Services) OpenSession(ctx context.Context) (string, *query.Session, error) {
	return s.Sessions.Open(ctx, query.Options{Config: s.Registry.Active()})
}

// RenderQueries broadcasts statements for read-only display. An empty
// dialect uses the active one.
func (s *Services) RenderQueries(queries []string, dialect string) protocol.RenderQueries {
	if dialect == "" {
		dialect = s.Registry.ActiveDialect()
	}
	if queries == nil {
		queries = []string{}
	}
	msg := protocol.RenderQueries{RenderQueries: queries, Dialect: dialect}
	s.messages.Publish(msg)
	return msg
}

// OnMessage subscribes to broadcast presentation messages.
func (s *Services) OnMessage(fn func(protocol.Message)) (dispose func()) {
	return s.messages.Subscribe(fn)
}

// Run discovers configs, optionally watches for changes and blocks until ctx
// is done.
func (s *Services) Run(ctx context.Context, watch bool) error {
	s.Discover(ctx)

	eg, egctx := errgroup.WithContext(ctx)
	if watch {
		eg.Go(func() error {
			return s.Registry.Watch(egctx)
		})
	}
	eg.Go(func() error {
		<-egctx.Done()
		return nil
	})
	return eg.Wait()
}

// Close releases every resource: sessions, the preview server and the state
// store.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if err := s.Sessions.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Serve.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.resolver != nil {
		s.resolver.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
