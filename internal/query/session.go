// Package query runs ad-hoc statements against an embedded DuckDB connection
// using a two phase protocol: the statement is described to obtain column
// headers, then wrapped and executed one page at a time.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/leapstack-labs/trilogyctl/internal/adapter"
	"github.com/leapstack-labs/trilogyctl/internal/config"
	"github.com/leapstack-labs/trilogyctl/internal/protocol"
)

// DefaultPageSize is the row limit used when a caller passes zero.
const DefaultPageSize = 100

// Options configures a Session.
type Options struct {
	// Config is the active project configuration. Its setup scripts run on
	// open and its dialect is reported by the session. May be nil.
	Config *config.Record

	// AdapterType names a registered engine. Empty selects adapter.DefaultEngine.
	AdapterType string

	// Adapter, when set, is used as is instead of connecting a new one.
	Adapter adapter.Adapter

	// ReadFile reads setup scripts. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)

	Logger *slog.Logger
}

type requestKind int

const (
	kindQuery requestKind = iota
	kindMore
)

type request struct {
	kind   requestKind
	sql    string
	limit  int
	offset int
	emit   protocol.Emitter
	future *Future
}

func (r *request) send(m protocol.Message) {
	r.future.record(m)
	if r.emit != nil {
		r.emit(m)
	}
}

// fail emits the terminal failure message for the request kind.
func (r *request) fail(err error) {
	switch r.kind {
	case kindMore:
		r.send(protocol.MoreFailed(err))
	default:
		r.send(protocol.QueryFailed(r.sql, err))
	}
	r.future.resolve(err)
}

// Session owns one engine connection. Requests run one at a time in the
// order they were submitted.
type Session struct {
	adapter adapter.Adapter
	dialect string
	logger  *slog.Logger

	setupCompleted atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []*request
	closed bool
	wake   chan struct{}

	workerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// Open connects a new in-memory engine and runs the configured setup scripts.
// Setup failures are logged and do not fail Open.
func Open(ctx context.Context, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	a := opts.Adapter
	if a == nil {
		cfg := adapter.Config{Type: opts.AdapterType, Path: ":memory:"}
		if opts.Config != nil {
			cfg.Threads = opts.Config.Parallelism
		}
		var err error
		a, err = adapter.Open(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open query engine: %w", err)
		}
	}

	dialect := config.DefaultDialect
	if opts.Config != nil {
		dialect = opts.Config.DialectOrDefault()
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		adapter:    a,
		dialect:    dialect,
		logger:     logger,
		ctx:        sessionCtx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		workerDone: make(chan struct{}),
	}

	readFile := opts.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	s.runSetup(ctx, opts.Config, readFile)

	go s.work()
	return s, nil
}

// runSetup executes each setup script in order. A failing script is logged
// and skipped.
func (s *Session) runSetup(ctx context.Context, rec *config.Record, readFile func(string) ([]byte, error)) {
	defer s.setupCompleted.Store(true)
	if rec == nil || len(rec.SetupScripts) == 0 {
		return
	}

	base := filepath.Dir(rec.AbsolutePath)
	for _, script := range rec.SetupScripts {
		path := script
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}

		if err := s.runScript(ctx, path, readFile); err != nil {
			s.logger.Warn("setup script failed", "error", err)
			continue
		}
		s.logger.Debug("ran setup script", "path", path)
	}
}

func (s *Session) runScript(ctx context.Context, path string, readFile func(string) ([]byte, error)) error {
	data, err := readFile(path)
	if err != nil {
		return &SetupScriptError{Path: path, Err: err}
	}
	if err := s.adapter.Exec(ctx, string(data)); err != nil {
		return &SetupScriptError{Path: path, Err: err}
	}
	return nil
}

// SetupCompleted reports whether setup has finished.
func (s *Session) SetupCompleted() bool {
	return s.setupCompleted.Load()
}

// Dialect returns the dialect of the configuration the session opened with.
func (s *Session) Dialect() string {
	return s.dialect
}

// RunQuery queues sql for introspection and execution of its first page.
// emit receives each message from the worker goroutine; it may be nil.
func (s *Session) RunQuery(sql string, limit int, emit protocol.Emitter) *Future {
	return s.submit(&request{kind: kindQuery, sql: sql, limit: pageSize(limit), emit: emit})
}

// FetchMore queues a request for the page of sql starting at offset.
func (s *Session) FetchMore(sql string, limit, offset int, emit protocol.Emitter) *Future {
	if offset < 0 {
		offset = 0
	}
	return s.submit(&request{kind: kindMore, sql: sql, limit: pageSize(limit), offset: offset, emit: emit})
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}

func (s *Session) submit(r *request) *Future {
	r.future = newFuture()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		r.fail(ErrSessionClosed)
		return r.future
	}
	s.queue = append(s.queue, r)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return r.future
}

func (s *Session) work() {
	defer close(s.workerDone)
	for {
		r, ok := s.next()
		if !ok {
			return
		}
		s.handle(r)
	}
}

// next blocks until a request is queued or the session closes. On close,
// any queued requests are failed.
func (s *Session) next() (*request, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			pending := s.queue
			s.queue = nil
			s.mu.Unlock()
			for _, r := range pending {
				r.fail(ErrSessionClosed)
			}
			return nil, false
		}
		if len(s.queue) > 0 {
			r := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return r, true
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *Session) handle(r *request) {
	var err error
	switch r.kind {
	case kindMore:
		err = s.fetchMore(r)
	default:
		err = s.runQuery(r)
	}
	r.future.resolve(err)
}

func (s *Session) runQuery(r *request) error {
	ctx := s.ctx

	if IsAdminStatement(r.sql) {
		r.send(protocol.QueryParse{Success: true, Message: protocol.FinishedParse})

		result, err := s.adapter.Query(ctx, r.sql)
		if err != nil {
			execErr := &ExecutionError{SQL: r.sql, Err: err}
			r.send(protocol.QueryFailed(r.sql, execErr))
			return execErr
		}
		r.send(protocol.QuerySucceeded(r.sql, []protocol.ColumnDescription{}, NormalizeRows(result.Rows)))
		return nil
	}

	described, err := s.adapter.Query(ctx, DescribeSQL(r.sql))
	if err != nil {
		introErr := &IntrospectionError{SQL: r.sql, Err: err}
		r.send(protocol.ParseFailed(introErr))
		return introErr
	}
	headers := columnDescriptions(described)

	result, err := s.adapter.Query(ctx, PageSQL(r.sql, r.limit, 0))
	if err != nil {
		execErr := &ExecutionError{SQL: r.sql, Err: err}
		r.send(protocol.QueryFailed(r.sql, execErr))
		return execErr
	}

	r.send(protocol.QuerySucceeded(r.sql, headers, NormalizeRows(result.Rows)))
	return nil
}

func (s *Session) fetchMore(r *request) error {
	result, err := s.adapter.Query(s.ctx, PageSQL(r.sql, r.limit, r.offset))
	if err != nil {
		execErr := &ExecutionError{SQL: r.sql, Err: err}
		r.send(protocol.MoreFailed(execErr))
		return execErr
	}
	r.send(protocol.More{Success: true, Results: NormalizeRows(result.Rows)})
	return nil
}

// columnDescriptions maps DESCRIBE output rows to headers.
func columnDescriptions(result *adapter.Result) []protocol.ColumnDescription {
	headers := make([]protocol.ColumnDescription, 0, len(result.Rows))
	for _, row := range result.Rows {
		headers = append(headers, protocol.ColumnDescription{
			ColumnName: stringValue(row["column_name"]),
			ColumnType: stringValue(row["column_type"]),
			Null:       stringValue(row["null"]),
			Key:        optionalString(row["key"]),
			Default:    optionalString(row["default"]),
			Extra:      optionalString(row["extra"]),
		})
	}
	return headers
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func optionalString(v any) *string {
	if v == nil {
		return nil
	}
	s := stringValue(v)
	return &s
}

// Close stops the worker, fails queued requests and closes the engine.
// An in-flight statement is canceled.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		select {
		case s.wake <- struct{}{}:
		default:
		}
		<-s.workerDone

		s.closeErr = s.adapter.Close()
		s.logger.Debug("query session closed")
	})
	return s.closeErr
}
