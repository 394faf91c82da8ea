package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"mvdan.cc/sh/v3/shell"
)

// Defaults for command resolution.
const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultProbeTTL     = 30 * time.Second
)

// envDirs are conventional local virtual environment directory names.
var envDirs = []string{".venv", "venv", "env", ".env"}

// Prober checks that a command runs.
type Prober interface {
	// Probe runs argv with --version and returns nil on exit code 0.
	Probe(ctx context.Context, argv []string) error
}

// ExecProber probes commands with os/exec.
type ExecProber struct{}

// Probe implements Prober.
func (ExecProber) Probe(ctx context.Context, argv []string) error {
	args := append(append([]string{}, argv[1:]...), "--version")
	return exec.CommandContext(ctx, argv[0], args...).Run() //nolint:gosec // candidates are resolved paths
}

// CommandResolver picks the command used to launch the server.
type CommandResolver interface {
	Resolve(ctx context.Context, folder string) ([]string, error)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// Override is a user configured command line, split with shell rules.
	Override string

	// Interpreter returns the path of the configured Python interpreter.
	Interpreter func() string

	// Roots are the workspace roots searched for local environments.
	Roots []string

	Prober       Prober
	ProbeTimeout time.Duration
	ProbeTTL     time.Duration
	Logger       *slog.Logger
}

// Resolver finds a runnable trilogy command. Probe outcomes are cached for
// ProbeTTL so repeated starts do not re-run every candidate.
type Resolver struct {
	override     string
	interpreter  func() string
	roots        []string
	prober       Prober
	probeTimeout time.Duration
	logger       *slog.Logger
	cache        *ttlcache.Cache[string, bool]

	goos     string
	stat     func(string) (os.FileInfo, error)
	lookPath func(string) (string, error)
}

// NewResolver creates a Resolver. Call Close to stop the cache.
func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	prober := opts.Prober
	if prober == nil {
		prober = ExecProber{}
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ttl := opts.ProbeTTL
	if ttl <= 0 {
		ttl = DefaultProbeTTL
	}

	c := ttlcache.New[string, bool](
		ttlcache.WithTTL[string, bool](ttl),
		ttlcache.WithDisableTouchOnHit[string, bool](),
	)
	go c.Start()

	return &Resolver{
		override:     strings.TrimSpace(opts.Override),
		interpreter:  opts.Interpreter,
		roots:        opts.Roots,
		prober:       prober,
		probeTimeout: timeout,
		logger:       logger,
		cache:        c,
		goos:         runtime.GOOS,
		stat:         os.Stat,
		lookPath:     exec.LookPath,
	}
}

// Close stops the probe cache expiration loop.
func (r *Resolver) Close() {
	r.cache.Stop()
}

// candidate is one command line to try.
type candidate struct {
	argv []string

	// file must exist before probing
	file string

	// unavailable candidates are reported but never probed
	unavailable bool
}

func (c candidate) String() string {
	return strings.Join(c.argv, " ")
}

// Resolve returns the first candidate whose probe succeeds.
func (r *Resolver) Resolve(ctx context.Context, folder string) ([]string, error) {
	cands, err := r.candidates(folder)
	if err != nil {
		return nil, err
	}

	tried := make([]string, 0, len(cands))
	for _, c := range cands {
		tried = append(tried, c.String())
		if c.unavailable {
			continue
		}
		if c.file != "" {
			if info, err := r.stat(c.file); err != nil || info.IsDir() {
				continue
			}
		}
		if r.probe(ctx, c.argv) {
			r.logger.Debug("resolved trilogy command", "command", c.String())
			return c.argv, nil
		}
	}

	return nil, &ResolutionError{Tried: tried}
}

func (r *Resolver) probe(ctx context.Context, argv []string) bool {
	key := strings.Join(argv, "\x00")
	if item := r.cache.Get(key); item != nil {
		return item.Value()
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	err := r.prober.Probe(probeCtx, argv)
	ok := err == nil
	if !ok {
		r.logger.Debug("probe failed", "command", strings.Join(argv, " "), "error", err)
	}
	r.cache.Set(key, ok, ttlcache.DefaultTTL)
	return ok
}

// candidates lists commands in preference order.
func (r *Resolver) candidates(folder string) ([]candidate, error) {
	var out []candidate

	if r.override != "" {
		argv, err := shell.Fields(r.override, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid serve command %q: %w", r.override, err)
		}
		if len(argv) > 0 {
			out = append(out, candidate{argv: argv})
		}
	}

	if r.interpreter != nil {
		if hint := r.interpreter(); hint != "" {
			sibling := filepath.Join(filepath.Dir(hint), r.exeName())
			out = append(out, candidate{argv: []string{sibling}, file: sibling})
		}
	}

	bases := make([]string, 0, len(r.roots)+1)
	if folder != "" {
		bases = append(bases, folder)
	}
	for _, root := range r.roots {
		if root != folder {
			bases = append(bases, root)
		}
	}
	for _, base := range bases {
		for _, env := range envDirs {
			path := r.envCommand(base, env)
			out = append(out, candidate{argv: []string{path}, file: path})
		}
	}

	if path, err := r.lookPath("trilogy"); err == nil {
		out = append(out, candidate{argv: []string{path}})
	} else {
		out = append(out, candidate{argv: []string{"trilogy"}, unavailable: true})
	}

	return out, nil
}

func (r *Resolver) envCommand(base, env string) string {
	if r.goos == "windows" {
		return filepath.Join(base, env, "Scripts", "trilogy.exe")
	}
	return filepath.Join(base, env, "bin", "trilogy")
}

func (r *Resolver) exeName() string {
	if r.goos == "windows" {
		return "trilogy.exe"
	}
	return "trilogy"
}
