package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/leapstack-labs/trilogyctl/internal/notify"
)

// Timing defaults.
const (
	DefaultGracePeriod = 1 * time.Second
	DefaultKillTimeout = 2 * time.Second

	// maxErrorLen bounds the captured stderr error text.
	maxErrorLen = 500
)

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s]+`)
	errorMarkers = []string{"Traceback", "Error", "ERROR"}
)

// Options configures a Supervisor.
type Options struct {
	Spawner    Spawner
	Terminator Terminator
	Resolver   CommandResolver
	Opener     Opener

	// DefaultFolder supplies the folder served when Start gets an empty one.
	DefaultFolder func() string

	GracePeriod time.Duration
	KillTimeout time.Duration
	Logger      *slog.Logger
}

// Supervisor runs at most one preview server process.
type Supervisor struct {
	spawner       Spawner
	terminator    Terminator
	resolver      CommandResolver
	opener        Opener
	defaultFolder func() string
	grace         time.Duration
	killTimeout   time.Duration
	logger        *slog.Logger

	// startMu serializes Start so a new process only spawns after the
	// previous one is gone.
	startMu sync.Mutex

	mu    sync.Mutex
	state State
	gen   uint64
	proc  Process
	done  chan struct{}
	timer *time.Timer

	statusHub *notify.Hub[State]
	noticeHub *notify.Hub[Notice]
}

// New creates an idle Supervisor.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	spawner := opts.Spawner
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	terminator := opts.Terminator
	if terminator == nil {
		terminator = NewTerminator()
	}
	opener := opts.Opener
	if opener == nil {
		opener = BrowserOpener{}
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewResolver(ResolverOptions{Logger: logger})
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	killTimeout := opts.KillTimeout
	if killTimeout <= 0 {
		killTimeout = DefaultKillTimeout
	}

	return &Supervisor{
		spawner:       spawner,
		terminator:    terminator,
		resolver:      resolver,
		opener:        opener,
		defaultFolder: opts.DefaultFolder,
		grace:         grace,
		killTimeout:   killTimeout,
		logger:        logger,
		state:         State{Phase: PhaseIdle},
		statusHub:     notify.New[State](),
		noticeHub:     notify.New[Notice](),
	}
}

// Status returns the current state.
func (s *Supervisor) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStatusChanged subscribes to state changes.
func (s *Supervisor) OnStatusChanged(fn func(State)) (dispose func()) {
	return s.statusHub.Subscribe(fn)
}

// OnNotice subscribes to user facing notices.
func (s *Supervisor) OnNotice(fn func(Notice)) (dispose func()) {
	return s.noticeHub.Subscribe(fn)
}

// StatusChannel streams state changes. Slow readers miss updates.
func (s *Supervisor) StatusChannel(buf int) (<-chan State, func()) {
	return s.statusHub.Channel(buf)
}

// Start launches `<trilogy> serve <folder>`, stopping any running server first.
func (s *Supervisor) Start(ctx context.Context, folder string) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if folder == "" && s.defaultFolder != nil {
		folder = s.defaultFolder()
	}
	if folder == "" {
		return errors.New("no folder to serve: pass a folder or select a config")
	}
	if abs, err := filepath.Abs(folder); err == nil {
		folder = abs
	}

	if err := s.awaitStop(ctx, s.Stop()); err != nil {
		return err
	}

	argv, err := s.resolver.Resolve(ctx, folder)
	if err != nil {
		s.setFailed(folder, err)
		var resErr *ResolutionError
		if errors.As(err, &resErr) {
			s.noticeHub.Publish(Notice{Level: NoticeError, Message: err.Error(), Link: InstallURL})
		}
		return err
	}

	args := append(append([]string{}, argv[1:]...), "serve", folder)
	s.logger.Info("starting preview server", "command", argv[0], "args", args, "dir", folder)

	proc, err := s.spawner.Spawn(ctx, Spec{Path: argv[0], Args: args, Dir: folder})
	if err != nil {
		runErr := &RuntimeError{Err: err}
		s.setFailed(folder, runErr)
		return runErr
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.proc = proc
	s.done = make(chan struct{})
	done := s.done
	s.state = State{Phase: PhaseStarting, FolderPath: folder, Pid: proc.Pid()}
	s.timer = time.AfterFunc(s.grace, func() { s.graceElapsed(gen) })
	snapshot := s.state
	s.mu.Unlock()

	s.statusHub.Publish(snapshot)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(gen, "stdout", proc.Stdout(), &pumps)
	go s.pump(gen, "stderr", proc.Stderr(), &pumps)
	go s.wait(gen, proc, done, &pumps)

	return nil
}

// awaitStop waits for a stopping process, bounded by the kill timeout.
func (s *Supervisor) awaitStop(ctx context.Context, done <-chan struct{}) error {
	timer := time.NewTimer(s.killTimeout + time.Second)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		s.logger.Warn("previous preview server did not exit in time")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the running server. The phase becomes idle immediately; the
// returned channel closes once the process is gone. Stop on a supervisor with
// no process changes nothing and returns a closed channel.
func (s *Supervisor) Stop() <-chan struct{} {
	s.mu.Lock()
	if s.proc == nil {
		s.mu.Unlock()
		closed := make(chan struct{})
		close(closed)
		return closed
	}

	proc, done := s.proc, s.done
	s.gen++
	s.proc = nil
	s.done = nil
	s.stopTimerLocked()
	s.state = State{Phase: PhaseIdle}
	snapshot := s.state
	s.mu.Unlock()

	s.statusHub.Publish(snapshot)

	s.logger.Info("stopping preview server", "pid", proc.Pid())
	if err := s.terminator.Terminate(proc); err != nil {
		s.logger.Warn("failed to terminate preview server", "pid", proc.Pid(), "error", err)
	}

	go func() {
		timer := time.NewTimer(s.killTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			s.logger.Warn("preview server did not exit, killing", "pid", proc.Pid())
			if err := s.terminator.Kill(proc); err != nil {
				s.logger.Warn("failed to kill preview server", "pid", proc.Pid(), "error", err)
			}
		}
	}()

	return done
}

// Shutdown stops the server and waits for it to exit or ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	return s.awaitStop(ctx, s.Stop())
}

// OpenURL opens the serving URL through the host opener.
func (s *Supervisor) OpenURL(ctx context.Context) error {
	url := s.Status().URL
	if url == "" {
		return ErrNotRunning
	}
	return s.opener.Open(ctx, url)
}

func (s *Supervisor) setFailed(folder string, err error) {
	s.mu.Lock()
	s.state = State{Phase: PhaseFailed, FolderPath: folder, Error: err.Error()}
	snapshot := s.state
	s.mu.Unlock()

	s.logger.Error("preview server failed", "error", err)
	s.statusHub.Publish(snapshot)
}

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// graceElapsed treats a quiet, live process as running.
func (s *Supervisor) graceElapsed(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.proc == nil || s.state.Phase != PhaseStarting || s.state.URL != "" || s.state.Error != "" {
		s.mu.Unlock()
		return
	}
	s.state.Phase = PhaseRunning
	snapshot := s.state
	s.mu.Unlock()

	s.logger.Debug("no URL reported within grace period, assuming running")
	s.statusHub.Publish(snapshot)
}

func (s *Supervisor) pump(gen uint64, stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	if r == nil {
		return
	}

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.handleChunk(gen, stream, string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) handleChunk(gen uint64, stream, chunk string) {
	s.logger.Info("preview server output", "stream", stream, "text", strings.TrimRight(chunk, "\r\n"))

	s.mu.Lock()
	if gen != s.gen || s.proc == nil {
		s.mu.Unlock()
		return
	}

	changed := false
	var notice *Notice

	if s.state.URL == "" && s.state.Phase.Alive() {
		if url := urlPattern.FindString(chunk); url != "" {
			s.state.URL = url
			s.state.Phase = PhaseRunning
			s.stopTimerLocked()
			changed = true
			notice = &Notice{Level: NoticeInfo, Message: "Trilogy server running at " + url, Link: url}
		}
	}

	if stream == "stderr" && hasErrorMarker(chunk) {
		s.state.Error = truncate(strings.TrimSpace(chunk), maxErrorLen)
		changed = true
	}

	snapshot := s.state
	s.mu.Unlock()

	if changed {
		s.statusHub.Publish(snapshot)
	}
	if notice != nil {
		s.noticeHub.Publish(*notice)
	}
}

func (s *Supervisor) wait(gen uint64, proc Process, done chan struct{}, pumps *sync.WaitGroup) {
	defer close(done)

	pumps.Wait()
	code, err := proc.Wait()

	s.mu.Lock()
	if gen != s.gen {
		// superseded by Stop or a newer Start
		s.mu.Unlock()
		s.logger.Debug("preview server exited", "pid", proc.Pid(), "code", code)
		return
	}

	s.proc = nil
	s.done = nil
	s.stopTimerLocked()
	folder := s.state.FolderPath

	switch {
	case err != nil:
		s.state = State{Phase: PhaseFailed, FolderPath: folder, Error: (&RuntimeError{Err: err}).Error()}
	case code == 0:
		s.state = State{Phase: PhaseIdle, FolderPath: folder}
	default:
		s.state = State{Phase: PhaseFailed, FolderPath: folder, Error: (&ExitError{Code: code}).Error()}
	}
	snapshot := s.state
	s.mu.Unlock()

	s.logger.Info("preview server exited", "pid", proc.Pid(), "code", code, "phase", snapshot.Phase)
	s.statusHub.Publish(snapshot)
}

func hasErrorMarker(chunk string) bool {
	for _, marker := range errorMarkers {
		if strings.Contains(chunk, marker) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// String renders the state for logs and the CLI.
func (st State) String() string {
	var b strings.Builder
	b.WriteString(string(st.Phase))
	if st.FolderPath != "" {
		fmt.Fprintf(&b, " folder=%s", st.FolderPath)
	}
	if st.URL != "" {
		fmt.Fprintf(&b, " url=%s", st.URL)
	}
	if st.Error != "" {
		fmt.Fprintf(&b, " error=%q", st.Error)
	}
	return b.String()
}
