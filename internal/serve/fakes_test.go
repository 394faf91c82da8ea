package serve

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

type exitResult struct {
	code int
	err  error
}

type fakeProcess struct {
	pid        int
	spec       Spec
	ignoreTerm bool

	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter

	exitCh   chan exitResult
	exitOnce sync.Once
	exited   atomic.Bool

	terminated atomic.Int32
	killed     atomic.Int32
}

func newFakeProcess(pid int, spec Spec, ignoreTerm bool) *fakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &fakeProcess{
		pid: pid, spec: spec, ignoreTerm: ignoreTerm,
		outR: outR, outW: outW, errR: errR, errW: errW,
		exitCh: make(chan exitResult, 1),
	}
}

func (p *fakeProcess) Pid() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.outR }
func (p *fakeProcess) Stderr() io.Reader { return p.errR }

func (p *fakeProcess) Wait() (int, error) {
	r := <-p.exitCh
	return r.code, r.err
}

func (p *fakeProcess) stdout(s string) { _, _ = p.outW.Write([]byte(s)) }
func (p *fakeProcess) stderr(s string) { _, _ = p.errW.Write([]byte(s)) }

func (p *fakeProcess) exit(code int, err error) {
	p.exitOnce.Do(func() {
		p.exited.Store(true)
		_ = p.outW.Close()
		_ = p.errW.Close()
		p.exitCh <- exitResult{code: code, err: err}
	})
}

type fakeSpawner struct {
	mu         sync.Mutex
	procs      []*fakeProcess
	err        error
	ignoreTerm bool
}

func (s *fakeSpawner) Spawn(_ context.Context, spec Spec) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(1000+len(s.procs), spec, s.ignoreTerm)
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

// alive counts spawned processes that have not exited.
func (s *fakeSpawner) alive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.procs {
		if !p.exited.Load() {
			n++
		}
	}
	return n
}

type fakeTerminator struct{}

func (fakeTerminator) Terminate(p Process) error {
	fp := p.(*fakeProcess)
	fp.terminated.Add(1)
	if !fp.ignoreTerm {
		fp.exit(-1, nil)
	}
	return nil
}

func (fakeTerminator) Kill(p Process) error {
	fp := p.(*fakeProcess)
	fp.killed.Add(1)
	fp.exit(-1, nil)
	return nil
}

type fakeResolver struct {
	argv []string
	err  error
}

func (r fakeResolver) Resolve(context.Context, string) ([]string, error) {
	return r.argv, r.err
}

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *fakeOpener) Open(_ context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

type fakeProber struct {
	mu    sync.Mutex
	calls [][]string
	ok    func(argv []string) bool
}

func (p *fakeProber) Probe(_ context.Context, argv []string) error {
	p.mu.Lock()
	p.calls = append(p.calls, argv)
	p.mu.Unlock()
	if p.ok != nil && p.ok(argv) {
		return nil
	}
	return errors.New("exit status 1")
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
