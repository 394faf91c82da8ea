package query

import (
	"context"
	"sync"

	"github.com/leapstack-labs/trilogyctl/internal/protocol"
)

// Future resolves once a queued request has emitted its terminal message.
type Future struct {
	done chan struct{}

	mu       sync.Mutex
	messages []protocol.Message
	err      error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed when the request has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the request finishes or ctx is done. It returns every
// message the request emitted, terminal message last, and the request error.
// A request error is also reported in the terminal message.
func (f *Future) Wait(ctx context.Context) ([]protocol.Message, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return append([]protocol.Message(nil), f.messages...), f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminal returns the last message once the request has finished.
func (f *Future) Terminal() (protocol.Message, bool) {
	select {
	case <-f.done:
	default:
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil, false
	}
	return f.messages[len(f.messages)-1], true
}

func (f *Future) record(m protocol.Message) {
	f.mu.Lock()
	f.messages = append(f.messages, m)
	f.mu.Unlock()
}

func (f *Future) resolve(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.done)
}
