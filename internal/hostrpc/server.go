// Package hostrpc exposes the control plane to an editor host as JSON-RPC 2.0
// over stdio with Content-Length framing. Registry and supervisor changes are
// pushed to the host as notifications.
package hostrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/trilogyctl/internal/app"
	"github.com/leapstack-labs/trilogyctl/internal/config"
	"github.com/leapstack-labs/trilogyctl/internal/protocol"
	"github.com/leapstack-labs/trilogyctl/internal/serve"
)

// Notification methods sent to the host.
const (
	NotifyConfigsChanged = "configs/changed"
	NotifyActiveChanged  = "configs/activeChanged"
	NotifyServeStatus    = "serve/status"
	NotifyServeNotice    = "serve/notice"
	NotifyMessage        = "message"
)

// Server serves one host connection.
type Server struct {
	services *app.Services
	reader   *bufio.Reader
	writer   io.Writer
	writeMu  sync.Mutex
	logger   *slog.Logger

	// pending tracks in-flight asynchronous requests
	pending sync.WaitGroup

	shutdownMu sync.RWMutex
	shutdown   bool
	exited     bool
}

// NewServer creates a server reading requests from r and writing to w.
func NewServer(services *app.Services, r io.Reader, w io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		services: services,
		reader:   bufio.NewReader(r),
		writer:   w,
		logger:   logger,
	}
}

// Run processes messages until the host sends exit or closes the stream.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("host bridge starting")

	disposers := []func(){
		s.services.Registry.OnRecordsChanged(func(records []config.Record) {
			s.notify(NotifyConfigsChanged, map[string]any{"configs": records})
		}),
		s.services.Registry.OnActiveChanged(func(rec *config.Record) {
			s.notify(NotifyActiveChanged, map[string]any{"active": rec})
		}),
		s.services.Serve.OnStatusChanged(func(st serve.State) {
			s.notify(NotifyServeStatus, st)
		}),
		s.services.Serve.OnNotice(func(n serve.Notice) {
			s.notify(NotifyServeNotice, n)
		}),
		s.services.OnMessage(func(m protocol.Message) {
			s.notify(NotifyMessage, messageParams{Message: m})
		}),
	}
	defer func() {
		for _, dispose := range disposers {
			dispose()
		}
		s.pending.Wait()
	}()

	for {
		if s.hasExited() {
			return nil
		}

		msg, err := ReadMessage(s.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("host disconnected")
				return nil
			}
			var rpcErr *Error
			if errors.As(err, &rpcErr) {
				s.respond(nil, nil, rpcErr)
				continue
			}
			return err
		}

		s.handle(ctx, msg)
	}
}

func (s *Server) hasExited() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.exited
}

func (s *Server) respond(id *json.RawMessage, result any, rpcErr *Error) {
	msg := &Message{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		msg.Error = rpcErr
	} else {
		body, err := json.Marshal(result)
		if err != nil {
			msg.Error = &Error{Code: CodeInternalError, Message: err.Error()}
		} else {
			msg.Result = body
		}
	}
	s.write(msg)
}

func (s *Server) notify(method string, params any) {
	msg := &Message{JSONRPC: "2.0", Method: method}
	if params != nil {
		body, err := json.Marshal(params)
		if err != nil {
			s.logger.Error("failed to marshal notification", "method", method, "error", err)
			return
		}
		msg.Params = body
	}
	s.write(msg)
}

func (s *Server) write(msg *Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := WriteMessage(s.writer, msg); err != nil {
		s.logger.Error("failed to write message", "error", err)
	}
}
