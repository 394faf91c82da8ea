package hostrpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/leapstack-labs/trilogyctl/internal/protocol"
	"github.com/leapstack-labs/trilogyctl/internal/query"
	"github.com/leapstack-labs/trilogyctl/internal/registry"
)

type setActiveParams struct {
	Path string `json:"path"`
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

type runParams struct {
	SessionID string `json:"sessionId"`
	SQL       string `json:"sql"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

type renderParams struct {
	Queries []string `json:"queries"`
	Dialect string   `json:"dialect,omitempty"`
}

type startParams struct {
	Folder string `json:"folder,omitempty"`
}

type messageParams struct {
	SessionID string           `json:"sessionId,omitempty"`
	Message   protocol.Message `json:"message"`
}

type openResult struct {
	SessionID string `json:"sessionId"`
	Dialect   string `json:"dialect"`
}

type messagesResult struct {
	Messages []protocol.Message `json:"messages"`
}

func (s *Server) handle(ctx context.Context, msg *Message) {
	s.logger.Debug("received", "method", msg.Method)

	switch msg.Method {
	case "configs/discover":
		s.respond(msg.ID, s.services.Discover(ctx), nil)
	case "configs/list":
		s.respond(msg.ID, s.services.Registry.State(), nil)
	case "configs/setActive":
		s.handleSetActive(ctx, msg)
	case "query/open":
		s.handleOpen(ctx, msg)
	case "query/run":
		s.handleRun(ctx, msg, false)
	case "query/fetchMore":
		s.handleRun(ctx, msg, true)
	case "query/close":
		s.handleClose(msg)
	case "render/queries":
		s.handleRender(msg)
	case "serve/start":
		s.handleServeStart(ctx, msg)
	case "serve/stop":
		s.handleServeStop(ctx, msg)
	case "serve/status":
		s.respond(msg.ID, s.services.Serve.Status(), nil)
	case "serve/openUrl":
		if err := s.services.Serve.OpenURL(ctx); err != nil {
			s.respond(msg.ID, nil, failed(err))
			return
		}
		s.respond(msg.ID, nil, nil)
	case "shutdown":
		s.shutdownMu.Lock()
		s.shutdown = true
		s.shutdownMu.Unlock()
		s.respond(msg.ID, nil, nil)
	case "exit":
		s.shutdownMu.Lock()
		s.exited = true
		s.shutdownMu.Unlock()
	default:
		if msg.ID != nil {
			// Unknown method with ID - respond with method not found
			s.respond(msg.ID, nil, &Error{
				Code:    CodeMethodNotFound,
				Message: "Method not found: " + msg.Method,
			})
		}
	}
}

func decode(msg *Message, v any) *Error {
	if len(msg.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Params, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func failed(err error) *Error {
	code := CodeRequestFailed
	if errors.Is(err, registry.ErrUnknownConfig) || errors.Is(err, query.ErrSessionNotFound) {
		code = CodeInvalidParams
	}
	return &Error{Code: code, Message: err.Error()}
}

func (s *Server) handleSetActive(ctx context.Context, msg *Message) {
	var p setActiveParams
	if rpcErr := decode(msg, &p); rpcErr != nil {
		s.respond(msg.ID, nil, rpcErr)
		return
	}
	if err := s.services.Registry.SetActivePath(ctx, p.Path); err != nil {
		s.respond(msg.ID, nil, failed(err))
		return
	}
	s.respond(msg.ID, s.services.Registry.State(), nil)
}

func (s *Server) handleOpen(ctx context.Context, msg *Message) {
	id, session, err := s.services.OpenSession(ctx)
	if err != nil {
		s.respond(msg.ID, nil, failed(err))
		return
	}
	s.respond(msg.ID, openResult{SessionID: id, Dialect: session.Dialect()}, nil)
}

// handleRun queues a query and answers once it resolves. Each message is also
// pushed as a notification while the request runs.
func (s *Server) handleRun(ctx context.Context, msg *Message, more bool) {
	var p runParams
	if rpcErr := decode(msg, &p); rpcErr != nil {
		s.respond(msg.ID, nil, rpcErr)
		return
	}
	session, err := s.services.Sessions.Get(p.SessionID)
	if err != nil {
		s.respond(msg.ID, nil, failed(err))
		return
	}

	limit := p.Limit
	if limit <= 0 {
		limit = s.services.PageSize()
	}
	emit := func(m protocol.Message) {
		s.notify(NotifyMessage, messageParams{SessionID: p.SessionID, Message: m})
	}

	var future *query.Future
	if more {
		future = session.FetchMore(p.SQL, limit, p.Offset, emit)
	} else {
		emit(protocol.QueryStart{})
		future = session.RunQuery(p.SQL, limit, emit)
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		msgs, _ := future.Wait(context.WithoutCancel(ctx))
		// request failures travel inside the messages
		s.respond(msg.ID, messagesResult{Messages: msgs}, nil)
	}()
}

func (s *Server) handleClose(msg *Message) {
	var p sessionParams
	if rpcErr := decode(msg, &p); rpcErr != nil {
		s.respond(msg.ID, nil, rpcErr)
		return
	}
	if err := s.services.Sessions.Close(p.SessionID); err != nil {
		s.respond(msg.ID, nil, failed(err))
		return
	}
	s.respond(msg.ID, nil, nil)
}

func (s *Server) handleRender(msg *Message) {
	var p renderParams
	if rpcErr := decode(msg, &p); rpcErr != nil {
		s.respond(msg.ID, nil, rpcErr)
		return
	}
	s.respond(msg.ID, s.services.RenderQueries(p.Queries, p.Dialect), nil)
}

// handleServeStop answers once the process is gone. The phase is idle as
// soon as Stop returns, so other requests keep flowing while it exits.
func (s *Server) handleServeStop(ctx context.Context, msg *Message) {
	done := s.services.Serve.Stop()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		select {
		case <-done:
		case <-ctx.Done():
		}
		s.respond(msg.ID, s.services.Serve.Status(), nil)
	}()
}

func (s *Server) handleServeStart(ctx context.Context, msg *Message) {
	var p startParams
	if rpcErr := decode(msg, &p); rpcErr != nil {
		s.respond(msg.ID, nil, rpcErr)
		return
	}
	if err := s.services.Serve.Start(ctx, p.Folder); err != nil {
		s.respond(msg.ID, nil, &Error{Code: CodeRequestFailed, Message: err.Error(), Data: s.services.Serve.Status()})
		return
	}
	s.respond(msg.ID, s.services.Serve.Status(), nil)
}
