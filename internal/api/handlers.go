package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/trilogyctl/internal/app"
	"github.com/leapstack-labs/trilogyctl/internal/protocol"
	"github.com/leapstack-labs/trilogyctl/internal/query"
	"github.com/leapstack-labs/trilogyctl/internal/registry"
	"github.com/leapstack-labs/trilogyctl/internal/serve"
)

// Handlers provides HTTP handlers for the control plane.
type Handlers struct {
	services *app.Services
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(services *app.Services) *Handlers {
	return &Handlers{services: services}
}

// ActiveRequest selects a config by absolute path.
type ActiveRequest struct {
	Path string `json:"path"`
}

// SessionResponse describes an opened query session.
type SessionResponse struct {
	ID      string `json:"id"`
	Dialect string `json:"dialect"`
}

// QueryRequest submits a statement to a session.
type QueryRequest struct {
	SQL    string `json:"sql"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// MessagesResponse lists the messages a request produced.
type MessagesResponse struct {
	Messages []protocol.Message `json:"messages"`
}

// RenderRequest asks surfaces to display statements.
type RenderRequest struct {
	Queries []string `json:"queries"`
	Dialect string   `json:"dialect,omitempty"`
}

// StartRequest starts the preview server for a folder.
type StartRequest struct {
	Folder string `json:"folder,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListConfigs returns the discovered configs and the active selection.
func (h *Handlers) ListConfigs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.services.Registry.State())
}

// DiscoverConfigs runs a discovery pass.
func (h *Handlers) DiscoverConfigs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.services.Discover(r.Context()))
}

// SetActiveConfig selects the active config.
func (h *Handlers) SetActiveConfig(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.services.Registry.SetActivePath(r.Context(), req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.services.Registry.State())
}

// ClearActiveConfig clears the active selection.
func (h *Handlers) ClearActiveConfig(w http.ResponseWriter, r *http.Request) {
	h.services.Registry.ClearActive(r.Context())
	writeJSON(w, http.StatusOK, h.services.Registry.State())
}

// OpenSession opens a session configured from the active config.
func (h *Handlers) OpenSession(w http.ResponseWriter, r *http.Request) {
	id, session, err := h.services.OpenSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{ID: id, Dialect: session.Dialect()})
}

// RunQuery runs a statement and returns its messages once it resolves.
func (h *Handlers) RunQuery(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, false)
}

// FetchMore fetches a further page of a previously run statement.
func (h *Handlers) FetchMore(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, true)
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, more bool) {
	session, err := h.services.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = h.services.PageSize()
	}

	var future *query.Future
	if more {
		future = session.FetchMore(req.SQL, limit, req.Offset, nil)
	} else {
		future = session.RunQuery(req.SQL, limit, nil)
	}

	// per-request failures travel inside the messages
	msgs, _ := future.Wait(r.Context())
	if r.Context().Err() != nil {
		return
	}
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
}

// CloseSession closes a session.
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.services.Sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderQueries broadcasts statements for display.
func (h *Handlers) RenderQueries(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.services.RenderQueries(req.Queries, req.Dialect))
}

// ServeStatus returns the preview server state.
func (h *Handlers) ServeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.services.Serve.Status())
}

// StartServe starts the preview server.
func (h *Handlers) StartServe(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.services.Serve.Start(r.Context(), req.Folder); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.services.Serve.Status())
}

// StopServe stops the preview server and waits for it to exit.
func (h *Handlers) StopServe(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.services.Serve.Stop():
	case <-r.Context().Done():
		return
	}
	writeJSON(w, http.StatusOK, h.services.Serve.Status())
}

// OpenServeURL opens the serving URL in a browser.
func (h *Handlers) OpenServeURL(w http.ResponseWriter, r *http.Request) {
	if err := h.services.Serve.OpenURL(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeEvents is the long-lived SSE endpoint for preview server state.
// The current state is sent first, then every change.
func (h *Handlers) ServeEvents(w http.ResponseWriter, r *http.Request) {
	updates, dispose := h.services.Serve.StatusChannel(8)
	defer dispose()

	sse := datastar.NewSSE(w, r)
	if err := sse.MarshalAndPatchSignals(map[string]any{"serve": h.services.Serve.Status()}); err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := sse.MarshalAndPatchSignals(map[string]any{"serve": st}); err != nil {
				return
			}
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var resErr *serve.ResolutionError
	switch {
	case errors.Is(err, registry.ErrUnknownConfig):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, serve.ErrNotRunning):
		return http.StatusConflict
	case errors.As(err, &resErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
