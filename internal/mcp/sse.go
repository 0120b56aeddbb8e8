package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// SSEHandler bridges HTTP to the JSON-RPC server: a long-lived GET /sse
// stream per session, and POST /message for client-to-server requests.
type SSEHandler struct {
	server   *Server
	sessions *SessionRegistry
}

// NewSSEHandler creates the transport over a server and session registry.
func NewSSEHandler(server *Server, sessions *SessionRegistry) *SSEHandler {
	return &SSEHandler{server: server, sessions: sessions}
}

// HandleSSE serves the event stream. The first event tells the client
// where to POST its messages; everything after is queued responses.
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	session, err := h.sessions.Admit(r.Context())
	if err != nil {
		var admission *AdmissionError
		if errors.As(err, &admission) {
			w.Header().Set("Retry-After", strconv.Itoa(int(admission.RetryAfter.Seconds())))
			http.Error(w, "server at capacity, retry later", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "failed to open session", http.StatusInternalServerError)
		return
	}
	defer h.sessions.Release(session.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "event: endpoint\ndata: /message?sessionId=%s\n\n", session.ID); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case resp, open := <-session.Out:
			if !open {
				return
			}
			payload, err := json.Marshal(resp)
			if err != nil {
				log.Error().Err(err).Str("sessionId", session.ID).Msg("Failed to encode SSE response")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload); err != nil {
				log.Debug().Str("sessionId", session.ID).Msg("SSE write failed, closing stream")
				return
			}
			flusher.Flush()
		}
	}
}

// HandleMessage accepts a JSON-RPC request bound to an existing session.
// The response is returned in the POST body and also queued on the SSE
// stream, so clients reading either side make progress.
func (h *SSEHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	session, ok := h.sessions.Lookup(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON-RPC request", http.StatusBadRequest)
		return
	}

	resp := h.server.HandleRequest(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	session.Deliver(resp)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to write response body")
	}
}
