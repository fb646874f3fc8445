// ABOUTME: HTTP handlers for health checks and the admin session lookup
// ABOUTME: JSON responses use the same error envelope as the auth middleware

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/2389/assistant-relay/internal/auth"
	"github.com/2389/assistant-relay/internal/session"
)

// SessionResponse is the JSON response for GET /api/sessions/{user_id}.
type SessionResponse struct {
	UserID    string `json:"user_id"`
	Frontend  string `json:"frontend"`
	ThreadID  string `json:"thread_id"`
	CreatedAt string `json:"created_at,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

// ReadyResponse is the JSON response for GET /health/ready.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Store     string            `json:"store"`
	Frontends map[string]string `json:"frontends"`
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to encode response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 when the session store answers and every enabled
// frontend has its credentials.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Store: "ok", Frontends: map[string]string{}}
	if err := g.store.Ping(ctx); err != nil {
		resp.Status = "not ready"
		resp.Store = err.Error()
	}

	names := make([]string, 0, len(g.relays))
	for name := range g.relays {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := g.relays[name].Check(); err != nil {
			resp.Status = "not ready"
			resp.Frontends[name] = err.Error()
			continue
		}
		resp.Frontends[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	g.sendJSON(w, status, resp)
}

// handleGetSession reports the live session of a user on one frontend.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	frontend := r.URL.Query().Get("frontend")
	if frontend == "" {
		frontend = FrontendWhatsApp
	}
	store, ok := g.sessions[frontend]
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("frontend %q is not enabled", frontend))
		return
	}

	sess, err := store.Lookup(r.Context(), userID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "no live session")
		return
	case errors.Is(err, session.ErrUnavailable):
		g.logger.Error("session lookup failed", "frontend", frontend, "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	case err != nil:
		g.logger.Error("session lookup failed", "frontend", frontend, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("session looked up", "subject", auth.SubjectFromContext(r.Context()), "frontend", frontend, "user_id", userID)

	resp := SessionResponse{
		UserID:    userID,
		Frontend:  frontend,
		ThreadID:  sess.ThreadID,
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if !sess.CreatedAt.IsZero() {
		resp.CreatedAt = sess.CreatedAt.UTC().Format(time.RFC3339)
	}
	g.sendJSON(w, http.StatusOK, resp)
}
