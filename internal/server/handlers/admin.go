package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/core/engine"
	"github.com/openmkt/openmkt/internal/core/store"
	apperrors "github.com/openmkt/openmkt/internal/errors"
	"github.com/openmkt/openmkt/internal/metrics"
	"github.com/openmkt/openmkt/internal/observability"
)

// Admin serves operator endpoints. Routes are mounted behind bearer auth.
type Admin struct {
	Limiter  *engine.RateLimiter
	Sessions *store.ChatSessionStore
}

// RateLimitList is the body of GET /admin/rate-limits.
type RateLimitList struct {
	Identities []engine.Status `json:"identities"`
}

// SweepResponse reports how many entries a sweep removed.
type SweepResponse struct {
	Removed int `json:"removed"`
}

// ChatSessionSummary is a stored session without its tokens.
type ChatSessionSummary struct {
	DID             string    `json:"did"`
	Handle          string    `json:"handle,omitempty"`
	PDSEndpoint     string    `json:"pdsEndpoint"`
	HasRefreshToken bool      `json:"hasRefreshToken"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ChatSessionList is the body of GET /admin/chat-sessions.
type ChatSessionList struct {
	Sessions []ChatSessionSummary `json:"sessions"`
}

// RateLimits lists every tracked identity.
func (a *Admin) RateLimits(w http.ResponseWriter, r *http.Request) {
	identities := a.Limiter.Identities()
	out := RateLimitList{Identities: make([]engine.Status, 0, len(identities))}
	for _, id := range identities {
		out.Identities = append(out.Identities, a.Limiter.Status(id))
	}
	respondJSON(w, http.StatusOK, out)
}

// RateLimitStatus reports one identity without recording a request.
func (a *Admin) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	did := strings.TrimSpace(chi.URLParam(r, "did"))
	if did == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("did is required"))
		return
	}
	respondJSON(w, http.StatusOK, a.Limiter.Status(did))
}

// SweepRateLimits drops identities with no requests in the window.
func (a *Admin) SweepRateLimits(w http.ResponseWriter, r *http.Request) {
	removed := a.Limiter.Sweep()
	metrics.RecordSweep("rate_limit", removed)
	metrics.SetRateLimitIdentities(len(a.Limiter.Identities()))
	observability.Server().Info("Rate limit sweep requested",
		zap.Int("removed", removed))
	respondJSON(w, http.StatusOK, SweepResponse{Removed: removed})
}

// ChatSessions lists stored sessions.
func (a *Admin) ChatSessions(w http.ResponseWriter, r *http.Request) {
	records := a.Sessions.List()
	out := ChatSessionList{Sessions: make([]ChatSessionSummary, 0, len(records))}
	for _, rec := range records {
		out.Sessions = append(out.Sessions, ChatSessionSummary{
			DID:             rec.DID,
			Handle:          rec.Handle,
			PDSEndpoint:     rec.PDSEndpoint,
			HasRefreshToken: rec.RefreshJWT != "",
			UpdatedAt:       rec.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// RemoveChatSession deletes a stored session, e.g. on logout.
func (a *Admin) RemoveChatSession(w http.ResponseWriter, r *http.Request) {
	did := strings.TrimSpace(chi.URLParam(r, "did"))
	if !a.Sessions.Remove(did) {
		respondWithError(w, r, apperrors.NewNotFoundError("no chat session for "+did))
		return
	}
	metrics.SetChatSessions(a.Sessions.Len())
	observability.Server().Info("Chat session removed", zap.String("did", did))
	w.WriteHeader(http.StatusNoContent)
}
