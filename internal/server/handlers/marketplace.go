package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/core/bot"
	"github.com/openmkt/openmkt/internal/core/chatproxy"
	"github.com/openmkt/openmkt/internal/core/engine"
	"github.com/openmkt/openmkt/internal/core/store"
	apperrors "github.com/openmkt/openmkt/internal/errors"
)

// Introducer delivers bot-authored messages. *relay.Client satisfies it.
type Introducer interface {
	Introduce(ctx context.Context, sellerDID, message string) error
	NotifyAdmin(ctx context.Context, adminDID, message string) error
}

// BotService is the relay account. *bot.Agent satisfies it.
type BotService interface {
	Configured() bool
	Register(ctx context.Context, did string) (bot.RegisterResult, error)
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

// SessionCreator logs a user in against the primary service. *atproto.Client satisfies it.
type SessionCreator interface {
	CreateSession(ctx context.Context, identifier, password string) (*atproto.Session, error)
}

// ChatForwarder proxies chat reads. *chatproxy.Proxy satisfies it.
type ChatForwarder interface {
	Forward(ctx context.Context, req chatproxy.Request) (*atproto.ProxyResponse, error)
}

// Marketplace serves the buyer-facing relay endpoints.
type Marketplace struct {
	Limiter  *engine.RateLimiter
	Relay    Introducer
	Bot      BotService
	Sessions *store.ChatSessionStore
	Auth     SessionCreator
	Proxy    ChatForwarder

	// ServiceURL is the pdsEndpoint reported when a session has no PDS entry.
	ServiceURL string
	// AdminHandle receives reports.
	AdminHandle string
	// RelayTimeout bounds a relay once it has started. The relay keeps
	// running if the caller disconnects.
	RelayTimeout time.Duration
}

const defaultRelayTimeout = 30 * time.Second

// relayContext detaches from the request so a client disconnect does not
// abort a send midway.
func (m *Marketplace) relayContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := m.RelayTimeout
	if timeout <= 0 {
		timeout = defaultRelayTimeout
	}
	return context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
}

func (m *Marketplace) serviceURL() string {
	if s := strings.TrimRight(strings.TrimSpace(m.ServiceURL), "/"); s != "" {
		return s
	}
	return atproto.DefaultServiceURL
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondAPIError writes the flat {"error": ...} body the marketplace
// clients read.
func respondAPIError(w http.ResponseWriter, r *http.Request, status int, envelope *errors.ErrorEnvelope) {
	apperrors.RespondAPIError(w, r, status, envelope)
}

func apiError(code, message string, details any) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	if details != nil {
		envelope = envelope.WithDetails(map[string]interface{}{apperrors.DetailBody: details})
	}
	return envelope
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(v)
}
