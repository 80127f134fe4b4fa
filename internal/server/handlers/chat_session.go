package handlers

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/core/store"
	apperrors "github.com/openmkt/openmkt/internal/errors"
	"github.com/openmkt/openmkt/internal/metrics"
	"github.com/openmkt/openmkt/internal/observability"
)

// ChatSessionRequest is the body of POST /chat/session.
type ChatSessionRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// ChatSessionResponse deliberately omits the tokens; they stay server side.
type ChatSessionResponse struct {
	DID         string `json:"did"`
	PDSEndpoint string `json:"pdsEndpoint"`
}

// ChatSession handles POST /chat/session: log in upstream and keep the
// session so chat reads can use and refresh it.
func (m *Marketplace) ChatSession(w http.ResponseWriter, r *http.Request) {
	var req ChatSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiError(apperrors.CodeInvalidInput, "Invalid request body", nil))
		return
	}
	handle := strings.TrimSpace(req.Handle)
	password := strings.TrimSpace(req.Password)
	if handle == "" || password == "" {
		respondAPIError(w, r, http.StatusBadRequest, apiError(apperrors.CodeInvalidInput, "Missing handle or password", nil))
		return
	}

	sess, err := m.Auth.CreateSession(r.Context(), handle, password)
	if err != nil {
		var xe *atproto.XRPCError
		if stderrors.As(err, &xe) {
			respondAPIError(w, r, xe.Status, apiError(apperrors.CodeExternalService,
				fmt.Sprintf("Session error: %d", xe.Status), string(xe.Body)))
			return
		}
		respondAPIError(w, r, http.StatusInternalServerError,
			apiError(apperrors.CodeInternal, "Internal chat session error", err.Error()))
		return
	}

	pdsEndpoint := sess.DIDDoc.PDSEndpoint(m.serviceURL())
	m.Sessions.Save(store.ChatSession{
		DID:         sess.DID,
		Handle:      sess.Handle,
		PDSEndpoint: pdsEndpoint,
		AccessJWT:   sess.AccessJwt,
		RefreshJWT:  sess.RefreshJwt,
	})
	metrics.SetChatSessions(m.Sessions.Len())

	observability.Server().Info("Chat session stored",
		zap.String("did", sess.DID),
		zap.String("pds_endpoint", pdsEndpoint),
		zap.Bool("has_refresh_token", sess.RefreshJwt != ""))

	respondJSON(w, http.StatusOK, ChatSessionResponse{DID: sess.DID, PDSEndpoint: pdsEndpoint})
}
