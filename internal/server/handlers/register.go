package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/core/bot"
	apperrors "github.com/openmkt/openmkt/internal/errors"
	"github.com/openmkt/openmkt/internal/metrics"
	"github.com/openmkt/openmkt/internal/observability"
)

// RegisterRequest is the body of POST /marketplace/register.
type RegisterRequest struct {
	DID string `json:"did"`
}

// RegisterResponse confirms the bot follows the caller.
type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Register handles POST /marketplace/register: the bot follows the caller
// so the caller can receive introductions.
func (m *Marketplace) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiError(apperrors.CodeInvalidInput, "Invalid request body", nil))
		return
	}
	did := strings.TrimSpace(req.DID)
	if did == "" {
		respondAPIError(w, r, http.StatusBadRequest, apiError(apperrors.CodeInvalidInput, "Missing DID", nil))
		return
	}

	if m.Bot == nil || !m.Bot.Configured() {
		respondAPIError(w, r, http.StatusServiceUnavailable,
			apiError(apperrors.CodeServiceUnavailable, "Bot service unavailable", nil))
		return
	}

	result, err := m.Bot.Register(r.Context(), did)
	if err != nil {
		metrics.RecordRegistration(false, false)
		observability.Server().Warn("Marketplace registration failed",
			zap.String("did", did),
			zap.Error(err))
		if bot.Unavailable(err) {
			respondAPIError(w, r, http.StatusServiceUnavailable,
				apiError(apperrors.CodeServiceUnavailable, "Bot service unavailable", nil))
			return
		}
		respondAPIError(w, r, http.StatusInternalServerError,
			apiError(apperrors.CodeInternal, "Internal Server Error", nil))
		return
	}

	metrics.RecordRegistration(result.AlreadyFollowing, true)
	observability.Server().Info("Marketplace registration",
		zap.String("did", did),
		zap.Bool("already_following", result.AlreadyFollowing))

	respondJSON(w, http.StatusOK, RegisterResponse{Success: true, Message: result.Message()})
}
