package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/core"
	"github.com/openmkt/openmkt/internal/core/bot"
	"github.com/openmkt/openmkt/internal/core/relay"
	apperrors "github.com/openmkt/openmkt/internal/errors"
	"github.com/openmkt/openmkt/internal/metrics"
	"github.com/openmkt/openmkt/internal/observability"
)

// Notify handles POST /notify: rate-limit the buyer, then have the bot DM
// the seller on the buyer's behalf.
func (m *Marketplace) Notify(w http.ResponseWriter, r *http.Request) {
	var req core.InterestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiError(apperrors.CodeInvalidInput, "Invalid request body", nil))
		return
	}
	if missing := req.Missing(); len(missing) > 0 {
		respondAPIError(w, r, http.StatusBadRequest, apiError(apperrors.CodeInvalidInput, "Missing required fields", missing))
		return
	}

	if m.Bot == nil || !m.Bot.Configured() {
		metrics.RecordRelay("introduce", metrics.RelayNotConfigured, 0)
		respondAPIError(w, r, http.StatusServiceUnavailable,
			apiError(apperrors.CodeConfigInvalid, "Bot service unavailable", nil))
		return
	}

	decision, err := m.Limiter.Check(r.Context(), strings.TrimSpace(req.BuyerDID))
	if err != nil {
		respondAPIError(w, r, http.StatusInternalServerError,
			apperrors.WrapInternal(r.Context(), err, "Internal Server Error"))
		return
	}
	metrics.RecordRateLimitDecision(decision.Admitted)
	if !decision.Admitted {
		respondJSON(w, http.StatusTooManyRequests, core.RateLimitedResponse{
			Error:             "Rate limit exceeded",
			Message:           decision.Reason,
			RemainingRequests: 0,
			ResetInMinutes:    decision.ResetInMinutes,
		})
		return
	}

	ctx, cancel := m.relayContext(r)
	defer cancel()

	start := time.Now()
	err = m.Relay.Introduce(ctx, req.SellerDID, core.InterestMessage(req.BuyerHandle, req.ListingTitle, req.ListingPath))
	logger := observability.Server()
	if err != nil {
		outcome, status, message := classifyRelayError(err)
		metrics.RecordRelay("introduce", outcome, time.Since(start))
		logger.Warn("Introduction relay failed",
			zap.String("seller_did", req.SellerDID),
			zap.String("buyer_did", req.BuyerDID),
			zap.String("outcome", outcome),
			zap.Error(err))
		respondAPIError(w, r, status, relayEnvelope(r, status, err, message))
		return
	}

	metrics.RecordRelay("introduce", metrics.RelayDelivered, time.Since(start))
	logger.Info("Introduction relayed",
		zap.String("seller_did", req.SellerDID),
		zap.String("buyer_did", req.BuyerDID),
		zap.Int("remaining", decision.Remaining))

	respondJSON(w, http.StatusOK, core.InterestResponse{
		Success:           true,
		RemainingRequests: decision.Remaining,
		ResetInMinutes:    decision.ResetInMinutes,
	})
}

// classifyRelayError maps a relay failure to a metric outcome, HTTP status
// and the error text browser clients display.
func classifyRelayError(err error) (outcome string, status int, message string) {
	var brokerErr *relay.AuthBrokerError
	switch {
	case stderrors.Is(err, relay.ErrConversationUnavailable):
		return metrics.RelayConversationFail, http.StatusInternalServerError, "Failed to connect to seller chat"
	case stderrors.Is(err, relay.ErrSendFailed):
		return metrics.RelaySendFail, http.StatusInternalServerError, "Failed to send message to seller"
	case bot.Unavailable(err):
		return metrics.RelayNotConfigured, http.StatusServiceUnavailable, "Bot service unavailable"
	case stderrors.As(err, &brokerErr):
		return metrics.RelayAuthFail, http.StatusServiceUnavailable, "Bot service unavailable"
	default:
		return metrics.RelaySendFail, http.StatusInternalServerError, "Internal Server Error"
	}
}

// relayEnvelope keeps the underlying cause on upstream failures so it is
// logged, while the response body shows only message.
func relayEnvelope(r *http.Request, status int, err error, message string) *errors.ErrorEnvelope {
	if status == http.StatusServiceUnavailable {
		return apiError(apperrors.CodeServiceUnavailable, message, nil)
	}
	return apperrors.WrapUpstreamUnavailable(r.Context(), err, message)
}
