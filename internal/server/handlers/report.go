package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/core"
	"github.com/openmkt/openmkt/internal/core/bot"
	apperrors "github.com/openmkt/openmkt/internal/errors"
	"github.com/openmkt/openmkt/internal/metrics"
	"github.com/openmkt/openmkt/internal/observability"
)

// DefaultAdminHandle receives listing reports when none is configured.
const DefaultAdminHandle = "openmkt.app"

// SuccessResponse is the minimal {"success": true} body.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// Report handles POST /admin/report: the bot DMs the operator account
// about a listing.
func (m *Marketplace) Report(w http.ResponseWriter, r *http.Request) {
	var req core.ReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiError(apperrors.CodeInvalidInput, "Invalid request body", nil))
		return
	}
	if strings.TrimSpace(req.ListingURI) == "" || strings.TrimSpace(req.Reason) == "" {
		respondAPIError(w, r, http.StatusBadRequest, apiError(apperrors.CodeInvalidInput, "Missing required fields", nil))
		return
	}
	key := reportLimitKey(r, req.ReporterDID)
	if strings.TrimSpace(req.ReporterDID) == "" {
		req.ReporterDID = "Anonymous"
	}

	if m.Bot == nil || !m.Bot.Configured() {
		respondAPIError(w, r, http.StatusServiceUnavailable,
			apiError(apperrors.CodeServiceUnavailable, "Service temporarily unavailable", nil))
		return
	}

	if m.Limiter != nil {
		decision, err := m.Limiter.Check(r.Context(), key)
		if err != nil {
			respondAPIError(w, r, http.StatusInternalServerError,
				apperrors.WrapInternal(r.Context(), err, "Internal Server Error"))
			return
		}
		metrics.RecordRateLimitDecision(decision.Admitted)
		if !decision.Admitted {
			respondJSON(w, http.StatusTooManyRequests, core.RateLimitedResponse{
				Error:          "Rate limit exceeded",
				Message:        fmt.Sprintf("Too many reports. Please wait %d minutes before trying again.", decision.ResetInMinutes),
				ResetInMinutes: decision.ResetInMinutes,
			})
			return
		}
	}

	ctx, cancel := m.relayContext(r)
	defer cancel()

	adminHandle := m.AdminHandle
	if strings.TrimSpace(adminHandle) == "" {
		adminHandle = DefaultAdminHandle
	}
	logger := observability.Server()

	adminDID, err := m.Bot.ResolveHandle(ctx, adminHandle)
	if err != nil {
		logger.Error("Failed to resolve admin handle",
			zap.String("admin_handle", adminHandle),
			zap.Error(err))
		if bot.Unavailable(err) {
			respondAPIError(w, r, http.StatusServiceUnavailable,
				apiError(apperrors.CodeServiceUnavailable, "Service temporarily unavailable", nil))
			return
		}
		respondAPIError(w, r, http.StatusInternalServerError,
			apiError(apperrors.CodeConfigInvalid, "Configuration error: Admin not found", nil))
		return
	}

	start := time.Now()
	if err := m.Relay.NotifyAdmin(ctx, adminDID, core.ReportMessage(req)); err != nil {
		outcome, _, _ := classifyRelayError(err)
		metrics.RecordRelay("report", outcome, time.Since(start))
		logger.Error("Failed to notify admin",
			zap.String("listing_uri", req.ListingURI),
			zap.Error(err))
		respondAPIError(w, r, http.StatusInternalServerError,
			apiError(apperrors.CodeUpstreamUnavailable, "Failed to notify admin via Chat", nil))
		return
	}

	metrics.RecordRelay("report", metrics.RelayDelivered, time.Since(start))
	logger.Info("Listing report relayed",
		zap.String("listing_uri", req.ListingURI),
		zap.String("reason", req.Reason))
	respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// reportLimitKey shares the interest limiter without colliding with buyer
// DIDs. Anonymous reports are keyed by client address.
func reportLimitKey(r *http.Request, reporterDID string) string {
	if did := strings.TrimSpace(reporterDID); did != "" {
		return "report:" + did
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "report:addr:" + host
}
