package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/core/chatproxy"
	apperrors "github.com/openmkt/openmkt/internal/errors"
	"github.com/openmkt/openmkt/internal/metrics"
	"github.com/openmkt/openmkt/internal/observability"
)

const (
	unreadLimit         = 50
	maxMessagesLimit    = 50
	defaultMessageLimit = 50
)

// ChatUnread handles GET /chat/unread by proxying listConvos.
func (m *Marketplace) ChatUnread(w http.ResponseWriter, r *http.Request) {
	authorization, ok := requireAuthorization(w, r)
	if !ok {
		return
	}
	pdsEndpoint := strings.TrimSpace(r.URL.Query().Get("pdsEndpoint"))
	if pdsEndpoint == "" {
		respondAPIError(w, r, http.StatusBadRequest, apiError(apperrors.CodeInvalidInput, "Missing pdsEndpoint parameter", nil))
		return
	}

	m.forward(w, r, chatproxy.Request{
		Authorization: authorization,
		PDSEndpoint:   pdsEndpoint,
		Method:        atproto.MethodListConvos,
		Query:         url.Values{"limit": {strconv.Itoa(unreadLimit)}},
	})
}

// ChatMessages handles GET /chat/messages by proxying getMessages.
func (m *Marketplace) ChatMessages(w http.ResponseWriter, r *http.Request) {
	authorization, ok := requireAuthorization(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	pdsEndpoint := strings.TrimSpace(query.Get("pdsEndpoint"))
	convoID := strings.TrimSpace(query.Get("convoId"))
	if pdsEndpoint == "" || convoID == "" {
		respondAPIError(w, r, http.StatusBadRequest,
			apiError(apperrors.CodeInvalidInput, "Missing pdsEndpoint or convoId parameter", nil))
		return
	}

	upstream := url.Values{
		"convoId": {convoID},
		"limit":   {strconv.Itoa(clampLimit(query.Get("limit")))},
	}
	if cursor := strings.TrimSpace(query.Get("cursor")); cursor != "" {
		upstream.Set("cursor", cursor)
	}

	m.forward(w, r, chatproxy.Request{
		Authorization: authorization,
		PDSEndpoint:   pdsEndpoint,
		Method:        atproto.MethodGetMessages,
		Query:         upstream,
	})
}

// clampLimit keeps limit within [1, 50]; unparsable or zero means 50.
func clampLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n == 0 {
		return defaultMessageLimit
	}
	if n < 1 {
		return 1
	}
	if n > maxMessagesLimit {
		return maxMessagesLimit
	}
	return n
}

func requireAuthorization(w http.ResponseWriter, r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		respondAPIError(w, r, http.StatusUnauthorized,
			apiError(apperrors.CodeUnauthorized, "Missing authorization header", nil))
		return "", false
	}
	return authorization, true
}

// forward runs the proxy and relays the upstream answer. Successful bodies
// are passed through as-is; failures keep the upstream status with the
// upstream body under details.
func (m *Marketplace) forward(w http.ResponseWriter, r *http.Request, req chatproxy.Request) {
	resp, err := m.Proxy.Forward(r.Context(), req)
	if err != nil {
		observability.Server().Warn("Chat proxy transport failure",
			zap.String("method", req.Method),
			zap.Error(err))
		respondAPIError(w, r, http.StatusInternalServerError,
			apiError(apperrors.CodeInternal, "Internal proxy error", err.Error()))
		return
	}
	metrics.RecordProxyRequest(req.Method, resp.Status)

	if !resp.OK() {
		observability.Server().Warn("Chat API failed",
			zap.String("method", req.Method),
			zap.Int("status", resp.Status))
		respondAPIError(w, r, resp.Status,
			apiError(apperrors.CodeExternalService, fmt.Sprintf("Upstream error: %d", resp.Status), string(resp.Body)))
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Body)
}
