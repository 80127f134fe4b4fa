package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/observability"
)

// AdminAuth guards operator routes with a static bearer token. An empty
// token rejects every request.
func AdminAuth(token string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				observability.Server().Warn("Admin request rejected",
					zap.String("path", r.URL.Path),
					zap.String("requestID", GetRequestID(r.Context())))
				envelope := errors.NewErrorEnvelope("UNAUTHORIZED", "valid admin bearer token required").
					WithCorrelationID(GetRequestID(r.Context()))
				w.Header().Set("WWW-Authenticate", `Bearer realm="openmkt-admin"`)
				writeErrorResponse(w, envelope, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
