package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/openmkt/openmkt/internal/observability"
	"go.uber.org/zap"
)

// Legacy /api paths share a label with the route they alias.
var endpointAliases = map[string]string{
	"/api/bot/notify":           "/notify",
	"/api/chat/session":         "/chat/session",
	"/api/proxy/chat/unread":    "/chat/unread",
	"/api/proxy/chat/messages":  "/chat/messages",
	"/api/marketplace/register": "/marketplace/register",
	"/api/admin/report":         "/admin/report",
}

var knownEndpoints = map[string]struct{}{
	"/":                     {},
	"/version":              {},
	"/metrics":              {},
	"/notify":               {},
	"/chat/session":         {},
	"/chat/unread":          {},
	"/chat/messages":        {},
	"/marketplace/register": {},
	"/admin/report":         {},
}

// statusRecorder captures the status code and body size a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// getEndpointPattern returns a bounded label for r. DIDs in admin paths and
// alias prefixes must never become label values.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return canonicalEndpoint(pattern)
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case strings.HasPrefix(path, "/admin/") && path != "/admin/report":
		return "/admin/*"
	}
	endpoint := canonicalEndpoint(path)
	if _, ok := knownEndpoints[endpoint]; ok {
		return endpoint
	}
	return "/unknown"
}

func canonicalEndpoint(path string) string {
	if alias, ok := endpointAliases[path]; ok {
		return alias
	}
	return path
}

// RequestMetrics records request counters, latency and sizes, then logs the
// request with its ID. Health checks and scrapes log at debug.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := getEndpointPattern(r)
		requestSize := contentLength(r)
		duration := time.Since(start)
		emitRequestMetrics(r.Method, endpoint, rec, requestSize, duration)
		logRequest(r, endpoint, rec, requestSize, duration)
	})
}

func contentLength(r *http.Request) int64 {
	if raw := r.Header.Get("Content-Length"); raw != "" {
		if size, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return size
		}
	}
	return 0
}

func emitRequestMetrics(method, endpoint string, rec *statusRecorder, requestSize int64, duration time.Duration) {
	status := strconv.Itoa(rec.status)
	labels := map[string]string{"method": method, "endpoint": endpoint, "status": status}
	sizeLabels := map[string]string{"method": method, "endpoint": endpoint}

	sys := observability.TelemetrySystem
	_ = sys.Counter("http_requests_total", 1, labels)
	_ = sys.Histogram("http_request_duration_ms", duration, labels)
	_ = sys.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
	_ = sys.Gauge("http_response_size_bytes", float64(rec.bytes), sizeLabels)

	if rec.status < 400 {
		return
	}
	errorType := "client_error"
	if rec.status >= 500 {
		errorType = "server_error"
	}
	_ = sys.Counter("http_errors_total", 1, map[string]string{
		"method":     method,
		"endpoint":   endpoint,
		"status":     status,
		"error_type": errorType,
	})
}

func logRequest(r *http.Request, endpoint string, rec *statusRecorder, requestSize int64, duration time.Duration) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("endpoint", endpoint),
		zap.Int("status", rec.status),
		zap.Duration("duration", duration),
		zap.Int64("request_size", requestSize),
		zap.Int64("response_size", rec.bytes),
		zap.String("requestID", GetRequestID(r.Context())),
	}
	switch {
	case rec.status >= 500:
		logger.Warn("HTTP request failed", fields...)
	case endpoint == "/health/*" || endpoint == "/metrics":
		logger.Debug("HTTP request completed", fields...)
	default:
		logger.Info("HTTP request completed", fields...)
	}
}
