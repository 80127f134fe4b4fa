package metrics

import (
	"strconv"
	"time"

	"github.com/openmkt/openmkt/internal/observability"
)

// Metric names
var (
	// Introduction relay
	RelayAttemptsTotal   = "relay_attempts_total"
	RelayDurationMs      = "relay_duration_ms"
	ServiceTokensMinted  = "service_auth_tokens_minted_total"
	RateLimitDecisions   = "rate_limit_decisions_total"
	RateLimitIdentities  = "rate_limit_identities"
	ProxyRequestsTotal   = "chat_proxy_requests_total"
	ProxyRefreshTotal    = "chat_proxy_refresh_total"
	ChatSessionsGauge    = "chat_sessions"
	SweepRunsTotal       = "sweep_runs_total"
	SweepLastRemoved     = "sweep_last_removed"
	BotRegistrationTotal = "bot_registrations_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// Relay outcomes
const (
	RelayDelivered        = "delivered"
	RelayConversationFail = "conversation_unavailable"
	RelaySendFail         = "send_failed"
	RelayAuthFail         = "auth_failed"
	RelayNotConfigured    = "not_configured"
)

// RecordRelay records one introduction or admin report attempt.
func RecordRelay(kind, outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{"kind": kind, "outcome": outcome}
	_ = observability.TelemetrySystem.Counter(RelayAttemptsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(RelayDurationMs, duration, labels)
}

// RecordServiceToken records a minted service-auth token by method scope.
func RecordServiceToken(scope string, success bool) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ServiceTokensMinted,
			1,
			map[string]string{
				"scope":  scope,
				"status": status(success),
			},
		)
	}
}

// RecordRateLimitDecision records an admit or reject from the limiter.
func RecordRateLimitDecision(admitted bool) {
	decision := "admitted"
	if !admitted {
		decision = "rejected"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitDecisions,
			1,
			map[string]string{"decision": decision},
		)
	}
}

// SetRateLimitIdentities reports how many identities the limiter tracks.
func SetRateLimitIdentities(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(RateLimitIdentities, float64(count), nil)
	}
}

// RecordProxyRequest records a proxied chat read and its upstream status.
func RecordProxyRequest(method string, upstreamStatus int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ProxyRequestsTotal,
			1,
			map[string]string{
				"method": method,
				"status": strconv.Itoa(upstreamStatus),
			},
		)
	}
}

// RecordProxyRefresh records a silent refresh attempt by outcome.
func RecordProxyRefresh(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ProxyRefreshTotal,
			1,
			map[string]string{"outcome": outcome},
		)
	}
}

// SetChatSessions reports the number of stored chat sessions.
func SetChatSessions(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ChatSessionsGauge, float64(count), nil)
	}
}

// RecordSweep records one background sweep task run and how many entries
// it removed.
func RecordSweep(task string, removed int) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{"task": task}
	_ = observability.TelemetrySystem.Counter(SweepRunsTotal, 1, labels)
	_ = observability.TelemetrySystem.Gauge(SweepLastRemoved, float64(removed), labels)
}

// RecordRegistration records a marketplace registration request.
func RecordRegistration(alreadyFollowing bool, success bool) {
	result := "followed"
	if alreadyFollowing {
		result = "already_following"
	}
	if !success {
		result = "failed"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			BotRegistrationTotal,
			1,
			map[string]string{"result": result},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	state := "healthy"
	if !healthy {
		state = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": state,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerUptime, float64(seconds), nil)
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
