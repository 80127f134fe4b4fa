package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, the user config file
// (~/.config/openmkt/config.yaml), then OPENMKT_* environment variables and flags.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	ATProto      ATProtoConfig      `mapstructure:"atproto" yaml:"atproto"`
	Bot          BotConfig          `mapstructure:"bot" yaml:"bot"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit"`
	ChatSessions ChatSessionsConfig `mapstructure:"chat_sessions" yaml:"chat_sessions"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Client       ClientConfig       `mapstructure:"client" yaml:"client"`
	Admin        AdminConfig        `mapstructure:"admin" yaml:"admin"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Health       HealthConfig       `mapstructure:"health" yaml:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ATProtoConfig locates the primary identity service and the chat service.
type ATProtoConfig struct {
	// ServiceURL is the primary PDS entryway used for session creation.
	ServiceURL string `mapstructure:"service_url" yaml:"service_url"`

	// ChatServiceURL is called directly by the bot relay with service-auth tokens.
	ChatServiceURL string `mapstructure:"chat_service_url" yaml:"chat_service_url"`

	// ChatServiceDID is the audience of minted service-auth tokens.
	ChatServiceDID string `mapstructure:"chat_service_did" yaml:"chat_service_did"`

	// ChatProxy is sent as the Atproto-Proxy header on proxied chat reads.
	ChatProxy string `mapstructure:"chat_proxy" yaml:"chat_proxy"`

	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BotConfig holds the operator's relay account.
type BotConfig struct {
	Handle      string `mapstructure:"handle" yaml:"handle"`
	AppPassword string `mapstructure:"app_password" yaml:"app_password"`

	// AdminHandle receives listing reports relayed by the bot.
	AdminHandle string `mapstructure:"admin_handle" yaml:"admin_handle"`

	// LoginMaxElapsed bounds the exponential backoff used for bot login.
	LoginMaxElapsed time.Duration `mapstructure:"login_max_elapsed" yaml:"login_max_elapsed"`
}

// Configured reports whether bot credentials are present.
func (b BotConfig) Configured() bool {
	return b.Handle != "" && b.AppPassword != ""
}

// RateLimitConfig configures the interest request limiter.
type RateLimitConfig struct {
	Window        time.Duration `mapstructure:"window" yaml:"window"`
	MaxRequests   int           `mapstructure:"max_requests" yaml:"max_requests"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// ChatSessionsConfig configures the server-side chat session store.
type ChatSessionsConfig struct {
	// IdleTTL evicts sessions not updated within the duration. Zero disables.
	IdleTTL time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
}

// StoreConfig contains database configuration for libsql/Turso.
// Only the buyer-side CLI uses it, to persist interest-sent flags.
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// ClientConfig is used by CLI commands that call a running server.
type ClientConfig struct {
	ServerURL string        `mapstructure:"server_url" yaml:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AdminConfig guards the /admin endpoints. An empty token disables them.
type AdminConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level (SIMPLE, STRUCTURED, ENTERPRISE)
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

const redacted = "********"

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	if out.Bot.AppPassword != "" {
		out.Bot.AppPassword = redacted
	}
	if out.Store.AuthToken != "" {
		out.Store.AuthToken = redacted
	}
	if out.Admin.Token != "" {
		out.Admin.Token = redacted
	}
	return out
}
