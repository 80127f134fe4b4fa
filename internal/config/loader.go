// Package config provides centralized configuration management for openmkt.
// Layer 1: built-in defaults (SetDefaults)
// Layer 2: user config file discovered via app identity
// Layer 3: OPENMKT_* environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/openmkt/openmkt/internal/appid"
)

var (
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetDefaults registers default configuration values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("atproto.service_url", "https://bsky.social")
	v.SetDefault("atproto.chat_service_url", "https://api.bsky.chat")
	v.SetDefault("atproto.chat_service_did", "did:web:api.bsky.chat")
	v.SetDefault("atproto.chat_proxy", "did:web:api.bsky.chat#bsky_chat")
	v.SetDefault("atproto.timeout", "15s")

	v.SetDefault("bot.handle", "")
	v.SetDefault("bot.app_password", "")
	v.SetDefault("bot.admin_handle", "openmkt.app")
	v.SetDefault("bot.login_max_elapsed", "30s")

	v.SetDefault("rate_limit.window", "1h")
	v.SetDefault("rate_limit.max_requests", 5)
	v.SetDefault("rate_limit.sweep_interval", "1h")

	v.SetDefault("chat_sessions.idle_ttl", "0s")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.timeout", "30s")

	v.SetDefault("admin.token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)
}

// Load decodes configuration from v (the global viper when nil), applying
// environment overrides derived from the app identity prefix.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	SetDefaults(v)

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if len(envOverrides) > 0 {
		if err := v.MergeConfigMap(envOverrides); err != nil {
			return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
// Missing bot credentials are allowed; bot-backed endpoints answer 503.
func (c *Config) Validate() error {
	var problems []string
	if c.RateLimit.Window <= 0 {
		problems = append(problems, "rate_limit.window must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 {
		problems = append(problems, "rate_limit.max_requests must be positive")
	}
	if strings.TrimSpace(c.ATProto.ServiceURL) == "" {
		problems = append(problems, "atproto.service_url is required")
	}
	if strings.TrimSpace(c.ATProto.ChatServiceURL) == "" {
		problems = append(problems, "atproto.chat_service_url is required")
	}
	if c.ChatSessions.IdleTTL < 0 {
		problems = append(problems, "chat_sessions.idle_ttl must not be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) normalize() {
	c.ATProto.ServiceURL = strings.TrimRight(strings.TrimSpace(c.ATProto.ServiceURL), "/")
	c.ATProto.ChatServiceURL = strings.TrimRight(strings.TrimSpace(c.ATProto.ChatServiceURL), "/")
	c.Client.ServerURL = strings.TrimRight(strings.TrimSpace(c.Client.ServerURL), "/")
	c.Bot.Handle = strings.TrimPrefix(strings.TrimSpace(c.Bot.Handle), "@")
	c.Bot.AdminHandle = strings.TrimPrefix(strings.TrimSpace(c.Bot.AdminHandle), "@")
	if strings.TrimSpace(c.Store.URL) == "" && strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = DefaultStorePath()
	}
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func envPrefix() string {
	prefix := "OPENMKT_"
	if appIdentity != nil && appIdentity.EnvPrefix != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs maps {PREFIX}{NAME} environment variables to config paths.
// Duration fields are read as strings and converted by the decode hook.
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		{Name: prefix + "ATPROTO_SERVICE_URL", Path: []string{"atproto", "service_url"}, Type: EnvString},
		{Name: prefix + "ATPROTO_CHAT_SERVICE_URL", Path: []string{"atproto", "chat_service_url"}, Type: EnvString},
		{Name: prefix + "ATPROTO_CHAT_SERVICE_DID", Path: []string{"atproto", "chat_service_did"}, Type: EnvString},
		{Name: prefix + "ATPROTO_TIMEOUT", Path: []string{"atproto", "timeout"}, Type: EnvString},

		{Name: prefix + "BOT_HANDLE", Path: []string{"bot", "handle"}, Type: EnvString},
		{Name: prefix + "BOT_APP_PASSWORD", Path: []string{"bot", "app_password"}, Type: EnvString},
		{Name: prefix + "ADMIN_HANDLE", Path: []string{"bot", "admin_handle"}, Type: EnvString},

		{Name: prefix + "RATE_LIMIT_WINDOW", Path: []string{"rate_limit", "window"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT_MAX_REQUESTS", Path: []string{"rate_limit", "max_requests"}, Type: EnvInt},
		{Name: prefix + "RATE_LIMIT_SWEEP_INTERVAL", Path: []string{"rate_limit", "sweep_interval"}, Type: EnvString},

		{Name: prefix + "CHAT_SESSIONS_IDLE_TTL", Path: []string{"chat_sessions", "idle_ttl"}, Type: EnvString},

		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		{Name: prefix + "SERVER_URL", Path: []string{"client", "server_url"}, Type: EnvString},
		{Name: prefix + "ADMIN_TOKEN", Path: []string{"admin", "token"}, Type: EnvString},

		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}
}

func appNamesForPaths() (configName string, binaryName string) {
	configName = "openmkt"
	binaryName = "openmkt"
	if appIdentity == nil {
		return configName, binaryName
	}
	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the local database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}
