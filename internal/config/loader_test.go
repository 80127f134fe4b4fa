package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", t.TempDir())

		cfg, err := Load(ctx, viper.New())
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "https://bsky.social", cfg.ATProto.ServiceURL)
		assert.Equal(t, "https://api.bsky.chat", cfg.ATProto.ChatServiceURL)
		assert.Equal(t, "did:web:api.bsky.chat", cfg.ATProto.ChatServiceDID)
		assert.Equal(t, "did:web:api.bsky.chat#bsky_chat", cfg.ATProto.ChatProxy)

		assert.Equal(t, time.Hour, cfg.RateLimit.Window)
		assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
		assert.Equal(t, time.Duration(0), cfg.ChatSessions.IdleTTL)

		assert.Equal(t, "openmkt.app", cfg.Bot.AdminHandle)
		assert.False(t, cfg.Bot.Configured())

		assert.Equal(t, "libsql", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir("openmkt"), "openmkt.db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
	})

	t.Run("ExplicitValuesWinOverDefaults", func(t *testing.T) {
		v := viper.New()
		v.Set("server.port", 9000)
		v.Set("rate_limit.max_requests", 10)
		v.Set("bot.handle", "@relay.example.com")

		cfg, err := Load(ctx, v)
		require.NoError(t, err)

		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
		assert.Equal(t, "relay.example.com", cfg.Bot.Handle)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("OPENMKT_PORT", "3000")
		t.Setenv("OPENMKT_LOG_LEVEL", "warn")
		t.Setenv("OPENMKT_METRICS_ENABLED", "false")
		t.Setenv("OPENMKT_BOT_HANDLE", "bot.example.com")
		t.Setenv("OPENMKT_BOT_APP_PASSWORD", "app-pass")
		t.Setenv("OPENMKT_RATE_LIMIT_WINDOW", "30m")

		cfg, err := Load(ctx, viper.New())
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.True(t, cfg.Bot.Configured())
		assert.Equal(t, 30*time.Minute, cfg.RateLimit.Window)
	})

	t.Run("TrailingSlashesTrimmed", func(t *testing.T) {
		v := viper.New()
		v.Set("atproto.service_url", "https://pds.example.com/")

		cfg, err := Load(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, "https://pds.example.com", cfg.ATProto.ServiceURL)
	})

	t.Run("InvalidRateLimit", func(t *testing.T) {
		v := viper.New()
		v.Set("rate_limit.max_requests", 0)

		_, err := Load(ctx, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate_limit.max_requests")
	})
}

func TestGetConfig(t *testing.T) {
	cfg, err := Load(context.Background(), viper.New())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
}

func TestEnvSpecs(t *testing.T) {
	_, err := Load(context.Background(), viper.New())
	require.NoError(t, err)

	envVarNames := make(map[string]bool)
	for _, spec := range getEnvSpecs() {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["OPENMKT_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["OPENMKT_PORT"], "PORT env var must be mapped")
	assert.True(t, envVarNames["OPENMKT_BOT_HANDLE"])
	assert.True(t, envVarNames["OPENMKT_BOT_APP_PASSWORD"])
	assert.True(t, envVarNames["OPENMKT_ADMIN_TOKEN"])
	assert.True(t, envVarNames["OPENMKT_DB_PATH"])
}

func TestRedacted(t *testing.T) {
	cfg := Config{
		Bot:   BotConfig{Handle: "bot.example.com", AppPassword: "secret"},
		Admin: AdminConfig{Token: "tok"},
	}

	out := cfg.Redacted()
	assert.Equal(t, "bot.example.com", out.Bot.Handle)
	assert.Equal(t, "********", out.Bot.AppPassword)
	assert.Equal(t, "********", out.Admin.Token)
	assert.Equal(t, "", out.Store.AuthToken)
	assert.Equal(t, "secret", cfg.Bot.AppPassword)
}
