package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitServerLogger(t *testing.T) {
	original := ServerLogger
	t.Cleanup(func() { ServerLogger = original })

	InitServerLogger(ServerLogOptions{
		Service:      "openmkt",
		Level:        "debug",
		Environment:  "test",
		Namespace:    "openmkt",
		StaticFields: map[string]any{"bot_handle": "at-marketplace-bot.bsky.social"},
	})
	require.NotNil(t, ServerLogger)
	require.Same(t, ServerLogger, Server())

	ServerLogger.Info("relay attempt", zap.String("seller_did", "did:plc:seller"))
}

func TestServerFallbackLogger(t *testing.T) {
	original := ServerLogger
	t.Cleanup(func() { ServerLogger = original })

	ServerLogger = nil
	logger := Server()
	require.NotNil(t, logger)
	assert.Same(t, logger, Server(), "fallback is created once")
}

func TestInitCLILogger(t *testing.T) {
	original := CLILogger
	t.Cleanup(func() { CLILogger = original })

	InitCLILogger("openmkt", true)
	require.NotNil(t, CLILogger)
	CLILogger.Debug("verbose", zap.String("crucible", crucible.GetVersionString()))
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" info ":  "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
		"":        "INFO",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("[::]:9464")
	require.NoError(t, err)
	assert.Equal(t, 9464, port)

	_, err = resolvePort("no-port")
	require.Error(t, err)
}
