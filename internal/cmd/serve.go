package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/config"
	"github.com/openmkt/openmkt/internal/core/bot"
	"github.com/openmkt/openmkt/internal/core/chatproxy"
	"github.com/openmkt/openmkt/internal/core/engine"
	"github.com/openmkt/openmkt/internal/core/relay"
	"github.com/openmkt/openmkt/internal/core/store"
	errwrap "github.com/openmkt/openmkt/internal/errors"
	"github.com/openmkt/openmkt/internal/metrics"
	"github.com/openmkt/openmkt/internal/observability"
	"github.com/openmkt/openmkt/internal/server"
	"github.com/openmkt/openmkt/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

// relayComponents is the object graph behind the marketplace endpoints.
type relayComponents struct {
	agent    *bot.Agent
	limiter  *engine.RateLimiter
	sessions *store.ChatSessionStore
	sweeper  *engine.Sweeper
	market   *handlers.Marketplace
	admin    *handlers.Admin
}

func buildRelay(cfg *config.Config, userAgent string) *relayComponents {
	api := atproto.NewClient(cfg.ATProto.ServiceURL, cfg.ATProto.Timeout, atproto.WithUserAgent(userAgent))

	agent := &bot.Agent{
		API:             api,
		Handle:          cfg.Bot.Handle,
		AppPassword:     cfg.Bot.AppPassword,
		ServiceURL:      cfg.ATProto.ServiceURL,
		LoginMaxElapsed: cfg.Bot.LoginMaxElapsed,
	}

	broker := &relay.Broker{
		Sessions: agent,
		API:      api,
		OnMint:   metrics.RecordServiceToken,
	}

	limiter := engine.NewRateLimiter(engine.RateLimit{
		RequestsPerWindow: cfg.RateLimit.MaxRequests,
		WindowDuration:    cfg.RateLimit.Window,
	})
	sessions := store.NewChatSessionStore()

	proxy := &chatproxy.Proxy{
		API:       api,
		Sessions:  sessions,
		Target:    cfg.ATProto.ChatProxy,
		OnRefresh: metrics.RecordProxyRefresh,
	}

	tasks := map[string]engine.SweepTask{
		"rate_limit": func(time.Time) int {
			removed := limiter.Sweep()
			metrics.SetRateLimitIdentities(len(limiter.Identities()))
			return removed
		},
	}
	if ttl := cfg.ChatSessions.IdleTTL; ttl > 0 {
		tasks["chat_sessions"] = func(now time.Time) int {
			removed := sessions.SweepIdle(now, ttl)
			metrics.SetChatSessions(sessions.Len())
			return removed
		}
	}

	sweeper := &engine.Sweeper{
		Interval: cfg.RateLimit.SweepInterval,
		Tasks:    tasks,
		OnSweep: func(task string, removed int) {
			metrics.RecordSweep(task, removed)
			if removed > 0 {
				observability.Server().Debug("Sweep removed entries",
					zap.String("task", task),
					zap.Int("removed", removed))
			}
		},
	}

	relayClient := &relay.Client{
		Minter:   broker,
		Chat:     api,
		ChatURL:  cfg.ATProto.ChatServiceURL,
		Audience: cfg.ATProto.ChatServiceDID,
	}

	market := &handlers.Marketplace{
		Limiter:     limiter,
		Relay:       relayClient,
		Bot:         agent,
		Sessions:    sessions,
		Auth:        api,
		Proxy:       proxy,
		ServiceURL:  cfg.ATProto.ServiceURL,
		AdminHandle: cfg.Bot.AdminHandle,
	}

	return &relayComponents{
		agent:    agent,
		limiter:  limiter,
		sessions: sessions,
		sweeper:  sweeper,
		market:   market,
		admin:    &handlers.Admin{Limiter: limiter, Sessions: sessions},
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay HTTP server",
	Long: `Start the relay HTTP server with graceful shutdown support.

The bot account is configured with bot.handle and bot.app_password
(OPENMKT_BOT_HANDLE / OPENMKT_BOT_APP_PASSWORD). Without them the server
still starts; bot-backed endpoints answer 503.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (log level only; restart for other changes)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		staticFields := map[string]any{"bot_handle": cfg.Bot.Handle}
		observability.InitServerLogger(observability.ServerLogOptions{
			Service:      identity.BinaryName,
			Level:        cfg.Logging.Level,
			Namespace:    namespace,
			StaticFields: staticFields,
		})
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(observability.MetricsOptions{
				Service:   identity.BinaryName,
				Port:      cfg.Metrics.Port,
				Namespace: namespace,
			}); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		components := buildRelay(cfg, fmt.Sprintf("%s/%s", identity.BinaryName, versionInfo.Version))
		if !components.agent.Configured() {
			logger.Warn("Bot credentials not configured; /notify, /marketplace/register and /admin/report will answer 503")
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("service_url", cfg.ATProto.ServiceURL),
			zap.String("chat_service_url", cfg.ATProto.ChatServiceURL),
			zap.Int("rate_limit_max", components.limiter.Limit.RequestsPerWindow),
			zap.Duration("rate_limit_window", components.limiter.Limit.WindowDuration))

		hm := handlers.NewHealthManager(versionInfo.Version)
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		hm.RegisterChecker("bot", handlers.BotChecker(components.agent.Configured))

		handlers.SetAppIdentity(identity)
		handlers.SetServiceInfo(handlers.ServiceInfo{
			BotHandle:      cfg.Bot.Handle,
			PrimaryService: cfg.ATProto.ServiceURL,
			ChatService:    cfg.ATProto.ChatServiceURL,
		})

		srv := server.New(cfg.Server.Host, cfg.Server.Port, server.Options{
			Timeouts:    cfg.Server,
			Marketplace: components.market,
			Admin:       components.admin,
			AdminToken:  cfg.Admin.Token,
			Health:      hm,
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		bgCtx, stopBackground := context.WithCancel(context.Background())
		go components.sweeper.Run(bgCtx)
		go trackUptime(bgCtx, time.Now())

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stopBackground()
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					logger.Error("Failed to reload config file",
						zap.String("file", viper.ConfigFileUsed()),
						zap.Error(err))
					return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
				}
			}

			reloaded, err := config.Load(ctx, viper.GetViper())
			if err != nil {
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			observability.InitServerLogger(observability.ServerLogOptions{
				Service:      identity.BinaryName,
				Level:        reloaded.Logging.Level,
				Namespace:    namespace,
				StaticFields: staticFields,
			})
			observability.ServerLogger.Info("Configuration reloaded",
				zap.String("file", viper.ConfigFileUsed()),
				zap.String("log_level", reloaded.Logging.Level))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			stopBackground()
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func trackUptime(ctx context.Context, started time.Time) {
	metrics.SetServerStartTime(started.Unix())
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			metrics.SetServerUptime(int64(now.Sub(started).Seconds()))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
