package cmd

import (
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/openmkt/openmkt/internal/errors"
	"github.com/openmkt/openmkt/internal/observability"
)

var healthRemote bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check to verify the application can start successfully.
With --remote, also query /health on the server at client.server_url (or --server).`,
	Run: func(cmd *cobra.Command, args []string) {
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		log := observability.CLILogger
		log.Info("Running health check...")

		if versionInfo.Version == "" {
			log.Error("❌ FAIL: Version information missing")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		log.Debug("Version check passed", zap.String("version", versionInfo.Version))
		log.Info("✅ Version information available")
		log.Info("✅ Logger initialized")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		log.Info("✅ Configuration valid")
		if cfg.Bot.Configured() {
			log.Info("✅ Bot credentials present")
		} else {
			log.Warn("⚠️  Bot credentials missing (relay endpoints will answer 503)")
		}

		if healthRemote {
			client, err := clientFromCommand(cmd)
			if err != nil {
				ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", err)
				return
			}
			var body map[string]any
			if err := client.do(cmd.Context(), http.MethodGet, "/health", nil, &body); err != nil {
				ExitWithCode(log, foundry.ExitExternalServiceUnavailable, "Remote health check failed", err)
				return
			}
			status, _ := body["status"].(string)
			log.Info("✅ Remote server responded", zap.String("status", strings.ToLower(status)))
		}

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthRemote, "remote", false, "also query the running server")
	healthCmd.Flags().StringVar(&clientServerURL, "server", "", "relay server URL (default client.server_url)")
	rootCmd.AddCommand(healthCmd)
}
