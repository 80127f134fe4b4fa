package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/config"
	"github.com/openmkt/openmkt/internal/core/bot"
	"github.com/openmkt/openmkt/internal/observability"
)

var doctorSkipLogin bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the local setup and the bot account, and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		identity := GetAppIdentity()
		bannerName := "doctor"
		if identity != nil && identity.BinaryName != "" {
			bannerName = identity.BinaryName + " doctor"
		}
		log.Info("=== " + bannerName + " ===")
		log.Info("")
		log.Info("Running diagnostic checks...")
		log.Info("")

		allChecks := true
		const totalChecks = 6

		goVersion := runtime.Version()
		log.Info(fmt.Sprintf("[1/%d] Checking Go runtime... ✅ %s %s/%s", totalChecks, goVersion, runtime.GOOS, runtime.GOARCH),
			zap.String("go_version", goVersion))

		version := crucible.GetVersion()
		if version.Gofulmen != "" {
			log.Info(fmt.Sprintf("[2/%d] Checking Gofulmen access... ✅ v%s", totalChecks, version.Gofulmen), zap.String("gofulmen_version", version.Gofulmen))
		} else {
			log.Error(fmt.Sprintf("[2/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", totalChecks))
			allChecks = false
		}

		cfg, cfgErr := loadConfig(ctx)
		if cfgErr != nil {
			log.Error(fmt.Sprintf("[3/%d] Checking configuration... ❌ %v", totalChecks, cfgErr))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[3/%d] Checking configuration... ✅ %s", totalChecks, config.DefaultConfigPath()),
				zap.String("config_path", config.DefaultConfigPath()))
		}

		if cfgErr == nil {
			if !checkStore(ctx, cfg, 4, totalChecks) {
				allChecks = false
			}
		} else {
			log.Warn(fmt.Sprintf("[4/%d] Checking interest store... ⚠️  skipped (config not loaded)", totalChecks))
		}

		switch {
		case cfgErr != nil:
			log.Warn(fmt.Sprintf("[5/%d] Checking bot account... ⚠️  skipped (config not loaded)", totalChecks))
		case !cfg.Bot.Configured():
			log.Warn(fmt.Sprintf("[5/%d] Checking bot account... ⚠️  not configured (set OPENMKT_BOT_HANDLE and OPENMKT_BOT_APP_PASSWORD)", totalChecks))
			allChecks = false
		case doctorSkipLogin:
			log.Info(fmt.Sprintf("[5/%d] Checking bot account... ✅ %s (login skipped)", totalChecks, cfg.Bot.Handle))
		default:
			if !checkBotLogin(ctx, cfg, 5, totalChecks) {
				allChecks = false
			}
		}

		if cfgErr == nil && cfg.Admin.Token == "" {
			log.Info(fmt.Sprintf("[6/%d] Checking admin endpoints... ℹ️  disabled (no admin.token)", totalChecks))
		} else if cfgErr == nil {
			log.Info(fmt.Sprintf("[6/%d] Checking admin endpoints... ✅ enabled", totalChecks))
		} else {
			log.Warn(fmt.Sprintf("[6/%d] Checking admin endpoints... ⚠️  skipped (config not loaded)", totalChecks))
		}

		log.Info("")
		if allChecks {
			log.Info("✅ All checks passed! The relay is ready to serve.")
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		log.Info("")
		log.Info("=== End Diagnostics ===")
	},
}

func checkStore(ctx context.Context, cfg *config.Config, step, total int) bool {
	log := observability.CLILogger
	if cfg.Store.URL != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking interest store... ✅ %s (remote)", step, total, cfg.Store.URL))
		return true
	}

	absPath, _ := filepath.Abs(cfg.Store.Path)
	info, err := os.Stat(absPath)
	switch {
	case err == nil:
		log.Info(fmt.Sprintf("[%d/%d] Checking interest store... ✅ %s (%s)", step, total, absPath, formatFileSize(info.Size())),
			zap.String("db_path", absPath),
			zap.Int64("db_size", info.Size()))
		return true
	case os.IsNotExist(err):
		log.Info(fmt.Sprintf("[%d/%d] Checking interest store... ℹ️  %s (created on first 'interest')", step, total, absPath))
		return true
	default:
		log.Warn(fmt.Sprintf("[%d/%d] Checking interest store... ⚠️  %s (error: %v)", step, total, absPath, err))
		return false
	}
}

func checkBotLogin(ctx context.Context, cfg *config.Config, step, total int) bool {
	log := observability.CLILogger
	agent := &bot.Agent{
		API:             atproto.NewClient(cfg.ATProto.ServiceURL, cfg.ATProto.Timeout),
		Handle:          cfg.Bot.Handle,
		AppPassword:     cfg.Bot.AppPassword,
		ServiceURL:      cfg.ATProto.ServiceURL,
		LoginMaxElapsed: 10 * time.Second,
	}

	start := time.Now()
	session, err := agent.PrimarySession(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking bot account... ❌ login failed for %s", step, total, cfg.Bot.Handle), zap.Error(err))
		return false
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking bot account... ✅ %s (%s, %s)", step, total, cfg.Bot.Handle, session.DID, time.Since(start).Round(time.Millisecond)),
		zap.String("bot_did", session.DID),
		zap.String("pds", session.Endpoint))
	return true
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorSkipLogin, "skip-login", false, "do not log in as the bot account")
	rootCmd.AddCommand(doctorCmd)
}
