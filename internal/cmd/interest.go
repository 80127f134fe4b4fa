package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/core"
	"github.com/openmkt/openmkt/internal/core/introflow"
	"github.com/openmkt/openmkt/internal/observability"
	"github.com/openmkt/openmkt/internal/output"
)

var (
	interestHandle    string
	interestPassword  string
	interestListing   core.Listing
	interestBotHandle string
	interestFollow    bool
	interestCheckOnly bool
)

var interestCmd = &cobra.Command{
	Use:   "interest",
	Short: "Tell a seller you are interested in a listing",
	Long: `Run the buyer side of the introduction flow against a relay server.

The buyer must follow the marketplace bot and the seller before the bot
will pass the message on. With --follow those follows are created
automatically; otherwise the command stops at the first missing follow.

Sent flags are stored locally so a listing is never announced twice.
The app password may also be supplied via OPENMKT_BUYER_APP_PASSWORD.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		password := interestPassword
		if password == "" {
			password = os.Getenv(envPrefixOr("OPENMKT_") + "BUYER_APP_PASSWORD")
		}
		if strings.TrimSpace(interestHandle) == "" || strings.TrimSpace(password) == "" {
			return errors.New("--handle and an app password are required")
		}
		listing := interestListing
		if strings.TrimSpace(listing.URI) == "" || strings.TrimSpace(listing.SellerDID) == "" || strings.TrimSpace(listing.Title) == "" {
			return errors.New("--listing-uri, --seller-did and --title are required")
		}

		api := atproto.NewClient(cfg.ATProto.ServiceURL, cfg.ATProto.Timeout)
		sess, err := api.CreateSession(ctx, strings.TrimPrefix(interestHandle, "@"), password)
		if err != nil {
			return fmt.Errorf("buyer login: %w", err)
		}

		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		serverURL := strings.TrimSpace(clientServerURL)
		if serverURL == "" {
			serverURL = cfg.Client.ServerURL
		}

		graph := &introflow.AtprotoGraph{
			API:       api,
			Endpoint:  sess.DIDDoc.PDSEndpoint(cfg.ATProto.ServiceURL),
			AccessJWT: sess.AccessJwt,
			BuyerDID:  sess.DID,
			BotHandle: interestBotHandle,
		}
		ctrl := introflow.New(graph,
			introflow.NewHTTPNotifier(serverURL, cfg.Client.Timeout),
			&introflow.StoreFlags{Store: db},
			introflow.Buyer{DID: sess.DID, Handle: sess.Handle},
			listing)

		runErr := driveInterest(ctx, ctrl)
		view := ctrl.View()

		result := output.InterestResult{
			Listing:        listing,
			State:          view.State.String(),
			FollowsBot:     view.FollowsBot,
			FollowsSeller:  view.FollowsSeller,
			Remaining:      view.Remaining,
			ResetInMinutes: view.ResetInMinutes,
			Message:        view.RateLimitMessage,
		}
		if result.Message == "" && view.Err != nil {
			result.Message = view.Err.Error()
		}

		if err := writeOutput(cmd, "interest", func(f output.Formatter) (string, error) {
			return f.FormatInterest(result)
		}); err != nil {
			return err
		}
		return runErr
	},
}

// driveInterest walks the controller until it reaches a state that needs
// the user, or a terminal state.
func driveInterest(ctx context.Context, ctrl *introflow.Controller) error {
	state, err := ctrl.Load(ctx)
	if err != nil {
		observability.CLILogger.Warn("Follow check failed", zap.Error(err))
	}

	for {
		switch state {
		case introflow.StateFollowBot:
			if !interestFollow {
				return nil
			}
			observability.CLILogger.Info("Following the marketplace bot")
			if state, err = ctrl.FollowBot(ctx); err != nil {
				return err
			}
		case introflow.StateFollowSeller:
			if !interestFollow {
				return nil
			}
			observability.CLILogger.Info("Following the seller")
			if state, err = ctrl.FollowSeller(ctx); err != nil {
				return err
			}
		case introflow.StateReady:
			if interestCheckOnly {
				return nil
			}
			state, err = ctrl.ShowInterest(ctx)
			if state == introflow.StateReady {
				// Rate limited or the relay failed; the view carries the message.
				return err
			}
		default:
			return err
		}
	}
}

func envPrefixOr(fallback string) string {
	if identity := GetAppIdentity(); identity != nil && identity.EnvPrefix != "" {
		return identity.EnvPrefix
	}
	return fallback
}

func init() {
	interestCmd.Flags().StringVar(&interestHandle, "handle", "", "buyer handle")
	interestCmd.Flags().StringVar(&interestPassword, "app-password", "", "buyer app password")
	interestCmd.Flags().StringVar(&interestListing.URI, "listing-uri", "", "at:// URI of the listing")
	interestCmd.Flags().StringVar(&interestListing.Title, "title", "", "listing title")
	interestCmd.Flags().StringVar(&interestListing.Path, "path", "", "public link to the listing")
	interestCmd.Flags().StringVar(&interestListing.SellerDID, "seller-did", "", "seller DID")
	interestCmd.Flags().StringVar(&interestBotHandle, "bot-handle", core.BotHandle, "marketplace bot handle")
	interestCmd.Flags().BoolVar(&interestFollow, "follow", false, "create missing follows automatically")
	interestCmd.Flags().BoolVar(&interestCheckOnly, "check", false, "only report the flow state, do not send")
	interestCmd.Flags().StringVar(&clientServerURL, "server", "", "relay server URL (default client.server_url)")
	addOutputFlags(interestCmd)

	rootCmd.AddCommand(interestCmd)
}
