package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openmkt/openmkt/internal/core/store"
	"github.com/openmkt/openmkt/internal/output"
)

// interestLedger is the part of *store.Store the flag commands use.
type interestLedger interface {
	ListInterest(ctx context.Context, buyerDID string) ([]store.InterestFlag, error)
	ClearInterest(ctx context.Context, buyerDID, listingURI string) (bool, error)
}

var (
	interestFlagsBuyer   string
	interestResetListing string
)

var interestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List listings this machine already sent an introduction for",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		flags, err := db.ListInterest(cmd.Context(), strings.TrimSpace(interestFlagsBuyer))
		if err != nil {
			return err
		}
		return writeOutput(cmd, "interest-flags", func(f output.Formatter) (string, error) {
			return f.FormatInterestFlags(flags)
		})
	},
}

var interestResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget a sent introduction so the buyer can introduce again",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		msg, err := resetInterest(cmd.Context(), db, interestFlagsBuyer, interestResetListing)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), msg)
		return err
	},
}

func resetInterest(ctx context.Context, ledger interestLedger, buyerDID, listingURI string) (string, error) {
	buyerDID = strings.TrimSpace(buyerDID)
	listingURI = strings.TrimSpace(listingURI)
	if buyerDID == "" || listingURI == "" {
		return "", errors.New("--buyer and --listing-uri are required")
	}
	cleared, err := ledger.ClearInterest(ctx, buyerDID, listingURI)
	if err != nil {
		return "", err
	}
	if !cleared {
		return fmt.Sprintf("No introduction recorded for %s", listingURI), nil
	}
	return fmt.Sprintf("Cleared introduction for %s", listingURI), nil
}

func init() {
	interestListCmd.Flags().StringVar(&interestFlagsBuyer, "buyer", "", "only show flags for this buyer DID")
	addOutputFlags(interestListCmd)

	interestResetCmd.Flags().StringVar(&interestFlagsBuyer, "buyer", "", "buyer DID")
	interestResetCmd.Flags().StringVar(&interestResetListing, "listing-uri", "", "at:// URI of the listing")

	interestCmd.AddCommand(interestListCmd, interestResetCmd)
}
