package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/openmkt/openmkt/internal/core/engine"
	"github.com/openmkt/openmkt/internal/output"
	"github.com/openmkt/openmkt/internal/server/handlers"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect interest rate limits on a running server",
}

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked identities and their windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromCommand(cmd)
		if err != nil {
			return err
		}
		var list handlers.RateLimitList
		if err := client.do(cmd.Context(), http.MethodGet, "/admin/rate-limits", nil, &list); err != nil {
			return err
		}
		return writeOutput(cmd, "rate-limit.list", func(f output.Formatter) (string, error) {
			return f.FormatRateLimits(list.Identities)
		})
	},
}

var rateLimitStatusCmd = &cobra.Command{
	Use:   "status <did>",
	Short: "Show the window for one buyer DID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromCommand(cmd)
		if err != nil {
			return err
		}
		did := strings.TrimSpace(args[0])
		var status engine.Status
		if err := client.do(cmd.Context(), http.MethodGet, "/admin/rate-limits/"+url.PathEscape(did), nil, &status); err != nil {
			return err
		}
		return writeOutput(cmd, "rate-limit."+did, func(f output.Formatter) (string, error) {
			return f.FormatRateLimits([]engine.Status{status})
		})
	},
}

var rateLimitSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Drop identities whose window has fully expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromCommand(cmd)
		if err != nil {
			return err
		}
		var resp handlers.SweepResponse
		if err := client.do(cmd.Context(), http.MethodPost, "/admin/rate-limits/sweep", nil, &resp); err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write([]byte(ascii.DrawBox(sweepSummary(resp.Removed), 0)))
		return err
	},
}

func sweepSummary(removed int) string {
	if removed == 1 {
		return "Sweep removed 1 identity"
	}
	return fmt.Sprintf("Sweep removed %d identities", removed)
}

func init() {
	addClientFlags(rateLimitCmd)
	addOutputFlags(rateLimitListCmd)
	addOutputFlags(rateLimitStatusCmd)

	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitStatusCmd)
	rateLimitCmd.AddCommand(rateLimitSweepCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
