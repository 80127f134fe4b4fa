package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openmkt/openmkt/internal/output"
	"github.com/openmkt/openmkt/internal/server/handlers"
)

var chatSessionCmd = &cobra.Command{
	Use:   "chat-session",
	Short: "Inspect server-side chat sessions on a running server",
}

var chatSessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored chat sessions (tokens are never shown)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromCommand(cmd)
		if err != nil {
			return err
		}
		var list handlers.ChatSessionList
		if err := client.do(cmd.Context(), http.MethodGet, "/admin/chat-sessions", nil, &list); err != nil {
			return err
		}
		return writeOutput(cmd, "chat-session.list", func(f output.Formatter) (string, error) {
			return f.FormatChatSessions(list.Sessions)
		})
	},
}

var chatSessionRemoveCmd = &cobra.Command{
	Use:     "remove <did>",
	Aliases: []string{"rm"},
	Short:   "Forget the stored session for a DID",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromCommand(cmd)
		if err != nil {
			return err
		}
		did := strings.TrimSpace(args[0])
		if err := client.do(cmd.Context(), http.MethodDelete, "/admin/chat-sessions/"+url.PathEscape(did), nil, nil); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed chat session for %s\n", did)
		return err
	},
}

func init() {
	addClientFlags(chatSessionCmd)
	addOutputFlags(chatSessionListCmd)

	chatSessionCmd.AddCommand(chatSessionListCmd)
	chatSessionCmd.AddCommand(chatSessionRemoveCmd)
	rootCmd.AddCommand(chatSessionCmd)
}
