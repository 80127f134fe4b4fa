package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/openmkt/openmkt/internal/core/engine"
	"github.com/openmkt/openmkt/internal/core/store"
	"github.com/openmkt/openmkt/internal/server/handlers"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatRateLimits(statuses []engine.Status) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Rate limits\n\n")
	sb.WriteString("| Identity | Used | Remaining | Resets In |\n")
	sb.WriteString("|----------|------|-----------|-----------|\n")
	for _, st := range statuses {
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %dm |\n",
			escapeMarkdownCell(st.Identity), st.RequestsUsed, st.Remaining, st.ResetInMinutes))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatChatSessions(sessions []handlers.ChatSessionSummary) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Chat sessions\n\n")
	sb.WriteString("| DID | Handle | PDS | Refreshable | Updated |\n")
	sb.WriteString("|-----|--------|-----|-------------|---------|\n")
	for _, s := range sessions {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			escapeMarkdownCell(s.DID),
			escapeMarkdownCell(s.Handle),
			escapeMarkdownCell(s.PDSEndpoint),
			yesNo(s.HasRefreshToken),
			s.UpdatedAt.UTC().Format(time.RFC3339)))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatInterest(r InterestResult) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(r.Listing.Title)))
	sb.WriteString("| State | Bot | Seller | Notes |\n")
	sb.WriteString("|-------|-----|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
		r.State, yesNo(r.FollowsBot), yesNo(r.FollowsSeller), escapeMarkdownCell(interestNotes(r))))
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatInterestFlags(flags []store.InterestFlag) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Sent introductions\n\n")
	sb.WriteString("| Buyer | Listing | Seller | Sent |\n")
	sb.WriteString("|-------|---------|--------|------|\n")
	for _, fl := range flags {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			escapeMarkdownCell(fl.BuyerDID),
			escapeMarkdownCell(fl.ListingURI),
			escapeMarkdownCell(fl.SellerDID),
			fl.SentAt.UTC().Format(time.RFC3339)))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "|", "\\|")
}
