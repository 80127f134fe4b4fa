package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/openmkt/openmkt/internal/core/engine"
	"github.com/openmkt/openmkt/internal/core/store"
	"github.com/openmkt/openmkt/internal/server/handlers"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatRateLimits renders limiter windows, one identity per row.
func (f *TableFormatter) FormatRateLimits(statuses []engine.Status) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Identity", "Used", "Remaining", "Resets In"})

	blocked := 0
	for _, st := range statuses {
		if st.Remaining == 0 {
			blocked++
		}
		t.AppendRow(table.Row{st.Identity, st.RequestsUsed, st.Remaining, fmt.Sprintf("%dm", st.ResetInMinutes)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d tracked", len(statuses)), fmt.Sprintf("%d blocked", blocked)})

	return t.Render(), nil
}

// FormatChatSessions renders stored sessions. Tokens are never shown.
func (f *TableFormatter) FormatChatSessions(sessions []handlers.ChatSessionSummary) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"DID", "Handle", "PDS", "Refreshable", "Updated"})

	for _, s := range sessions {
		t.AppendRow(table.Row{s.DID, s.Handle, s.PDSEndpoint, yesNo(s.HasRefreshToken), s.UpdatedAt.UTC().Format(time.RFC3339)})
	}
	if len(sessions) == 0 {
		t.AppendRow(table.Row{"(none)", "", "", "", ""})
	}

	return t.Render(), nil
}

// FormatInterest renders the flow outcome for one listing.
func (f *TableFormatter) FormatInterest(r InterestResult) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Listing", "State", "Bot", "Seller", "Notes"})
	t.AppendRow(table.Row{r.Listing.Title, r.State, yesNo(r.FollowsBot), yesNo(r.FollowsSeller), interestNotes(r)})
	return t.Render(), nil
}

// FormatInterestFlags renders the locally remembered introductions.
func (f *TableFormatter) FormatInterestFlags(flags []store.InterestFlag) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Buyer", "Listing", "Seller", "Sent"})
	for _, fl := range flags {
		t.AppendRow(table.Row{fl.BuyerDID, fl.ListingURI, fl.SellerDID, fl.SentAt.UTC().Format(time.RFC3339)})
	}
	if len(flags) == 0 {
		t.AppendRow(table.Row{"(none)", "", "", ""})
	}
	return t.Render(), nil
}
