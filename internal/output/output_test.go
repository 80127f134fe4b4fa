package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openmkt/openmkt/internal/core"
	"github.com/openmkt/openmkt/internal/core/engine"
	"github.com/openmkt/openmkt/internal/core/store"
	"github.com/openmkt/openmkt/internal/server/handlers"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleStatuses() []engine.Status {
	return []engine.Status{
		{Identity: "did:plc:a", RequestsUsed: 5, Remaining: 0, ResetInMinutes: 12},
		{Identity: "did:plc:b", RequestsUsed: 1, Remaining: 4, ResetInMinutes: 60},
	}
}

func TestFormatRateLimits(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatRateLimits(sampleStatuses())
	require.NoError(t, err)
	require.Contains(t, rendered, "did:plc:a")
	require.Contains(t, rendered, "12m")
	require.Contains(t, rendered, "1 BLOCKED")

	rendered, err = NewFormatter(FormatJSON).FormatRateLimits(sampleStatuses())
	require.NoError(t, err)
	var list handlers.RateLimitList
	require.NoError(t, json.Unmarshal([]byte(rendered), &list))
	require.Len(t, list.Identities, 2)

	rendered, err = NewFormatter(FormatJSON).FormatRateLimits(nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"identities":[]}`, rendered)

	rendered, err = NewFormatter(FormatMarkdown).FormatRateLimits(sampleStatuses())
	require.NoError(t, err)
	require.Contains(t, rendered, "| did:plc:b | 1 | 4 | 60m |")
}

func TestFormatChatSessionsHidesNothingSensitive(t *testing.T) {
	sessions := []handlers.ChatSessionSummary{{
		DID:             "did:plc:alice",
		Handle:          "alice.test",
		PDSEndpoint:     "https://pds.test",
		HasRefreshToken: true,
		UpdatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}

	for _, format := range []Format{FormatTable, FormatJSON, FormatMarkdown} {
		rendered, err := NewFormatter(format).FormatChatSessions(sessions)
		require.NoError(t, err)
		require.Contains(t, rendered, "did:plc:alice", format)
		require.Contains(t, rendered, "2026-01-02T03:04:05Z", format)
	}

	rendered, err := NewFormatter(FormatTable).FormatChatSessions(nil)
	require.NoError(t, err)
	require.Contains(t, rendered, "(none)")
}

func TestFormatInterest(t *testing.T) {
	result := InterestResult{
		Listing:       core.Listing{Title: "Lamp | brass", SellerDID: "did:plc:seller"},
		State:         "sent",
		FollowsBot:    true,
		FollowsSeller: true,
		Remaining:     3,
	}

	rendered, err := NewFormatter(FormatMarkdown).FormatInterest(result)
	require.NoError(t, err)
	require.Contains(t, rendered, "Lamp \\| brass")
	require.Contains(t, rendered, "3 requests left this hour")

	result.State = "ready"
	result.Message = "Rate limit exceeded. Please wait 37 minutes before trying again."
	rendered, err = NewFormatter(FormatTable).FormatInterest(result)
	require.NoError(t, err)
	require.Contains(t, rendered, "37 minutes")
}

func TestFormatInterestFlags(t *testing.T) {
	flags := []store.InterestFlag{{
		BuyerDID:   "did:plc:buyer",
		ListingURI: "at://did:plc:seller/app.openmkt.listing/1",
		SellerDID:  "did:plc:seller",
		SentAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}

	rendered, err := NewFormatter(FormatJSON).FormatInterestFlags(flags)
	require.NoError(t, err)
	var decoded struct {
		Flags []store.InterestFlag `json:"flags"`
	}
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Len(t, decoded.Flags, 1)
	require.Equal(t, "did:plc:seller", decoded.Flags[0].SellerDID)

	rendered, err = NewFormatter(FormatMarkdown).FormatInterestFlags(flags)
	require.NoError(t, err)
	require.Contains(t, rendered, "2026-03-01T12:00:00Z")

	rendered, err = NewFormatter(FormatTable).FormatInterestFlags(nil)
	require.NoError(t, err)
	require.Contains(t, rendered, "(none)")
}
