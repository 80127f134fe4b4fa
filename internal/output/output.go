package output

import (
	"fmt"
	"strings"

	"github.com/openmkt/openmkt/internal/core"
	"github.com/openmkt/openmkt/internal/core/engine"
	"github.com/openmkt/openmkt/internal/core/store"
	"github.com/openmkt/openmkt/internal/server/handlers"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// InterestResult is what the interest command reports after driving the
// introduction flow for one listing.
type InterestResult struct {
	Listing        core.Listing `json:"listing"`
	State          string       `json:"state"`
	FollowsBot     bool         `json:"followsBot"`
	FollowsSeller  bool         `json:"followsSeller"`
	Remaining      int          `json:"remainingRequests,omitempty"`
	ResetInMinutes int          `json:"resetInMinutes,omitempty"`
	Message        string       `json:"message,omitempty"`
}

// Formatter renders operator and buyer views.
type Formatter interface {
	FormatRateLimits(statuses []engine.Status) (string, error)
	FormatChatSessions(sessions []handlers.ChatSessionSummary) (string, error)
	FormatInterest(result InterestResult) (string, error)
	FormatInterestFlags(flags []store.InterestFlag) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func interestNotes(r InterestResult) string {
	if r.Message != "" {
		return r.Message
	}
	switch r.State {
	case "sent":
		return fmt.Sprintf("%d requests left this hour", r.Remaining)
	case "follow-bot":
		return "follow the marketplace bot to continue"
	case "follow-seller":
		return "follow the seller to continue"
	case "own-listing":
		return "this is your listing"
	}
	return ""
}
