package output

import (
	"encoding/json"

	"github.com/openmkt/openmkt/internal/core/engine"
	"github.com/openmkt/openmkt/internal/core/store"
	"github.com/openmkt/openmkt/internal/server/handlers"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatRateLimits(statuses []engine.Status) (string, error) {
	if statuses == nil {
		statuses = []engine.Status{}
	}
	return f.marshal(handlers.RateLimitList{Identities: statuses})
}

func (f *JSONFormatter) FormatChatSessions(sessions []handlers.ChatSessionSummary) (string, error) {
	if sessions == nil {
		sessions = []handlers.ChatSessionSummary{}
	}
	return f.marshal(handlers.ChatSessionList{Sessions: sessions})
}

func (f *JSONFormatter) FormatInterest(r InterestResult) (string, error) {
	return f.marshal(r)
}

func (f *JSONFormatter) FormatInterestFlags(flags []store.InterestFlag) (string, error) {
	if flags == nil {
		flags = []store.InterestFlag{}
	}
	return f.marshal(struct {
		Flags []store.InterestFlag `json:"flags"`
	}{flags})
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
