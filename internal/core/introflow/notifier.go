package introflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/openmkt/openmkt/internal/core"
)

// NotifyPath is the relay endpoint the notifier posts to.
const NotifyPath = "/notify"

// HTTPNotifier posts interest requests to a running openmkt service.
type HTTPNotifier struct {
	client *resty.Client
}

// NewHTTPNotifier returns a notifier rooted at baseURL.
func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPNotifier{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Notify submits req. A 429 answer becomes *RateLimitedError and any other
// non-success answer becomes *NotifyError.
func (n *HTTPNotifier) Notify(ctx context.Context, req core.InterestRequest) (core.InterestResponse, error) {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(NotifyPath)
	if err != nil {
		return core.InterestResponse{}, fmt.Errorf("notify: %w", err)
	}

	switch {
	case resp.IsSuccess():
		var out core.InterestResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return core.InterestResponse{}, fmt.Errorf("notify: decode response: %w", err)
		}
		return out, nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		var limited core.RateLimitedResponse
		_ = json.Unmarshal(resp.Body(), &limited)
		return core.InterestResponse{}, &RateLimitedError{
			Message:        limited.Message,
			ResetInMinutes: limited.ResetInMinutes,
		}
	default:
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &body)
		return core.InterestResponse{}, &NotifyError{Status: resp.StatusCode(), Message: body.Error}
	}
}
