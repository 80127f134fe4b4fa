package chatproxy

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openmkt/openmkt/internal/atproto"
)

// Call performs one upstream attempt with an Authorization header value.
type Call func(ctx context.Context, authorization string) (*atproto.ProxyResponse, error)

// RefreshFunc exchanges stored credentials and returns a new Authorization value.
type RefreshFunc func(ctx context.Context) (string, error)

// AuthFailureFunc classifies an upstream response as a credential rejection.
type AuthFailureFunc func(resp *atproto.ProxyResponse) bool

// WithRefreshRetry wraps call so that an auth failure triggers refresh and
// exactly one retry. A nil refresh disables the retry. When refresh fails the
// original response is returned untouched.
func WithRefreshRetry(call Call, refresh RefreshFunc, isAuthFailure AuthFailureFunc) Call {
	return func(ctx context.Context, authorization string) (*atproto.ProxyResponse, error) {
		resp, err := call(ctx, authorization)
		if err != nil || refresh == nil || isAuthFailure == nil || !isAuthFailure(resp) {
			return resp, err
		}

		refreshed, refreshErr := refresh(ctx)
		if refreshErr != nil {
			return resp, nil
		}
		return call(ctx, refreshed)
	}
}

// IsAuthFailure treats 401, and 400 with ExpiredToken or InvalidToken, as
// a rejected credential.
func IsAuthFailure(resp *atproto.ProxyResponse) bool {
	if resp == nil {
		return false
	}
	switch resp.Status {
	case http.StatusUnauthorized:
		return true
	case http.StatusBadRequest:
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return false
		}
		return body.Error == "ExpiredToken" || body.Error == "InvalidToken"
	}
	return false
}
