// Package bot manages the operator's relay account: its lazily created
// session and the follow-back registration flow.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/core/relay"
)

var (
	// ErrNotConfigured means no bot handle or app password was provided.
	ErrNotConfigured = errors.New("bot credentials not configured")

	// ErrLoginFailed wraps the last createSession error once retries are spent.
	ErrLoginFailed = errors.New("bot login failed")
)

// Unavailable reports whether err means the relay account cannot act at all,
// as opposed to a failure of one specific operation.
func Unavailable(err error) bool {
	return errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrLoginFailed)
}

// API is the XRPC surface the agent needs. *atproto.Client satisfies it.
type API interface {
	CreateSession(ctx context.Context, identifier, password string) (*atproto.Session, error)
	GetProfile(ctx context.Context, endpoint, accessJwt, actor string) (*atproto.Profile, error)
	CreateFollow(ctx context.Context, endpoint, accessJwt, repo, subject string) (string, error)
	ResolveHandle(ctx context.Context, endpoint, handle string) (string, error)
}

// Agent holds the relay account session. Login happens on first use and is
// retried with exponential backoff; bad credentials fail immediately.
type Agent struct {
	API             API
	Handle          string
	AppPassword     string
	ServiceURL      string
	LoginMaxElapsed time.Duration

	// loginMu serializes logins; mu only guards the cached session so
	// LoggedIn and InvalidateSession never wait on a login in backoff.
	loginMu  sync.Mutex
	mu       sync.Mutex
	session  *atproto.Session
	endpoint string
}

// Configured reports whether credentials are present.
func (a *Agent) Configured() bool {
	return a != nil && strings.TrimSpace(a.Handle) != "" && strings.TrimSpace(a.AppPassword) != ""
}

// PrimarySession returns the cached session, logging in if needed.
func (a *Agent) PrimarySession(ctx context.Context) (relay.PrimarySession, error) {
	sess, endpoint, err := a.login(ctx)
	if err != nil {
		return relay.PrimarySession{}, err
	}
	return relay.PrimarySession{DID: sess.DID, AccessJWT: sess.AccessJwt, Endpoint: endpoint}, nil
}

// InvalidateSession drops the cached session so the next call logs in again.
func (a *Agent) InvalidateSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = nil
	a.endpoint = ""
}

// LoggedIn reports whether a session is cached. Used by readiness checks.
func (a *Agent) LoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

func (a *Agent) login(ctx context.Context) (*atproto.Session, string, error) {
	if !a.Configured() {
		return nil, "", ErrNotConfigured
	}

	if sess, endpoint := a.cached(); sess != nil {
		return sess, endpoint, nil
	}

	a.loginMu.Lock()
	defer a.loginMu.Unlock()
	if sess, endpoint := a.cached(); sess != nil {
		return sess, endpoint, nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 250 * time.Millisecond
	exp.Multiplier = 2
	exp.MaxInterval = 5 * time.Second
	exp.MaxElapsedTime = a.LoginMaxElapsed
	if exp.MaxElapsedTime <= 0 {
		exp.MaxElapsedTime = 30 * time.Second
	}
	exp.Reset()

	var sess *atproto.Session
	operation := func() error {
		var err error
		sess, err = a.API.CreateSession(ctx, a.Handle, a.AppPassword)
		if err == nil {
			return nil
		}
		if isCredentialError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(exp, ctx)); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	endpoint := sess.DIDDoc.PDSEndpoint(a.ServiceURL)
	a.mu.Lock()
	a.session = sess
	a.endpoint = endpoint
	a.mu.Unlock()
	return sess, endpoint, nil
}

func (a *Agent) cached() (*atproto.Session, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session, a.endpoint
}

// isCredentialError reports 4xx answers that retrying cannot fix.
func isCredentialError(err error) bool {
	status := atproto.StatusOf(err)
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError && status != http.StatusTooManyRequests
}

// RegisterResult describes the outcome of Register.
type RegisterResult struct {
	AlreadyFollowing bool
	FollowURI        string
}

// Message is the user-facing confirmation for the result.
func (r RegisterResult) Message() string {
	if r.AlreadyFollowing {
		return "Already verified"
	}
	return "Successfully registered! The verified bot is now following you."
}

// Register makes the bot follow did unless it already does.
func (a *Agent) Register(ctx context.Context, did string) (RegisterResult, error) {
	sess, endpoint, err := a.login(ctx)
	if err != nil {
		return RegisterResult{}, err
	}

	profile, err := a.API.GetProfile(ctx, endpoint, sess.AccessJwt, did)
	if err != nil {
		a.invalidateOnAuthFailure(err)
		return RegisterResult{}, fmt.Errorf("fetch profile %s: %w", did, err)
	}
	if profile.IsFollowing() {
		return RegisterResult{AlreadyFollowing: true, FollowURI: profile.Viewer.Following}, nil
	}

	uri, err := a.API.CreateFollow(ctx, endpoint, sess.AccessJwt, sess.DID, did)
	if err != nil {
		a.invalidateOnAuthFailure(err)
		return RegisterResult{}, fmt.Errorf("follow %s: %w", did, err)
	}
	return RegisterResult{FollowURI: uri}, nil
}

// ResolveHandle maps handle to a DID using the bot's PDS.
func (a *Agent) ResolveHandle(ctx context.Context, handle string) (string, error) {
	_, endpoint, err := a.login(ctx)
	if err != nil {
		return "", err
	}
	did, err := a.API.ResolveHandle(ctx, endpoint, handle)
	if err != nil {
		return "", fmt.Errorf("resolve handle %s: %w", handle, err)
	}
	if did == "" {
		return "", fmt.Errorf("resolve handle %s: empty did", handle)
	}
	return did, nil
}

func (a *Agent) invalidateOnAuthFailure(err error) {
	var xe *atproto.XRPCError
	if errors.As(err, &xe) && xe.IsAuthFailure() {
		a.InvalidateSession()
	}
}
