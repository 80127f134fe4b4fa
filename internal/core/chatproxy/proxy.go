// Package chatproxy forwards chat reads to a caller's PDS, preferring the
// server-side stored session and silently refreshing it once on rejection.
package chatproxy

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/core/store"
)

// DefaultProxyTarget routes PDS requests to the Bluesky chat service.
const DefaultProxyTarget = "did:web:api.bsky.chat#bsky_chat"

// Refresh outcomes reported through Proxy.OnRefresh.
const (
	RefreshSucceeded = "succeeded"
	RefreshRejected  = "rejected"
	RefreshFailed    = "failed"
)

// API is the XRPC surface the proxy uses. *atproto.Client satisfies it.
type API interface {
	GetSession(ctx context.Context, endpoint, authorization string) (*atproto.SessionInfo, error)
	RefreshSession(ctx context.Context, endpoint, refreshJwt string) (*atproto.Session, error)
	Forward(ctx context.Context, endpoint, nsid, authorization, proxy string, query url.Values) (*atproto.ProxyResponse, error)
}

// Sessions is the subset of *store.ChatSessionStore the proxy needs.
type Sessions interface {
	Get(did string) (store.ChatSession, bool)
	Update(did string, upd store.SessionUpdate) bool
	Remove(did string) bool
}

// Request describes one proxied read.
type Request struct {
	Authorization string
	PDSEndpoint   string
	Method        string
	Query         url.Values
}

// Proxy forwards requests on behalf of a caller.
type Proxy struct {
	API      API
	Sessions Sessions
	Target   string
	Clock    func() time.Time

	// OnRefresh observes refresh attempts.
	OnRefresh func(outcome string)
}

// Forward issues req upstream. Non-2xx replies come back as responses with
// status and body preserved; only transport failures are errors.
func (p *Proxy) Forward(ctx context.Context, req Request) (*atproto.ProxyResponse, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(req.PDSEndpoint), "/")
	authorization := req.Authorization

	did := p.resolveCaller(ctx, endpoint, req.Authorization)

	// A stored session only ever travels to the PDS it was created against.
	// Any host can claim a DID through getSession.
	var refresh RefreshFunc
	if did != "" && p.Sessions != nil {
		if rec, ok := p.Sessions.Get(did); ok && sameEndpoint(endpoint, rec.PDSEndpoint) {
			if rec.AccessJWT != "" && !p.expired(rec.AccessJWT) {
				authorization = atproto.Bearer(rec.AccessJWT)
			}
			if rec.RefreshJWT != "" {
				refresh = p.refresher(did)
			}
		}
	}

	target := p.Target
	if target == "" {
		target = DefaultProxyTarget
	}
	call := func(ctx context.Context, authorization string) (*atproto.ProxyResponse, error) {
		return p.API.Forward(ctx, endpoint, req.Method, authorization, target, req.Query)
	}

	return WithRefreshRetry(call, refresh, IsAuthFailure)(ctx, authorization)
}

// resolveCaller asks the PDS who holds the caller's credential. Failure is
// not fatal; the request proceeds with the caller's own token.
func (p *Proxy) resolveCaller(ctx context.Context, endpoint, authorization string) string {
	info, err := p.API.GetSession(ctx, endpoint, authorization)
	if err != nil || info == nil {
		return ""
	}
	return info.DID
}

func (p *Proxy) refresher(did string) RefreshFunc {
	return func(ctx context.Context) (string, error) {
		rec, ok := p.Sessions.Get(did)
		if !ok || rec.RefreshJWT == "" {
			return "", errors.New("no stored refresh token")
		}

		sess, err := p.API.RefreshSession(ctx, rec.PDSEndpoint, rec.RefreshJWT)
		if err != nil {
			var xe *atproto.XRPCError
			if errors.As(err, &xe) {
				// The refresh token itself was rejected; the record is dead.
				p.Sessions.Remove(did)
				p.observe(RefreshRejected)
			} else {
				p.observe(RefreshFailed)
			}
			return "", err
		}
		if sess.AccessJwt == "" {
			p.observe(RefreshFailed)
			return "", errors.New("refresh returned no access token")
		}

		p.Sessions.Update(did, store.SessionUpdate{
			AccessJWT:  sess.AccessJwt,
			RefreshJWT: sess.RefreshJwt,
		})
		p.observe(RefreshSucceeded)
		return atproto.Bearer(sess.AccessJwt), nil
	}
}

// sameEndpoint compares two service URLs by scheme, host and path, ignoring
// case in scheme and host and any trailing slash. An empty or unparsable
// side never matches.
func sameEndpoint(a, b string) bool {
	na, okA := normalizeEndpoint(a)
	nb, okB := normalizeEndpoint(b)
	return okA && okB && na == nb
}

func normalizeEndpoint(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/"), true
}

// expired inspects the exp claim without verifying the signature. The PDS
// verifies the token; this only avoids sending one that is known stale.
func (p *Proxy) expired(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !p.now().Before(claims.ExpiresAt.Time)
}

func (p *Proxy) observe(outcome string) {
	if p.OnRefresh != nil {
		p.OnRefresh(outcome)
	}
}

func (p *Proxy) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}
