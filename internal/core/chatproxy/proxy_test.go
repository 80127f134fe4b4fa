package chatproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/core/store"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "did:plc:alice",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

// fakePDS accepts exactly one access token for chat reads and counts calls.
type fakePDS struct {
	validAccess  string
	refreshOK    bool
	newAccess    string
	sessionDID   string
	refreshCalls atomic.Int32
	chatCalls    atomic.Int32
	lastProxy    atomic.Value
}

func (f *fakePDS) accepts(authorization string) bool {
	if authorization == atproto.Bearer(f.validAccess) {
		return true
	}
	return f.newAccess != "" && f.refreshCalls.Load() > 0 && authorization == atproto.Bearer(f.newAccess)
}

func (f *fakePDS) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/"+atproto.MethodGetSession, func(w http.ResponseWriter, r *http.Request) {
		if f.sessionDID == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"did": f.sessionDID, "handle": "alice.test"})
	})
	mux.HandleFunc("/xrpc/"+atproto.MethodRefreshSession, func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		assert.Equal(t, "Bearer refresh-1", r.Header.Get("Authorization"))
		if !f.refreshOK {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"ExpiredToken","message":"Token has been revoked"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"did": "did:plc:alice", "accessJwt": f.newAccess, "refreshJwt": "refresh-2",
		})
	})
	mux.HandleFunc("/xrpc/"+atproto.MethodGetMessages, func(w http.ResponseWriter, r *http.Request) {
		f.chatCalls.Add(1)
		f.lastProxy.Store(r.Header.Get(atproto.ProxyHeader))
		w.Header().Set("Content-Type", "application/json")
		if !f.accepts(r.Header.Get("Authorization")) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"ExpiredToken","message":"Token has expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1"}]}`))
	})
	return mux
}

func newProxy(t *testing.T, pds *fakePDS) (*Proxy, *store.ChatSessionStore, string) {
	t.Helper()
	srv := httptest.NewServer(pds.handler(t))
	t.Cleanup(srv.Close)

	sessions := store.NewChatSessionStore()
	return &Proxy{
		API:      atproto.NewClient(srv.URL, 5*time.Second),
		Sessions: sessions,
		Target:   DefaultProxyTarget,
	}, sessions, srv.URL
}

func messagesRequest(endpoint, authorization string) Request {
	return Request{
		Authorization: authorization,
		PDSEndpoint:   endpoint + "/",
		Method:        atproto.MethodGetMessages,
		Query:         url.Values{"convoId": {"c1"}, "limit": {"50"}},
	}
}

func TestForwardWithValidStoredTokenNeverRefreshes(t *testing.T) {
	stored := signedToken(t, time.Now().Add(time.Hour))
	pds := &fakePDS{validAccess: stored, sessionDID: "did:plc:alice", refreshOK: true}
	proxy, sessions, endpoint := newProxy(t, pds)
	sessions.Save(store.ChatSession{DID: "did:plc:alice", PDSEndpoint: endpoint, AccessJWT: stored, RefreshJWT: "refresh-1"})

	resp, err := proxy.Forward(context.Background(), messagesRequest(endpoint, "Bearer caller-token"))
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.JSONEq(t, `{"messages":[{"id":"m1"}]}`, string(resp.Body))
	require.Equal(t, int32(0), pds.refreshCalls.Load())
	require.Equal(t, int32(1), pds.chatCalls.Load())
	require.Equal(t, DefaultProxyTarget, pds.lastProxy.Load())
}

func TestForwardRefreshesExactlyOnce(t *testing.T) {
	expired := signedToken(t, time.Now().Add(-time.Minute))
	pds := &fakePDS{validAccess: "never", newAccess: "fresh-access", sessionDID: "did:plc:alice", refreshOK: true}
	proxy, sessions, endpoint := newProxy(t, pds)
	sessions.Save(store.ChatSession{DID: "did:plc:alice", PDSEndpoint: endpoint, AccessJWT: expired, RefreshJWT: "refresh-1"})

	var outcomes []string
	proxy.OnRefresh = func(outcome string) { outcomes = append(outcomes, outcome) }

	resp, err := proxy.Forward(context.Background(), messagesRequest(endpoint, "Bearer caller-token"))
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Equal(t, int32(1), pds.refreshCalls.Load())
	require.Equal(t, int32(2), pds.chatCalls.Load())
	require.Equal(t, []string{RefreshSucceeded}, outcomes)

	rec, ok := sessions.Get("did:plc:alice")
	require.True(t, ok)
	require.Equal(t, "fresh-access", rec.AccessJWT)
	require.Equal(t, "refresh-2", rec.RefreshJWT)
}

func TestForwardRejectedRefreshEvictsSessionAndPassesThrough(t *testing.T) {
	pds := &fakePDS{validAccess: "never", sessionDID: "did:plc:alice", refreshOK: false}
	proxy, sessions, endpoint := newProxy(t, pds)
	sessions.Save(store.ChatSession{DID: "did:plc:alice", PDSEndpoint: endpoint, AccessJWT: "opaque", RefreshJWT: "refresh-1"})

	resp, err := proxy.Forward(context.Background(), messagesRequest(endpoint, "Bearer caller-token"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.JSONEq(t, `{"error":"ExpiredToken","message":"Token has expired"}`, string(resp.Body))
	require.Equal(t, int32(1), pds.refreshCalls.Load())
	require.Equal(t, int32(1), pds.chatCalls.Load())

	_, ok := sessions.Get("did:plc:alice")
	require.False(t, ok, "a rejected refresh token evicts the stored session")
}

func TestForwardWithoutStoredSessionUsesCallerToken(t *testing.T) {
	pds := &fakePDS{validAccess: "caller-token"}
	proxy, _, endpoint := newProxy(t, pds)

	resp, err := proxy.Forward(context.Background(), messagesRequest(endpoint, "Bearer caller-token"))
	require.NoError(t, err)
	require.True(t, resp.OK())

	resp, err = proxy.Forward(context.Background(), messagesRequest(endpoint, "Bearer stale"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.Equal(t, int32(0), pds.refreshCalls.Load())
}

func TestWithRefreshRetry(t *testing.T) {
	unauthorized := &atproto.ProxyResponse{Status: http.StatusUnauthorized}
	ok := &atproto.ProxyResponse{Status: http.StatusOK}

	var seen []string
	call := func(_ context.Context, authorization string) (*atproto.ProxyResponse, error) {
		seen = append(seen, authorization)
		if authorization == "Bearer new" {
			return ok, nil
		}
		return unauthorized, nil
	}

	refreshes := 0
	refresh := func(context.Context) (string, error) {
		refreshes++
		return "Bearer new", nil
	}

	resp, err := WithRefreshRetry(call, refresh, IsAuthFailure)(context.Background(), "Bearer old")
	require.NoError(t, err)
	require.Same(t, ok, resp)
	require.Equal(t, []string{"Bearer old", "Bearer new"}, seen)
	require.Equal(t, 1, refreshes)

	seen = nil
	resp, err = WithRefreshRetry(call, nil, IsAuthFailure)(context.Background(), "Bearer old")
	require.NoError(t, err)
	require.Same(t, unauthorized, resp)
	require.Len(t, seen, 1)
}

func TestIsAuthFailure(t *testing.T) {
	require.True(t, IsAuthFailure(&atproto.ProxyResponse{Status: 401}))
	require.True(t, IsAuthFailure(&atproto.ProxyResponse{Status: 400, Body: []byte(`{"error":"InvalidToken"}`)}))
	require.False(t, IsAuthFailure(&atproto.ProxyResponse{Status: 400, Body: []byte(`{"error":"InvalidRequest"}`)}))
	require.False(t, IsAuthFailure(&atproto.ProxyResponse{Status: 500}))
	require.False(t, IsAuthFailure(nil))
}

func TestForwardKeepsStoredSessionOnItsOwnPDS(t *testing.T) {
	stored := signedToken(t, time.Now().Add(time.Hour))
	home := &fakePDS{validAccess: stored, refreshOK: true, newAccess: "fresh-access"}
	_, sessions, homeURL := newProxy(t, home)
	sessions.Save(store.ChatSession{DID: "did:plc:alice", PDSEndpoint: homeURL, AccessJWT: stored, RefreshJWT: "refresh-1"})

	var received []string
	foreign := http.NewServeMux()
	foreign.HandleFunc("/xrpc/"+atproto.MethodGetSession, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"did": "did:plc:alice", "handle": "alice.test"})
	})
	foreign.HandleFunc("/xrpc/"+atproto.MethodGetMessages, func(w http.ResponseWriter, r *http.Request) {
		received = append(received, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	})
	foreignSrv := httptest.NewServer(foreign)
	t.Cleanup(foreignSrv.Close)

	proxy := &Proxy{
		API:      atproto.NewClient(homeURL, 5*time.Second),
		Sessions: sessions,
		Target:   DefaultProxyTarget,
	}
	resp, err := proxy.Forward(context.Background(), messagesRequest(foreignSrv.URL, "Bearer caller-token"))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.Status)

	require.Equal(t, []string{"Bearer caller-token"}, received)
	require.Equal(t, int32(0), home.refreshCalls.Load())
	rec, ok := sessions.Get("did:plc:alice")
	require.True(t, ok)
	require.Equal(t, stored, rec.AccessJWT)
}

func TestSameEndpoint(t *testing.T) {
	require.True(t, sameEndpoint("https://PDS.example/", "https://pds.example"))
	require.True(t, sameEndpoint("https://pds.example/base/", "https://pds.example/base"))
	require.False(t, sameEndpoint("https://pds.example", "https://pds.example.evil"))
	require.False(t, sameEndpoint("http://pds.example", "https://pds.example"))
	require.False(t, sameEndpoint("https://pds.example", ""))
	require.False(t, sameEndpoint("", ""))
}
