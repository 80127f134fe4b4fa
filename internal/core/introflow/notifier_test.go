package introflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/core"
)

func TestHTTPNotifier(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, NotifyPath, r.URL.Path)
		var req core.InterestRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "did:plc:aaa", req.BuyerDID)

		w.Header().Set("Content-Type", "application/json")
		code := int(status.Load())
		w.WriteHeader(code)
		switch code {
		case http.StatusOK:
			_, _ = w.Write([]byte(`{"success":true,"remainingRequests":3,"resetInMinutes":60}`))
		case http.StatusTooManyRequests:
			_, _ = w.Write([]byte(`{"error":"Rate limit exceeded","message":"wait a bit","remainingRequests":0,"resetInMinutes":12}`))
		default:
			_, _ = w.Write([]byte(`{"error":"Failed to send message to seller"}`))
		}
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL+"/", time.Second)
	req := core.InterestRequest{SellerDID: "did:plc:seller", ListingTitle: "Bike", BuyerHandle: "b.test", BuyerDID: "did:plc:aaa"}

	resp, err := n.Notify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, core.InterestResponse{Success: true, RemainingRequests: 3, ResetInMinutes: 60}, resp)

	status.Store(http.StatusTooManyRequests)
	_, err = n.Notify(context.Background(), req)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 12, limited.ResetInMinutes)
	assert.Equal(t, "wait a bit", limited.UserMessage())

	status.Store(http.StatusInternalServerError)
	_, err = n.Notify(context.Background(), req)
	var failed *NotifyError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusInternalServerError, failed.Status)
	assert.Equal(t, "Failed to send message to seller", failed.Message)
}

type stubGraphAPI struct {
	profiles map[string]*atproto.Profile
	follows  []string
	repo     string
}

func (s *stubGraphAPI) GetProfile(_ context.Context, _, _, actor string) (*atproto.Profile, error) {
	p, ok := s.profiles[actor]
	if !ok {
		return nil, &atproto.XRPCError{Method: atproto.MethodGetProfile, Status: http.StatusBadRequest, Name: "InvalidRequest"}
	}
	return p, nil
}

func (s *stubGraphAPI) CreateFollow(_ context.Context, _, _, repo, subject string) (string, error) {
	s.repo = repo
	s.follows = append(s.follows, subject)
	return "at://" + repo + "/app.bsky.graph.follow/1", nil
}

func TestAtprotoGraph(t *testing.T) {
	api := &stubGraphAPI{profiles: map[string]*atproto.Profile{
		core.BotHandle:   {DID: "did:plc:bot", Handle: core.BotHandle},
		"did:plc:seller": {DID: "did:plc:seller", Viewer: &atproto.ViewerState{Following: "at://x/follow/1"}},
	}}
	g := &AtprotoGraph{API: api, Endpoint: "https://pds.test", AccessJWT: "jwt", BuyerDID: "did:plc:aaa"}
	ctx := context.Background()

	ok, err := g.FollowsBot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.FollowsActor(ctx, "did:plc:seller")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = g.FollowsActor(ctx, "did:plc:unknown")
	require.Error(t, err)

	require.NoError(t, g.FollowBot(ctx))
	require.NoError(t, g.Follow(ctx, "did:plc:seller"))
	assert.Equal(t, []string{"did:plc:bot", "did:plc:seller"}, api.follows)
	assert.Equal(t, "did:plc:aaa", api.repo)

	require.Error(t, g.Follow(ctx, " "))
}
