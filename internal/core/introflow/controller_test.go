package introflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmkt/openmkt/internal/core"
)

type fakeGraph struct {
	mu            sync.Mutex
	followsBot    bool
	followsSeller bool
	followErr     error
	checkErr      error
	checks        atomic.Int32
}

func (g *fakeGraph) FollowsBot(context.Context) (bool, error) {
	g.checks.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.followsBot, g.checkErr
}

func (g *fakeGraph) FollowsActor(context.Context, string) (bool, error) {
	g.checks.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.followsSeller, nil
}

func (g *fakeGraph) FollowBot(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.followErr != nil {
		return g.followErr
	}
	g.followsBot = true
	return nil
}

func (g *fakeGraph) Follow(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.followErr != nil {
		return g.followErr
	}
	g.followsSeller = true
	return nil
}

type fakeNotifier struct {
	calls   atomic.Int32
	err     error
	block   chan struct{}
	entered chan struct{}
	last    core.InterestRequest
}

func (n *fakeNotifier) Notify(_ context.Context, req core.InterestRequest) (core.InterestResponse, error) {
	n.calls.Add(1)
	n.last = req
	if n.entered != nil {
		close(n.entered)
	}
	if n.block != nil {
		<-n.block
	}
	if n.err != nil {
		return core.InterestResponse{}, n.err
	}
	return core.InterestResponse{Success: true, RemainingRequests: 4, ResetInMinutes: 60}, nil
}

var (
	testBuyer   = Buyer{DID: "did:plc:aaa", Handle: "buyer.test"}
	testListing = core.Listing{
		URI:       "at://did:plc:seller/app.openmkt.listing/1",
		Title:     "Road bike",
		Path:      "https://openmkt.app/listing/1",
		SellerDID: "did:plc:seller",
	}
)

func TestFlowScenarioToSentAndReload(t *testing.T) {
	ctx := context.Background()
	graph := &fakeGraph{}
	notifier := &fakeNotifier{}
	flags := NewMemoryFlags()

	c := New(graph, notifier, flags, testBuyer, testListing)
	require.Equal(t, StateLoading, c.State())

	state, err := c.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, StateFollowBot, state)

	state, err = c.FollowBot(ctx)
	require.NoError(t, err)
	require.Equal(t, StateFollowSeller, state)

	state, err = c.FollowSeller(ctx)
	require.NoError(t, err)
	require.Equal(t, StateReady, state)

	state, err = c.ShowInterest(ctx)
	require.NoError(t, err)
	require.Equal(t, StateSent, state)
	require.Equal(t, int32(1), notifier.calls.Load())
	assert.Equal(t, core.InterestRequest{
		SellerDID:    "did:plc:seller",
		ListingTitle: "Road bike",
		ListingPath:  "https://openmkt.app/listing/1",
		BuyerHandle:  "buyer.test",
		BuyerDID:     "did:plc:aaa",
	}, notifier.last)
	assert.Equal(t, 4, c.View().Remaining)

	reloaded := New(graph, notifier, flags, testBuyer, testListing)
	state, err = reloaded.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, StateSent, state)

	_, err = reloaded.ShowInterest(ctx)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, int32(1), notifier.calls.Load(), "reload must not re-send")
}

func TestLoadFollowsBotSkipsToSeller(t *testing.T) {
	c := New(&fakeGraph{followsBot: true}, &fakeNotifier{}, NewMemoryFlags(), testBuyer, testListing)
	state, err := c.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFollowSeller, state)
}

func TestFollowBotGoesStraightToReadyWhenSellerFollowed(t *testing.T) {
	ctx := context.Background()
	c := New(&fakeGraph{followsSeller: true}, &fakeNotifier{}, NewMemoryFlags(), testBuyer, testListing)
	_, err := c.Load(ctx)
	require.NoError(t, err)

	state, err := c.FollowBot(ctx)
	require.NoError(t, err)
	require.Equal(t, StateReady, state)
}

func TestOwnListingIsTerminal(t *testing.T) {
	graph := &fakeGraph{}
	buyer := Buyer{DID: testListing.SellerDID, Handle: "seller.test"}
	c := New(graph, &fakeNotifier{}, NewMemoryFlags(), buyer, testListing)

	state, err := c.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateOwnListing, state)
	require.Equal(t, int32(0), graph.checks.Load())

	_, err = c.FollowBot(context.Background())
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestLoadCheckFailureCountsAsNotFollowing(t *testing.T) {
	graph := &fakeGraph{checkErr: errors.New("network down")}
	c := New(graph, &fakeNotifier{}, NewMemoryFlags(), testBuyer, testListing)

	state, err := c.Load(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFollowBot, state)
	require.Error(t, c.View().Err)
}

// contextFlags answers IsSent after a delay and gives up if ctx ends first.
type contextFlags struct {
	delay time.Duration
	sent  bool
}

func (f *contextFlags) IsSent(ctx context.Context, _, _ string) (bool, error) {
	select {
	case <-time.After(f.delay):
		return f.sent, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (f *contextFlags) MarkSent(context.Context, string, core.Listing) error { return nil }

func TestLoadKeepsSentFlagWhenFollowCheckFails(t *testing.T) {
	graph := &fakeGraph{checkErr: errors.New("appview 502")}
	notifier := &fakeNotifier{}
	c := New(graph, notifier, &contextFlags{delay: 20 * time.Millisecond, sent: true}, testBuyer, testListing)

	state, err := c.Load(context.Background())
	require.ErrorContains(t, err, "check bot follow: appview 502")
	require.Equal(t, StateSent, state)

	_, err = c.ShowInterest(context.Background())
	require.Error(t, err)
	require.Zero(t, notifier.calls.Load())
}

func TestLoadJoinsEveryCheckError(t *testing.T) {
	graph := &fakeGraph{checkErr: errors.New("appview 502")}
	flags := &failingFlags{err: errors.New("disk full")}
	c := New(graph, &fakeNotifier{}, flags, testBuyer, testListing)

	state, err := c.Load(context.Background())
	require.Equal(t, StateFollowBot, state)
	require.ErrorContains(t, err, "check bot follow: appview 502")
	require.ErrorContains(t, err, "read sent flag: disk full")
}

type failingFlags struct{ err error }

func (f *failingFlags) IsSent(context.Context, string, string) (bool, error) { return false, f.err }

func (f *failingFlags) MarkSent(context.Context, string, core.Listing) error { return f.err }

func TestFollowFailureStaysInStep(t *testing.T) {
	ctx := context.Background()
	graph := &fakeGraph{followErr: errors.New("blocked")}
	c := New(graph, &fakeNotifier{}, NewMemoryFlags(), testBuyer, testListing)
	_, err := c.Load(ctx)
	require.NoError(t, err)

	state, err := c.FollowBot(ctx)
	require.Error(t, err)
	require.Equal(t, StateFollowBot, state)
	require.Error(t, c.View().Err)
}

func TestShowInterestRateLimited(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{err: &RateLimitedError{ResetInMinutes: 37}}
	flags := NewMemoryFlags()
	c := New(&fakeGraph{followsBot: true, followsSeller: true}, notifier, flags, testBuyer, testListing)
	_, err := c.Load(ctx)
	require.NoError(t, err)

	state, err := c.ShowInterest(ctx)
	require.Error(t, err)
	require.Equal(t, StateReady, state)

	view := c.View()
	assert.Equal(t, "Rate limit exceeded. Please wait 37 minutes before trying again.", view.RateLimitMessage)
	assert.NoError(t, view.Err)

	sent, err := flags.IsSent(ctx, testBuyer.DID, testListing.URI)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestRateLimitedErrorPrefersServerMessage(t *testing.T) {
	err := &RateLimitedError{Message: "You've reached the limit.", ResetInMinutes: 5}
	assert.Equal(t, "You've reached the limit.", err.UserMessage())
	assert.Equal(t, "Rate limit exceeded. Please wait 60 minutes before trying again.", (&RateLimitedError{}).UserMessage())
}

func TestShowInterestFailureReturnsToReady(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{err: &NotifyError{Status: 500, Message: "Failed to connect to seller chat"}}
	c := New(&fakeGraph{followsBot: true, followsSeller: true}, notifier, NewMemoryFlags(), testBuyer, testListing)
	_, err := c.Load(ctx)
	require.NoError(t, err)

	state, err := c.ShowInterest(ctx)
	require.Error(t, err)
	require.Equal(t, StateReady, state)
	assert.EqualError(t, c.View().Err, "Failed to notify seller: Failed to connect to seller chat")

	notifier.err = nil
	state, err = c.ShowInterest(ctx)
	require.NoError(t, err)
	require.Equal(t, StateSent, state)
}

func TestShowInterestSingleInFlight(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{block: make(chan struct{}), entered: make(chan struct{})}
	c := New(&fakeGraph{followsBot: true, followsSeller: true}, notifier, NewMemoryFlags(), testBuyer, testListing)
	_, err := c.Load(ctx)
	require.NoError(t, err)

	done := make(chan State, 1)
	go func() {
		state, _ := c.ShowInterest(ctx)
		done <- state
	}()

	<-notifier.entered
	require.Equal(t, StateSending, c.State())

	state, err := c.ShowInterest(ctx)
	require.ErrorIs(t, err, ErrInFlight)
	require.Equal(t, StateSending, state)

	close(notifier.block)
	require.Equal(t, StateSent, <-done)
	require.Equal(t, int32(1), notifier.calls.Load())
}

func TestLoadTwiceIsRejected(t *testing.T) {
	c := New(&fakeGraph{}, &fakeNotifier{}, NewMemoryFlags(), testBuyer, testListing)
	_, err := c.Load(context.Background())
	require.NoError(t, err)

	_, err = c.Load(context.Background())
	require.ErrorIs(t, err, ErrIllegalTransition)
}
