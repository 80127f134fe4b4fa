package introflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/openmkt/openmkt/internal/core"
)

// ErrInFlight is returned when ShowInterest is called while a send is pending.
var ErrInFlight = errors.New("interest request already in flight")

// Graph answers and mutates the buyer's follow relationships.
type Graph interface {
	FollowsBot(ctx context.Context) (bool, error)
	FollowsActor(ctx context.Context, did string) (bool, error)
	FollowBot(ctx context.Context) error
	Follow(ctx context.Context, did string) error
}

// Notifier submits an introduction request to the relay service.
type Notifier interface {
	Notify(ctx context.Context, req core.InterestRequest) (core.InterestResponse, error)
}

// SentFlags persists the interest-sent bit per buyer and listing.
type SentFlags interface {
	IsSent(ctx context.Context, buyerDID, listingURI string) (bool, error)
	MarkSent(ctx context.Context, buyerDID string, listing core.Listing) error
}

// RateLimitedError is returned by a Notifier when the service answers 429.
type RateLimitedError struct {
	Message        string
	ResetInMinutes int
}

func (e *RateLimitedError) Error() string {
	return "rate limited: " + e.UserMessage()
}

// UserMessage is the text shown to the buyer.
func (e *RateLimitedError) UserMessage() string {
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	reset := e.ResetInMinutes
	if reset <= 0 {
		reset = 60
	}
	return fmt.Sprintf("Rate limit exceeded. Please wait %d minutes before trying again.", reset)
}

// NotifyError is any other non-success answer from the relay service.
type NotifyError struct {
	Status  int
	Message string
}

func (e *NotifyError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return fmt.Sprintf("Failed to notify seller: %s", msg)
}

// Buyer is the signed-in account driving the flow.
type Buyer struct {
	DID    string
	Handle string
}

// View is a consistent read of the controller.
type View struct {
	State            State
	FollowsBot       bool
	FollowsSeller    bool
	RateLimitMessage string
	Remaining        int
	ResetInMinutes   int
	Err              error
}

// Controller owns the flow for one buyer/listing pair. Methods are safe for
// concurrent use; transitions are applied one at a time.
type Controller struct {
	Graph    Graph
	Notifier Notifier
	Flags    SentFlags
	Buyer    Buyer
	Listing  core.Listing

	mu        sync.Mutex
	state     State
	snap      Snapshot
	rateLimit string
	last      core.InterestResponse
	err       error
}

// New returns a controller in StateLoading.
func New(graph Graph, notifier Notifier, flags SentFlags, buyer Buyer, listing core.Listing) *Controller {
	return &Controller{
		Graph:    graph,
		Notifier: notifier,
		Flags:    flags,
		Buyer:    buyer,
		Listing:  listing,
		state:    StateLoading,
	}
}

// State returns the current step.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the current step together with its display data.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		State:            c.state,
		FollowsBot:       c.snap.FollowsBot,
		FollowsSeller:    c.snap.FollowsSeller,
		RateLimitMessage: c.rateLimit,
		Remaining:        c.last.RemainingRequests,
		ResetInMinutes:   c.last.ResetInMinutes,
		Err:              c.err,
	}
}

// Load queries follow state and the sent flag concurrently and leaves
// StateLoading. Every check runs to completion so one failure cannot hide
// another's answer; a persisted sent flag wins over any follow error. A
// failed follow check counts as "not following" and all errors are joined
// into the returned error while the flow still advances.
func (c *Controller) Load(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.state != StateLoading {
		s := c.state
		c.mu.Unlock()
		return s, &TransitionError{From: s, Event: EventFollowsAll}
	}
	c.mu.Unlock()

	snap := Snapshot{Loaded: true}
	snap.OwnListing = c.Buyer.DID != "" && c.Buyer.DID == c.Listing.SellerDID

	var loadErr error
	if !snap.OwnListing {
		var followsBot, followsSeller, sent bool
		var botErr, sellerErr, flagErr error
		var g errgroup.Group
		g.Go(func() error {
			followsBot, botErr = c.Graph.FollowsBot(ctx)
			if botErr != nil {
				botErr = fmt.Errorf("check bot follow: %w", botErr)
			}
			return nil
		})
		if c.Listing.SellerDID != "" {
			g.Go(func() error {
				followsSeller, sellerErr = c.Graph.FollowsActor(ctx, c.Listing.SellerDID)
				if sellerErr != nil {
					sellerErr = fmt.Errorf("check seller follow: %w", sellerErr)
				}
				return nil
			})
		}
		if c.Flags != nil && c.Listing.URI != "" {
			g.Go(func() error {
				sent, flagErr = c.Flags.IsSent(ctx, c.Buyer.DID, c.Listing.URI)
				if flagErr != nil {
					flagErr = fmt.Errorf("read sent flag: %w", flagErr)
				}
				return nil
			})
		}
		_ = g.Wait()
		loadErr = errors.Join(botErr, sellerErr, flagErr)
		followsBot = followsBot && botErr == nil
		followsSeller = followsSeller && sellerErr == nil
		sent = sent && flagErr == nil
		snap.FollowsBot = followsBot
		snap.FollowsSeller = followsSeller
		snap.InterestSent = sent
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
	c.err = loadErr
	next, err := Next(c.state, loadEvent(snap))
	if err != nil {
		return c.state, err
	}
	c.state = next
	return c.state, loadErr
}

// FollowBot follows the relay account on the buyer's behalf. A failure keeps
// the flow in StateFollowBot; the caller decides whether to retry.
func (c *Controller) FollowBot(ctx context.Context) (State, error) {
	if err := c.expect(StateFollowBot, EventNeedSeller); err != nil {
		return c.State(), err
	}
	if err := c.Graph.FollowBot(ctx); err != nil {
		return c.fail(fmt.Errorf("follow bot: %w", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.FollowsBot = true
	c.err = nil
	return c.advance(loadEvent(c.snap))
}

// FollowSeller follows the listing's author.
func (c *Controller) FollowSeller(ctx context.Context) (State, error) {
	if err := c.expect(StateFollowSeller, EventFollowsAll); err != nil {
		return c.State(), err
	}
	if err := c.Graph.Follow(ctx, c.Listing.SellerDID); err != nil {
		return c.fail(fmt.Errorf("follow seller: %w", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.FollowsSeller = true
	c.err = nil
	return c.advance(EventFollowsAll)
}

// ShowInterest asks the relay service to introduce the buyer to the seller.
// Only one call may be in flight; a concurrent call gets ErrInFlight.
func (c *Controller) ShowInterest(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.state == StateSending {
		c.mu.Unlock()
		return StateSending, ErrInFlight
	}
	if _, err := c.advance(EventSubmit); err != nil {
		c.mu.Unlock()
		return c.state, err
	}
	c.rateLimit = ""
	c.err = nil
	c.mu.Unlock()

	resp, err := c.Notifier.Notify(ctx, core.InterestRequest{
		SellerDID:    c.Listing.SellerDID,
		ListingTitle: c.Listing.Title,
		ListingPath:  c.Listing.Path,
		BuyerHandle:  c.Buyer.Handle,
		BuyerDID:     c.Buyer.DID,
	})

	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		var limited *RateLimitedError
		if errors.As(err, &limited) {
			c.rateLimit = limited.UserMessage()
			c.last = core.InterestResponse{ResetInMinutes: limited.ResetInMinutes}
		} else {
			c.err = err
		}
		state, _ := c.advance(EventFailed)
		return state, err
	}

	// The send already happened upstream; a flag write failure must not
	// put the buyer back into ready.
	var flagErr error
	if c.Flags != nil && c.Listing.URI != "" {
		flagErr = c.Flags.MarkSent(ctx, c.Buyer.DID, c.Listing)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = resp
	c.snap.InterestSent = true
	if flagErr != nil {
		c.err = fmt.Errorf("persist sent flag: %w", flagErr)
	}
	state, err := c.advance(EventSucceeded)
	if err != nil {
		return state, err
	}
	return state, c.err
}

// expect checks that e is legal from want and that the flow is in want.
func (c *Controller) expect(want State, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != want {
		return &TransitionError{From: c.state, Event: e}
	}
	return nil
}

func (c *Controller) fail(err error) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	return c.state, err
}

// advance applies e; callers hold c.mu.
func (c *Controller) advance(e Event) (State, error) {
	next, err := Next(c.state, e)
	if err != nil {
		return c.state, err
	}
	c.state = next
	return next, nil
}
