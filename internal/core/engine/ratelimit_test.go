package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter() (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(DefaultLimit)
	limiter.Clock = clock.Now
	return limiter, clock
}

func TestRateLimiterAdmitsFiveThenRejects(t *testing.T) {
	limiter, clock := newTestLimiter()
	ctx := context.Background()

	for _, want := range []int{4, 3, 2, 1, 0} {
		decision, err := limiter.Check(ctx, "did:plc:aaa")
		require.NoError(t, err)
		require.True(t, decision.Admitted)
		require.Equal(t, want, decision.Remaining)
		require.Equal(t, 60, decision.ResetInMinutes)
		clock.Advance(time.Minute)
	}

	decision, err := limiter.Check(ctx, "did:plc:aaa")
	require.NoError(t, err)
	require.False(t, decision.Admitted)
	require.Equal(t, 0, decision.Remaining)
	require.Equal(t, 55, decision.ResetInMinutes)
	require.Equal(t,
		"You've reached the limit of 5 interest requests per hour. Please wait 55 minutes before trying again.",
		decision.Reason)

	// Rejections are not recorded.
	require.Equal(t, 5, limiter.Status("did:plc:aaa").RequestsUsed)
}

func TestRateLimiterWindowSlides(t *testing.T) {
	limiter, clock := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "did:plc:aaa")
		require.NoError(t, err)
		clock.Advance(10 * time.Second)
	}

	decision, err := limiter.Check(ctx, "did:plc:aaa")
	require.NoError(t, err)
	require.False(t, decision.Admitted)

	// The earliest timestamp leaves the window exactly one hour after it was recorded.
	clock.Advance(time.Hour - 50*time.Second)
	decision, err = limiter.Check(ctx, "did:plc:aaa")
	require.NoError(t, err)
	require.True(t, decision.Admitted)
	require.Equal(t, 0, decision.Remaining)

	decision, err = limiter.Check(ctx, "did:plc:aaa")
	require.NoError(t, err)
	require.False(t, decision.Admitted)
}

func TestRateLimiterIdentitiesAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "did:plc:aaa")
		require.NoError(t, err)
	}

	decision, err := limiter.Check(ctx, "did:plc:bbb")
	require.NoError(t, err)
	require.True(t, decision.Admitted)
	require.Equal(t, 4, decision.Remaining)
}

func TestRateLimiterStatusIsReadOnly(t *testing.T) {
	limiter, clock := newTestLimiter()
	ctx := context.Background()

	status := limiter.Status("did:plc:new")
	require.Equal(t, 0, status.RequestsUsed)
	require.Equal(t, 5, status.Remaining)
	require.Empty(t, limiter.Identities())

	_, err := limiter.Check(ctx, "did:plc:aaa")
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)

	status = limiter.Status("did:plc:aaa")
	require.Equal(t, 1, status.RequestsUsed)
	require.Equal(t, 4, status.Remaining)
	require.Equal(t, 40, status.ResetInMinutes)

	again := limiter.Status("did:plc:aaa")
	require.Equal(t, status, again)
}

func TestRateLimiterSweep(t *testing.T) {
	limiter, clock := newTestLimiter()
	ctx := context.Background()

	_, err := limiter.Check(ctx, "did:plc:old")
	require.NoError(t, err)
	clock.Advance(45 * time.Minute)
	_, err = limiter.Check(ctx, "did:plc:recent")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	require.Equal(t, 1, limiter.Sweep())
	require.Equal(t, []string{"did:plc:recent"}, limiter.Identities())

	// A swept identity starts a fresh window.
	decision, err := limiter.Check(ctx, "did:plc:old")
	require.NoError(t, err)
	require.Equal(t, 4, decision.Remaining)
}

func TestRateLimiterConcurrentSameIdentity(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Check(ctx, "did:plc:race")
			require.NoError(t, err)
			if decision.Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
		if i%10 == 0 {
			limiter.Sweep()
		}
	}
	wg.Wait()

	require.Equal(t, 5, admitted)
}

func TestRateLimiterCustomLimit(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerWindow: 2, WindowDuration: 10 * time.Minute})
	ctx := context.Background()

	first, err := limiter.Check(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 1, first.Remaining)
	require.Equal(t, 10, first.ResetInMinutes)

	_, err = limiter.Check(ctx, "k")
	require.NoError(t, err)
	third, err := limiter.Check(ctx, "k")
	require.NoError(t, err)
	require.False(t, third.Admitted)
}

func TestRateLimiterCanceledContext(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Check(ctx, "did:plc:aaa")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, limiter.Identities())
}
