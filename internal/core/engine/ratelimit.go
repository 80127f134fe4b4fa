package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RateLimit represents a sliding rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultLimit admits five interest requests per identity per hour.
var DefaultLimit = RateLimit{RequestsPerWindow: 5, WindowDuration: time.Hour}

// Decision is the outcome of a Check.
type Decision struct {
	Admitted       bool
	Remaining      int
	ResetInMinutes int
	Reason         string
}

// Status is a read-only view of an identity's window.
type Status struct {
	Identity       string `json:"identity"`
	RequestsUsed   int    `json:"requestsUsed"`
	Remaining      int    `json:"remaining"`
	ResetInMinutes int    `json:"resetInMinutes"`
}

// RateLimiter enforces a per-identity sliding window. State is process
// local; a restart forgets all history.
type RateLimiter struct {
	Limit RateLimit
	Clock func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	mu         sync.Mutex
	timestamps []time.Time
	// removed is set by Sweep so a Check holding a stale pointer retries.
	removed bool
}

// NewRateLimiter creates a limiter. Zero fields in limit fall back to DefaultLimit.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	if limit.RequestsPerWindow <= 0 {
		limit.RequestsPerWindow = DefaultLimit.RequestsPerWindow
	}
	if limit.WindowDuration <= 0 {
		limit.WindowDuration = DefaultLimit.WindowDuration
	}
	return &RateLimiter{
		Limit:   limit,
		entries: make(map[string]*rateLimitEntry),
	}
}

// Check admits and records a request for identity, or rejects it without
// recording once RequestsPerWindow requests fall inside the window.
func (r *RateLimiter) Check(ctx context.Context, identity string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	for {
		entry := r.entry(identity)
		entry.mu.Lock()
		if entry.removed {
			entry.mu.Unlock()
			continue
		}

		now := r.now()
		entry.timestamps = r.prune(entry.timestamps, now)

		if len(entry.timestamps) >= r.Limit.RequestsPerWindow {
			reset := r.resetInMinutes(entry.timestamps[0], now)
			entry.mu.Unlock()
			return Decision{
				Admitted:       false,
				Remaining:      0,
				ResetInMinutes: reset,
				Reason: fmt.Sprintf("You've reached the limit of %d interest requests per hour. Please wait %d minutes before trying again.",
					r.Limit.RequestsPerWindow, reset),
			}, nil
		}

		entry.timestamps = append(entry.timestamps, now)
		remaining := r.Limit.RequestsPerWindow - len(entry.timestamps)
		entry.mu.Unlock()

		return Decision{
			Admitted:       true,
			Remaining:      remaining,
			ResetInMinutes: r.windowMinutes(),
		}, nil
	}
}

// Status reports the identity's window without mutating it.
func (r *RateLimiter) Status(identity string) Status {
	st := Status{
		Identity:       identity,
		Remaining:      r.Limit.RequestsPerWindow,
		ResetInMinutes: r.windowMinutes(),
	}

	r.mu.Lock()
	entry, ok := r.entries[identity]
	r.mu.Unlock()
	if !ok {
		return st
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := r.now()
	var oldest time.Time
	for _, ts := range entry.timestamps {
		if now.Sub(ts) >= r.Limit.WindowDuration {
			continue
		}
		if st.RequestsUsed == 0 || ts.Before(oldest) {
			oldest = ts
		}
		st.RequestsUsed++
	}
	st.Remaining = max(r.Limit.RequestsPerWindow-st.RequestsUsed, 0)
	if st.RequestsUsed > 0 {
		st.ResetInMinutes = r.resetInMinutes(oldest, now)
	}
	return st
}

// Sweep prunes every entry and drops identities with no surviving
// timestamps. It returns the number of identities removed.
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for identity, entry := range r.entries {
		entry.mu.Lock()
		entry.timestamps = r.prune(entry.timestamps, now)
		if len(entry.timestamps) == 0 {
			entry.removed = true
			delete(r.entries, identity)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

// Identities lists tracked identities in sorted order.
func (r *RateLimiter) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.entries))
	for identity := range r.entries {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

func (r *RateLimiter) entry(identity string) *rateLimitEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries == nil {
		r.entries = make(map[string]*rateLimitEntry)
	}
	entry, ok := r.entries[identity]
	if !ok {
		entry = &rateLimitEntry{}
		r.entries[identity] = entry
	}
	return entry
}

// prune keeps timestamps strictly inside the window. Timestamps are
// appended in clock order so the survivors stay sorted.
func (r *RateLimiter) prune(timestamps []time.Time, now time.Time) []time.Time {
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < r.Limit.WindowDuration {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (r *RateLimiter) resetInMinutes(oldest, now time.Time) int {
	remaining := oldest.Add(r.Limit.WindowDuration).Sub(now)
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func (r *RateLimiter) windowMinutes() int {
	return int((r.Limit.WindowDuration + time.Minute - 1) / time.Minute)
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
