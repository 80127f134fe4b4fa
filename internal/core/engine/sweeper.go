package engine

import (
	"context"
	"sort"
	"time"
)

// SweepTask performs one round of housekeeping and returns how many
// entries it removed.
type SweepTask func(now time.Time) int

// Sweeper runs housekeeping tasks on a fixed interval, off the request path.
type Sweeper struct {
	Interval time.Duration
	Tasks    map[string]SweepTask
	Clock    func() time.Time

	// OnSweep observes each task result; used for logging and metrics.
	OnSweep func(task string, removed int)
}

// Run blocks, sweeping every Interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.Interval <= 0 || len(s.Tasks) == 0 {
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce runs every task in name order and returns the per-task counts.
func (s *Sweeper) RunOnce() map[string]int {
	if s == nil {
		return map[string]int{}
	}
	results := make(map[string]int, len(s.Tasks))

	names := make([]string, 0, len(s.Tasks))
	for name := range s.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	now := s.now()
	for _, name := range names {
		removed := s.Tasks[name](now)
		results[name] = removed
		if s.OnSweep != nil {
			s.OnSweep(name, removed)
		}
	}
	return results
}

func (s *Sweeper) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
