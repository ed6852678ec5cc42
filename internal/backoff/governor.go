// Package backoff implements the per-QueueGroup exponential-backoff
// governor from spec.md §4.1: it throttles re-spawning when a
// QueueGroup's children die too quickly, preventing a fork-storm.
package backoff

import (
	"math"
	"sync"
	"time"

	"github.com/scarson/poolmaster/internal/queuegroup"
)

// Governor tracks BackoffState for one QueueGroup (spec.md §3).
// A Governor returned by New starts in the initial state
// {failed_count: 0, delay_until: ⊥}. The zero Governor has no clock and
// is not usable; always construct one with New.
type Governor struct {
	mu          sync.Mutex
	failedCount int
	delayUntil  time.Time // zero value == ⊥ (no delay in effect)
	step        time.Duration
	max         time.Duration
	now         func() time.Time
}

// New creates a Governor using step as the exponential base and max as
// the clamp, matching the DELAY_SPAWN_LIMIT/DELAY_SPAWN_MAX env vars in
// spec.md §6. The clock is time.Now; nothing outside this package can
// replace it.
func New(step, max time.Duration) *Governor {
	if step <= 0 {
		step = 10 * time.Second
	}
	if max <= 0 {
		max = 600 * time.Second
	}
	return &Governor{step: step, max: max, now: time.Now}
}

// ShouldSpawn reports true iff delay_until is unset or already past.
func (g *Governor) ShouldSpawn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delayUntil.IsZero() || !g.now().Before(g.delayUntil)
}

// DelaySpawns is called after a reap pass in which at least one child of
// this QueueGroup died "too young" (spec.md §4.1's integration rule).
// failed_count increments and delay_until advances to
// now + min(step^failed_count, max) seconds. The exponent is preserved
// exactly as spec.md §9 requires, including its coarse clamp-almost-
// immediately behavior.
func (g *Governor) DelaySpawns() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failedCount++

	stepSeconds := g.step.Seconds()
	maxSeconds := g.max.Seconds()
	delaySeconds := math.Pow(stepSeconds, float64(g.failedCount))
	if delaySeconds > maxSeconds || math.IsInf(delaySeconds, 1) {
		delaySeconds = maxSeconds
	}
	delay := time.Duration(delaySeconds * float64(time.Second))

	next := g.now().Add(delay)
	if next.After(g.delayUntil) {
		g.delayUntil = next
	}
}

// Reset clears failed_count and delay_until, matching spec.md §4.1.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failedCount = 0
	g.delayUntil = time.Time{}
}

// DelayUntil returns the current delay_until, or the zero Time for ⊥.
// Exposed for tests and for the /status admin endpoint.
func (g *Governor) DelayUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delayUntil
}

// Set is the registry of Governors keyed by QueueGroup, created lazily
// on first reference and deleted when a reap confirms the group healthy
// (spec.md §3's BackoffState lifecycle).
type Set struct {
	mu   sync.Mutex
	step time.Duration
	max  time.Duration
	m    map[queuegroup.QueueGroup]*Governor
}

// NewSet creates an empty Set using step/max for any Governor it creates.
func NewSet(step, max time.Duration) *Set {
	return &Set{step: step, max: max, m: make(map[queuegroup.QueueGroup]*Governor)}
}

// Get returns the Governor for g, creating one lazily if absent.
func (s *Set) Get(g queuegroup.QueueGroup) *Governor {
	s.mu.Lock()
	defer s.mu.Unlock()
	gov, ok := s.m[g]
	if !ok {
		gov = New(s.step, s.max)
		s.m[g] = gov
	}
	return gov
}

// Peek returns the Governor for g without creating one, and whether it
// exists. Used by reconcile's delta-suppression check so a QueueGroup
// with no history is never treated as throttled.
func (s *Set) Peek(g queuegroup.QueueGroup) (*Governor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gov, ok := s.m[g]
	return gov, ok
}

// Discard removes the Governor entry entirely — equivalent to Reset plus
// removal, used when a reap confirms the QueueGroup is healthy (spec.md
// §4.1).
func (s *Set) Discard(g queuegroup.QueueGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, g)
}

// Snapshot returns a shallow copy of delay_until per QueueGroup, for the
// admin /status endpoint.
func (s *Set) Snapshot() map[queuegroup.QueueGroup]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[queuegroup.QueueGroup]time.Time, len(s.m))
	for g, gov := range s.m {
		out[g] = gov.DelayUntil()
	}
	return out
}
