// Package limiter provides per-actor token buckets for the API, in memory or
// shared through Redis.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy defines limits.
type Policy struct {
	RPM   int
	Burst int
}

// perSecond converts RPM to a refill rate, falling back to one token a second.
func (p Policy) perSecond() float64 {
	r := float64(p.RPM) / 60.0
	if r <= 0 {
		return 1
	}
	return r
}

// RetryAfter is the whole number of seconds until one token refills.
func (p Policy) RetryAfter() int {
	if p.RPM <= 0 {
		return 1
	}
	secs := 60 / p.RPM
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store abstracts the storage for rate limiting buckets.
type Store interface {
	// Allow checks if the actor may perform an action costing cost tokens.
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

// visitor tracks the limiter and last seen time for an actor.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one rate.Limiter per actor for single-instance deployments.
type MemoryStore struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	idleAfter time.Duration
	lastSweep time.Time
	clock     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		visitors:  make(map[string]*visitor),
		idleAfter: 3 * time.Minute,
		clock:     time.Now,
	}
}

func (s *MemoryStore) Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.sweep(now)

	v, ok := s.visitors[actorID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(policy.perSecond()), policy.Burst)}
		s.visitors[actorID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, cost), nil
}

// sweep drops idle visitors at most once per idle window. Callers hold s.mu.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.idleAfter {
		return
	}
	s.lastSweep = now
	for id, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.idleAfter {
			delete(s.visitors, id)
		}
	}
}

// Len returns the number of tracked actors.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}
