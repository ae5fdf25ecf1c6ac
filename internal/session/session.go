// Package session implements the per-session model pin: a monotonic
// (modelId, tier) binding keyed by client-supplied session id, upgraded but
// never downgraded, with idle expiry and one-shot failure-driven escalation.
package session

import (
	"sync"
	"time"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// Entry is the pinned state for one session id.
type Entry struct {
	ModelID      string
	Tier         types.Tier
	LastUsedAt   time.Time
	LastFailedAt time.Time
}

// Store is a thread-safe, process-lifetime map of session id -> Entry.
// One internal mutex guards the whole map; callers never need finer
// granularity at this scale.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	idleTTL time.Duration
	stop    chan struct{}
}

// New creates a Store and starts its background idle-eviction loop. Call
// Close to stop the loop without blocking process shutdown.
func New(idleTTL time.Duration) *Store {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	s := &Store{
		entries: make(map[string]*Entry),
		idleTTL: idleTTL,
		stop:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background cleanup goroutine.
func (s *Store) Close() {
	close(s.stop)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) evictIdle() {
	cutoff := time.Now().Add(-s.idleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.LastUsedAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

// Get returns the pinned (modelID, tier) for id, with lazy idle expiry on
// read, or ok=false if absent/expired.
func (s *Store) Get(id string) (modelID string, tier types.Tier, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.entries[id]
	if !exists {
		return "", "", false
	}
	if time.Since(e.LastUsedAt) > s.idleTTL {
		delete(s.entries, id)
		return "", "", false
	}
	return e.ModelID, e.Tier, true
}

// Set creates or upgrades the pin for id. If a prior pin exists with a
// strictly higher tier, the existing (model, tier) is kept; on a strictly
// lower or equal incoming tier, the pin never moves down. Always returns
// the effective (modelID, tier) after the call, so callers can route by it
// directly.
func (s *Store) Set(id, modelID string, tier types.Tier) (effectiveModelID string, effectiveTier types.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, exists := s.entries[id]
	if !exists {
		s.entries[id] = &Entry{ModelID: modelID, Tier: tier, LastUsedAt: now}
		return modelID, tier
	}

	if tier.Rank() > e.Tier.Rank() {
		e.ModelID = modelID
		e.Tier = tier
	}
	e.LastUsedAt = now
	return e.ModelID, e.Tier
}

// MarkFailed records a failure timestamp for id, to be consumed once by a
// subsequent HasRecentFailure call.
func (s *Store) MarkFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.entries[id]
	if !exists {
		e = &Entry{LastUsedAt: time.Now()}
		s.entries[id] = e
	}
	e.LastFailedAt = time.Now()
}

// HasRecentFailure reports whether id failed within window and, if so,
// clears the flag (one-shot semantics: the next classify phase escalates
// exactly once per recorded failure).
func (s *Store) HasRecentFailure(id string, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.entries[id]
	if !exists || e.LastFailedAt.IsZero() {
		return false
	}
	if time.Since(e.LastFailedAt) > window {
		return false
	}
	e.LastFailedAt = time.Time{}
	return true
}
