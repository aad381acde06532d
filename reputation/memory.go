package reputation

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// MemoryStore defaults.
const (
	// DefaultMemoryCapacity is the default number of decisions
	// that a MemoryStore retains per origin.
	DefaultMemoryCapacity = 1024
	// DefaultMemoryOrigins is the default number of origins
	// that a MemoryStore keeps track of.
	DefaultMemoryOrigins = 10_000
)

// A MemoryStore is a [Store] that retains, in a ring buffer per origin,
// the outcomes of the most recent decisions about that origin.
// It keeps track of a bounded number of origins: recording a decision about
// a new origin evicts the least recently recorded origin once the bound is
// reached. Call [*MemoryStore.Prune] periodically to forget the origins
// about which no decision was recently recorded.
//
// It is mostly useful for tests and single-instance deployments.
type MemoryStore struct {
	capacity int
	now      func() time.Time

	mu    sync.Mutex
	rings *simplelru.LRU[string, *ring]
}

var _ Pruner = (*MemoryStore)(nil)

type outcome struct {
	at      time.Time
	allowed bool
}

type ring struct {
	buf    []outcome
	next   int       // index of the slot to overwrite once buf is full
	newest time.Time // time of the most recent outcome
}

// NewMemoryStore returns a MemoryStore that retains up to capacity
// decisions per origin, for up to maxOrigins origins.
// Non-positive values select DefaultMemoryCapacity and
// DefaultMemoryOrigins, respectively.
func NewMemoryStore(capacity, maxOrigins int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	if maxOrigins <= 0 {
		maxOrigins = DefaultMemoryOrigins
	}
	// NewLRU only fails for non-positive sizes.
	rings, _ := simplelru.NewLRU[string, *ring](maxOrigins, nil)
	ms := MemoryStore{
		capacity: capacity,
		now:      time.Now,
		rings:    rings,
	}
	return &ms
}

// RecordDecision implements [Store].
func (ms *MemoryStore) RecordDecision(_ context.Context, rec Record) error {
	at := rec.At
	if at.IsZero() {
		at = ms.now()
	}
	o := outcome{at: at, allowed: rec.Allowed}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	r, found := ms.rings.Get(rec.Origin)
	if !found {
		r = &ring{}
		ms.rings.Add(rec.Origin, r)
	}
	if at.After(r.newest) {
		r.newest = at
	}
	if len(r.buf) < ms.capacity {
		r.buf = append(r.buf, o)
		return nil
	}
	r.buf[r.next] = o
	r.next = (r.next + 1) % ms.capacity
	return nil
}

// Reputation implements [Store].
func (ms *MemoryStore) Reputation(_ context.Context, origin string, lookback time.Duration) (Reputation, error) {
	since := ms.now().Add(-lookback)
	var allowed, total int
	ms.mu.Lock()
	defer ms.mu.Unlock()
	// Peek rather than Get: reads don't count as activity.
	r, found := ms.rings.Peek(origin)
	if !found {
		return Compute(0, 0), nil
	}
	for _, o := range r.buf {
		if o.at.Before(since) {
			continue
		}
		total++
		if o.allowed {
			allowed++
		}
	}
	return Compute(allowed, total), nil
}

// Prune forgets the origins about which no decision was recorded within
// the last retention and returns the number of forgotten decisions.
func (ms *MemoryStore) Prune(_ context.Context, retention time.Duration) (int64, error) {
	cutoff := ms.now().Add(-retention)
	var n int64
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, origin := range ms.rings.Keys() {
		r, found := ms.rings.Peek(origin)
		if found && r.newest.Before(cutoff) {
			ms.rings.Remove(origin)
			n += int64(len(r.buf))
		}
	}
	return n, nil
}
