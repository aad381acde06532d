package util

import (
	"hash/maphash"
	"sync"
)

// DefaultShards is the number of shards used by NewShardedMap
// when it's passed a non-positive count.
const DefaultShards = 64

// A ShardedMap is a map from strings to values of type V whose keys are
// spread over a fixed number of shards, each guarded by its own mutex.
// Operations on keys that live in different shards never contend;
// operations on a given key are serialized.
//
// A ShardedMap is safe for concurrent use by multiple goroutines.
// A ShardedMap must be created with [NewShardedMap].
type ShardedMap[V any] struct {
	seed   maphash.Seed
	mask   uint64
	shards []shard[V]
}

type shard[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// NewShardedMap returns an empty ShardedMap with n shards,
// n being rounded up to the next power of two.
func NewShardedMap[V any](n int) *ShardedMap[V] {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	sm := ShardedMap[V]{
		seed:   maphash.MakeSeed(),
		mask:   uint64(size - 1),
		shards: make([]shard[V], size),
	}
	for i := range sm.shards {
		sm.shards[i].m = make(map[string]V)
	}
	return &sm
}

func (sm *ShardedMap[V]) shardFor(key string) *shard[V] {
	return &sm.shards[maphash.String(sm.seed, key)&sm.mask]
}

// Update calls f with the value currently associated with key (if any)
// while holding the lock of key's shard, so that the read-modify-write
// sequence performed by f is atomic with respect to other operations on key.
// If f's keep result is true, the value it returns gets stored under key;
// otherwise, key gets deleted.
// f must not call any method of sm.
func (sm *ShardedMap[V]) Update(key string, f func(v V, found bool) (_ V, keep bool)) {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, found := s.m[key]
	v, keep := f(v, found)
	if keep {
		s.m[key] = v
		return
	}
	delete(s.m, key)
}

// Sweep deletes every entry for which evict returns true and returns the
// number of deleted entries. Sweep locks one shard at a time, so concurrent
// operations on keys outside the shard being swept proceed unimpeded.
// evict must not call any method of sm.
func (sm *ShardedMap[V]) Sweep(evict func(key string, v V) bool) (n int) {
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			if evict(k, v) {
				delete(s.m, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Range calls f for each entry, one shard at a time, and stops early if f
// returns false. f must not call any method of sm.
func (sm *ShardedMap[V]) Range(f func(key string, v V) bool) {
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			if !f(k, v) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}

// Len returns the number of entries in sm.
// The result is only a snapshot in the presence of concurrent updates.
func (sm *ShardedMap[V]) Len() (n int) {
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}
