// Package ratelimit implements a per-key fixed-window request counter.
package ratelimit

import (
	"time"

	"github.com/jub0bs/corsguard/internal/util"
)

// Defaults.
const (
	DefaultCapacity = 100
	DefaultWindow   = 5 * time.Minute
	DefaultIdleTTL  = time.Hour
)

// A Config configures a [Limiter].
// Zero values get replaced by the corresponding defaults.
type Config struct {
	// Capacity is the maximum number of requests allowed per window.
	Capacity int
	// Window is the duration of a window.
	Window time.Duration
	// IdleTTL is how long a window may go without requests
	// before Sweep discards it.
	IdleTTL time.Duration
	// Now, if non-nil, replaces time.Now.
	Now func() time.Time
}

type window struct {
	count    int
	start    time.Time
	lastSeen time.Time
}

// A Limiter counts requests per key within fixed windows.
// Concurrent calls for a given key are serialized;
// concurrent calls for keys that live in different shards don't contend.
//
// A Limiter is safe for concurrent use by multiple goroutines.
type Limiter struct {
	capacity int
	window   time.Duration
	idleTTL  time.Duration
	now      func() time.Time
	windows  *util.ShardedMap[window]
}

// New returns a Limiter configured by cfg.
func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := Limiter{
		capacity: cfg.Capacity,
		window:   cfg.Window,
		idleTTL:  cfg.IdleTTL,
		now:      cfg.Now,
		windows:  util.NewShardedMap[window](util.DefaultShards),
	}
	return &l
}

// Check records one request for key and reports whether the request is
// within capacity, along with the request count of key's current window.
// Once a window is over capacity, it stays so until it rolls over.
func (l *Limiter) Check(key string) (allowed bool, count int) {
	now := l.now()
	f := func(w window, found bool) (window, bool) {
		corrupt := w.count < 0 || w.start.After(now)
		if !found || corrupt || now.Sub(w.start) > l.window {
			w = window{start: now}
		}
		w.count++
		w.lastSeen = now
		count = w.count
		return w, true
	}
	l.windows.Update(key, f)
	return count <= l.capacity, count
}

// Sweep discards the windows that have seen no request for longer than
// the idle TTL and returns the number of discarded windows.
// Sweep only ever locks one shard at a time.
func (l *Limiter) Sweep() int {
	now := l.now()
	idle := func(_ string, w window) bool {
		return now.Sub(w.lastSeen) > l.idleTTL
	}
	return l.windows.Sweep(idle)
}

// Len returns the number of windows currently tracked by l.
func (l *Limiter) Len() int {
	return l.windows.Len()
}
