// Package blocklist implements a set of temporarily denied origins.
package blocklist

import (
	"cmp"
	"slices"
	"time"

	"github.com/jub0bs/corsguard/internal/util"
	"github.com/rs/zerolog"
)

// DefaultDuration is the default lifetime of a block.
const DefaultDuration = time.Hour

// A Config configures a [Blocklist].
type Config struct {
	// Duration is the lifetime of a block; zero means DefaultDuration.
	Duration time.Duration
	// Logger, if non-nil, receives one event per block and unblock
	// transition.
	Logger *zerolog.Logger
	// Now, if non-nil, replaces time.Now.
	Now func() time.Time
}

// An Entry describes why and for how long an origin is blocked.
type Entry struct {
	Reason    string
	BlockedAt time.Time
	ExpiresAt time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// A Record associates an origin with its block entry.
type Record struct {
	Origin string
	Entry
}

// A Blocklist maps origins to block entries that expire after a fixed
// duration. Blocking an origin that is already blocked leaves its entry
// unchanged, so re-triggering never extends a block.
//
// A Blocklist is safe for concurrent use by multiple goroutines.
type Blocklist struct {
	duration time.Duration
	logger   zerolog.Logger
	now      func() time.Time
	entries  *util.ShardedMap[Entry]
}

// New returns an empty Blocklist configured by cfg.
func New(cfg Config) *Blocklist {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	bl := Blocklist{
		duration: cfg.Duration,
		logger:   logger,
		now:      cfg.Now,
		entries:  util.NewShardedMap[Entry](util.DefaultShards),
	}
	return &bl
}

// IsBlocked reports whether origin is currently blocked.
// An expired entry is removed on the spot.
func (bl *Blocklist) IsBlocked(origin string) bool {
	now := bl.now()
	var blocked, expired bool
	f := func(e Entry, found bool) (Entry, bool) {
		if !found {
			return e, false
		}
		if e.expired(now) {
			expired = true
			return e, false
		}
		blocked = true
		return e, true
	}
	bl.entries.Update(origin, f)
	if expired {
		bl.logUnblock(origin, "expired")
	}
	return blocked
}

// Block blocks origin for the configured duration, unless origin is
// already blocked. It returns origin's entry and reports whether
// that entry was created by this call.
func (bl *Blocklist) Block(origin, reason string) (_ Entry, created bool) {
	now := bl.now()
	var res Entry
	f := func(e Entry, found bool) (Entry, bool) {
		if found && !e.expired(now) {
			res = e
			return e, true
		}
		res = Entry{
			Reason:    reason,
			BlockedAt: now,
			ExpiresAt: now.Add(bl.duration),
		}
		created = true
		return res, true
	}
	bl.entries.Update(origin, f)
	if created {
		bl.logger.Warn().
			Str("origin", origin).
			Str("reason", reason).
			Time("expires_at", res.ExpiresAt).
			Msg("origin blocked")
	}
	return res, created
}

// Unblock removes origin's entry (if any)
// and reports whether origin was blocked.
func (bl *Blocklist) Unblock(origin string) bool {
	now := bl.now()
	var unblocked bool
	f := func(e Entry, found bool) (Entry, bool) {
		unblocked = found && !e.expired(now)
		return e, false
	}
	bl.entries.Update(origin, f)
	if unblocked {
		bl.logUnblock(origin, "manual")
	}
	return unblocked
}

// Sweep removes all expired entries and returns how many it removed.
// Sweep only ever locks one shard at a time.
func (bl *Blocklist) Sweep() int {
	now := bl.now()
	var swept []string
	evict := func(origin string, e Entry) bool {
		if e.expired(now) {
			swept = append(swept, origin)
			return true
		}
		return false
	}
	n := bl.entries.Sweep(evict)
	for _, origin := range swept {
		bl.logUnblock(origin, "expired")
	}
	return n
}

// Len returns the number of entries, including expired ones
// that have yet to be removed.
func (bl *Blocklist) Len() int {
	return bl.entries.Len()
}

// Records returns a snapshot of the unexpired entries, sorted by origin.
func (bl *Blocklist) Records() []Record {
	now := bl.now()
	var res []Record
	f := func(origin string, e Entry) bool {
		if !e.expired(now) {
			res = append(res, Record{Origin: origin, Entry: e})
		}
		return true
	}
	bl.entries.Range(f)
	slices.SortFunc(res, func(a, b Record) int {
		return cmp.Compare(a.Origin, b.Origin)
	})
	return res
}

func (bl *Blocklist) logUnblock(origin, cause string) {
	bl.logger.Info().
		Str("origin", origin).
		Str("cause", cause).
		Msg("origin unblocked")
}
