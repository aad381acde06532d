// Package redisstore provides a Redis-backed implementation of both
// [reputation.Store] and [whitelist.Service].
//
// Decisions about an origin are kept in a sorted set whose scores are
// Unix timestamps in milliseconds and whose members are JSON-encoded
// [reputation.Record] values; each write trims the decisions older than
// the retention period. Trusted domains for an environment are kept in a
// set named after that environment.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jub0bs/corsguard/reputation"
	"github.com/jub0bs/corsguard/whitelist"
	"github.com/redis/go-redis/v9"
)

// Defaults.
const (
	DefaultPrefix    = "corsguard:"
	DefaultRetention = 24 * time.Hour
)

// Options configure a [Store]. Zero values get replaced by the defaults.
type Options struct {
	// Prefix is prepended to every key.
	Prefix string
	// Retention is how long decisions are kept; it should be no shorter
	// than the lookback window used for reputations.
	Retention time.Duration
}

// A Store is safe for concurrent use by multiple goroutines.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var (
	_ reputation.Store  = (*Store)(nil)
	_ whitelist.Service = (*Store)(nil)
)

// New returns a Store that uses client.
func New(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	s := Store{
		client:    client,
		prefix:    opts.Prefix,
		retention: opts.Retention,
		now:       time.Now,
	}
	return &s
}

func (s *Store) reputationKey(origin string) string {
	return s.prefix + "reputation:" + origin
}

func (s *Store) whitelistKey(environment string) string {
	return s.prefix + "whitelist:" + environment
}

// RecordDecision implements [reputation.Store].
func (s *Store) RecordDecision(ctx context.Context, rec reputation.Record) error {
	if rec.ID == "" {
		// Members of a sorted set are unique;
		// the ID keeps otherwise identical records apart.
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = s.now()
	}
	member, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: encoding record: %w", err)
	}
	key := s.reputationKey(rec.Origin)
	cutoff := rec.At.Add(-s.retention).UnixMilli()
	f := func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(rec.At.UnixMilli()),
			Member: member,
		})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, s.retention)
		return nil
	}
	if _, err := s.client.TxPipelined(ctx, f); err != nil {
		return fmt.Errorf("redisstore: recording decision: %w", err)
	}
	return nil
}

// Reputation implements [reputation.Store].
// Members that cannot be decoded are ignored.
func (s *Store) Reputation(ctx context.Context, origin string, lookback time.Duration) (reputation.Reputation, error) {
	since := s.now().Add(-lookback).UnixMilli()
	rng := redis.ZRangeBy{
		Min: strconv.FormatInt(since, 10),
		Max: "+inf",
	}
	members, err := s.client.ZRangeByScore(ctx, s.reputationKey(origin), &rng).Result()
	if err != nil {
		return reputation.Reputation{}, fmt.Errorf("redisstore: fetching decisions: %w", err)
	}
	var allowed, total int
	for _, m := range members {
		var rec struct {
			Allowed bool `json:"allowed"`
		}
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			continue
		}
		total++
		if rec.Allowed {
			allowed++
		}
	}
	return reputation.Compute(allowed, total), nil
}

// ActiveDomains implements [whitelist.Service].
// The result is sorted in lexicographical order.
func (s *Store) ActiveDomains(ctx context.Context, environment string) ([]string, error) {
	domains, err := s.client.SMembers(ctx, s.whitelistKey(environment)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: fetching whitelist: %w", err)
	}
	slices.Sort(domains)
	return domains, nil
}

// AddDomains adds domains to environment's whitelist.
func (s *Store) AddDomains(ctx context.Context, environment string, domains ...string) error {
	if len(domains) == 0 {
		return nil
	}
	members := make([]any, len(domains))
	for i, d := range domains {
		members[i] = d
	}
	if err := s.client.SAdd(ctx, s.whitelistKey(environment), members...).Err(); err != nil {
		return fmt.Errorf("redisstore: updating whitelist: %w", err)
	}
	return nil
}

// RemoveDomains removes domains from environment's whitelist.
func (s *Store) RemoveDomains(ctx context.Context, environment string, domains ...string) error {
	if len(domains) == 0 {
		return nil
	}
	members := make([]any, len(domains))
	for i, d := range domains {
		members[i] = d
	}
	if err := s.client.SRem(ctx, s.whitelistKey(environment), members...).Err(); err != nil {
		return fmt.Errorf("redisstore: updating whitelist: %w", err)
	}
	return nil
}
