// Package reputation defines the historical trust signal that the engine of
// package [github.com/jub0bs/corsguard] derives from past decisions,
// together with an in-memory store and an asynchronous recorder.
package reputation

import (
	"context"
	"math"
	"time"
)

// Trust thresholds.
const (
	TrustedMinRequests    = 10
	TrustedMinSuccessRate = 0.95
)

// A Reputation aggregates the recent decisions about an origin.
type Reputation struct {
	// SuccessRate is the proportion of allowed decisions,
	// in the range [0, 1]; it is 1 in the absence of decisions.
	SuccessRate float64
	// TotalRequests is the number of decisions.
	TotalRequests int
	// RiskScore is the proportion of denied decisions,
	// as a percentage in the range [0, 100].
	RiskScore int
	// IsTrusted reports whether there are enough decisions
	// and whether they are overwhelmingly positive.
	IsTrusted bool
}

// Compute derives a Reputation from a number of allowed decisions
// out of a total number of decisions.
func Compute(allowed, total int) Reputation {
	if total <= 0 {
		return Reputation{SuccessRate: 1}
	}
	allowed = min(max(allowed, 0), total)
	rate := float64(allowed) / float64(total)
	return Reputation{
		SuccessRate:   rate,
		TotalRequests: total,
		RiskScore:     int(math.Round((1 - rate) * 100)),
		IsTrusted:     total >= TrustedMinRequests && rate >= TrustedMinSuccessRate,
	}
}

// A Record describes one decision.
type Record struct {
	ID            string    `json:"id"`
	Origin        string    `json:"origin"`
	Allowed       bool      `json:"allowed"`
	Reason        string    `json:"reason"`
	Score         int       `json:"score"`
	Warnings      []string  `json:"warnings,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	ClientAddress string    `json:"client_address,omitempty"`
	Environment   string    `json:"environment"`
	At            time.Time `json:"at"`
}

// A Store persists decisions and aggregates them into reputations.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	RecordDecision(ctx context.Context, rec Record) error
	// Reputation aggregates the decisions about origin
	// that were made within the last lookback.
	Reputation(ctx context.Context, origin string, lookback time.Duration) (Reputation, error)
}

// A Pruner is a [Store] that can discard old decisions.
// Stores whose records expire on their own need not implement it.
type Pruner interface {
	Store
	// Prune discards the decisions made before the last retention
	// and returns the number of discarded decisions.
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
