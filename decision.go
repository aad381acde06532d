package corsguard

import (
	"time"

	"github.com/jub0bs/corsguard/internal/patterns"
)

// A Reason explains a [Decision].
type Reason string

// The reasons are listed in the order in which the corresponding checks
// are performed.
const (
	ReasonNoOrigin                   Reason = "no_origin"
	ReasonInvalidURLFormat           Reason = "invalid_url_format"
	ReasonInvalidProtocol            Reason = "invalid_protocol"
	ReasonHTTPNotAllowedInProduction Reason = "http_not_allowed_in_production"
	ReasonDomainNotWhitelisted       Reason = "domain_not_whitelisted"
	ReasonOriginBlocked              Reason = "origin_blocked"
	ReasonRateLimitExceeded          Reason = "rate_limit_exceeded"
	ReasonLowSecurityScore           Reason = "low_security_score"
	ReasonValidationPassed           Reason = "validation_passed"
)

// Warnings that may accompany a [Decision].
const (
	WarningSuspiciousPatterns = patterns.TagSuspiciousPatterns
	WarningSuspiciousTLD      = patterns.TagSuspiciousTLD
	WarningNonStandardPort    = patterns.TagNonStandardPort
	WarningAutomatedRequest   = patterns.TagAutomatedRequest
	WarningPoorReputation     = "poor_reputation"
)

// A Request holds the inputs of a decision.
type Request struct {
	// Origin is the value of the request's Origin header, if any.
	Origin string
	// UserAgent is the value of the request's User-Agent header, if any.
	UserAgent string
	// ClientAddress is the network address of the client;
	// it's only used for logging and reputation records.
	ClientAddress string
	// Environment overrides the engine's environment, if non-empty.
	// Values other than Production, Staging, and Development are treated
	// as Production.
	Environment Environment
}

// A Decision is the outcome of [*Engine.Validate].
type Decision struct {
	// ID uniquely identifies the decision in logs and reputation records.
	ID string
	// Origin is the canonical form of the request's origin, if the latter
	// could be parsed, or the raw value of the request's Origin header.
	Origin  string
	Allowed bool
	Reason  Reason
	// SecurityScore is never positive; the lower, the less trustworthy.
	SecurityScore int
	// Warnings lists the heuristics that fired, without duplicates.
	Warnings []string
	// RequestCount is the number of requests from the origin in the current
	// rate-limiting window, this one included; it's 0 if the decision was
	// reached before the rate limiter was consulted.
	RequestCount int
}

// A BlockedOrigin describes an origin that an [Engine] currently denies
// because of its past requests.
type BlockedOrigin struct {
	Origin    string
	Reason    Reason
	BlockedAt time.Time
	ExpiresAt time.Time
}
