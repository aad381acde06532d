package corsguard

import (
	"errors"
	"time"

	"github.com/jub0bs/corsguard/cfgerrors"
	"github.com/jub0bs/corsguard/internal/patterns"
	"github.com/jub0bs/corsguard/reputation"
	"github.com/jub0bs/corsguard/whitelist"
	"github.com/rs/zerolog"
)

// An Environment identifies a deployment environment.
type Environment string

const (
	Production  Environment = "production"
	Staging     Environment = "staging"
	Development Environment = "development"
)

func (env Environment) isValid() bool {
	switch env {
	case Production, Staging, Development:
		return true
	default:
		return false
	}
}

// A Config configures an [Engine]. The mechanics of and interplay between
// this type's various fields are explained below.
// Except where noted otherwise, the zero value of a field stands for its
// default value; invalid values result in a failure to build the engine.
//
// # Environment
//
// Environment is the deployment environment in which the engine runs;
// it's required. The production environment is the strictest of all:
// only https origins whose host is whitelisted get past the first checks,
// and origins that use an abused top-level domain or a non-standard port
// get penalized.
//
// # Whitelist
//
// Whitelist is the source of the hosts trusted in production, the only
// environment in which whitelist membership gets checked; the engine only
// ever asks it for the domains of the production environment.
// It's required if Environment is production, and advisable if requests
// may override Environment with production (see [Request]): in its absence,
// such requests get denied.
// Each element is either a host or a pattern of the form *.example.com,
// which encompasses all the subdomains of example.com
// (but not example.com itself). Patterns whose base domain is a
// [public suffix] (e.g. *.com or *.github.io) are ignored.
//
// The engine fetches the whitelist once upon construction, within
// WhitelistTimeout (default: 5s), and then every WhitelistRefreshInterval
// (default: 5m). If fetching fails, the engine keeps using the hosts it
// fetched last; but once those are older than WhitelistMaxStaleness
// (default: 30m, or WhitelistRefreshInterval if longer), the engine
// forgets them and denies every production origin until the next
// successful fetch.
//
// # Reputation
//
// Reputation, if non-nil, receives a record of every decision about an
// origin; and the engine derives from it a reputation for each origin,
// based on the decisions made within the last ReputationLookback
// (default: 24h). Records and reputations flow through a queue of
// ReputationQueueSize (default: 1024) elements consumed in the background;
// when the queue is full, records are dropped. Reputations are cached
// for ReputationCacheTTL (default: 5m) in a cache of ReputationCacheSize
// (default: 10000) entries. The engine never waits for the store:
// an origin whose reputation isn't cached yet incurs no reputation penalty.
// Decisions about malformed origins aren't recorded.
// If the store implements [reputation.Pruner], the engine prunes it of the
// decisions older than ReputationLookback every CleanupInterval.
//
// # Logger
//
// Logger, if non-nil, receives one event per denial, per warnings-only
// allowance, and per block and unblock transition.
//
// # Rate limiting and blocking
//
// An origin may issue no more than RateLimit (default: 100) requests per
// fixed window of RateLimitWindow (default: 5m).
// Origins denied because of a low security score or suspicious patterns
// get blocked for BlockDuration (default: 1h). Re-triggering a block never
// extends it.
// Every CleanupInterval (default: 1h), the engine discards the expired
// blocks and the rate windows idle for longer than IdleWindowTTL
// (default: 1h, or RateLimitWindow if longer),
// which cannot be shorter than RateLimitWindow.
//
// # Policy
//
// Policy specifies the weights of the scoring heuristics;
// see [Policy].
//
// [public suffix]: https://publicsuffix.org/
type Config struct {
	// Precludes comparability, unkeyed struct literals, and conversion to and
	// from third-party types.
	_ [0]func()

	Environment Environment

	Whitelist                whitelist.Service
	WhitelistRefreshInterval time.Duration
	WhitelistTimeout         time.Duration
	WhitelistMaxStaleness    time.Duration

	Reputation          reputation.Store
	ReputationLookback  time.Duration
	ReputationCacheSize int
	ReputationCacheTTL  time.Duration
	ReputationQueueSize int

	Logger *zerolog.Logger

	RateLimit       int
	RateLimitWindow time.Duration
	BlockDuration   time.Duration
	CleanupInterval time.Duration
	IdleWindowTTL   time.Duration

	Policy Policy
}

// A Policy specifies how an [Engine] scores requests.
// Every request starts with a score of 0, which penalties decrease;
// requests whose score ends up lower than MinScore (default: -20)
// are denied.
//
// Penalties are expressed as positive amounts. The zero value of a
// penalty field stands for its default value; -1 disables the penalty,
// though the corresponding warning still gets reported.
//
//   - PatternPenalty (default: 10) applies once per suspicious hostname
//     category: administrative or development keywords, loopback hosts,
//     and tunneling or shared-hosting providers.
//   - TLDPenalty (default: 15) applies, in production only, to hosts under
//     a top-level domain historically associated with abuse.
//   - PortPenalty (default: 5) applies, in production only, to origins
//     whose port is neither 80 nor 443.
//   - BotPenalty (default: 5) applies to requests whose User-Agent
//     betrays a bot or some automation tool.
//   - ReputationPenalty (default: 10) applies to origins that have been
//     denied at least ReputationRiskThreshold percent (default: 50) of the
//     time over at least MinReputationSamples (default: 10) requests.
type Policy struct {
	MinScore                int
	PatternPenalty          int
	TLDPenalty              int
	PortPenalty             int
	BotPenalty              int
	ReputationPenalty       int
	MinReputationSamples    int
	ReputationRiskThreshold int
}

// defaults
const (
	defaultWhitelistRefreshInterval = 5 * time.Minute
	defaultWhitelistTimeout         = 5 * time.Second
	defaultWhitelistMaxStaleness    = 30 * time.Minute
	defaultReputationLookback       = reputation.DefaultLookback
	defaultReputationCacheSize      = reputation.DefaultCacheSize
	defaultReputationCacheTTL       = reputation.DefaultCacheTTL
	defaultReputationQueueSize      = reputation.DefaultQueueSize
	defaultRateLimit                = 100
	defaultRateLimitWindow          = 5 * time.Minute
	defaultBlockDuration            = time.Hour
	defaultCleanupInterval          = time.Hour
	defaultIdleWindowTTL            = time.Hour

	defaultMinScore                = -20
	defaultReputationPenalty       = 10
	defaultMinReputationSamples    = reputation.TrustedMinRequests
	defaultReputationRiskThreshold = 50

	disabledPenalty = -1
	maxPenalty      = 1000
	day             = 24 * time.Hour
)

type internalConfig struct {
	cfg Config // effective configuration, defaults included

	logger            zerolog.Logger
	patterns          patterns.Policy
	reputationPenalty int
}

func newInternalConfig(cfg *Config) (*internalConfig, error) {
	icfg := internalConfig{cfg: *cfg}
	c := &icfg.cfg

	// Accumulate errors in a slice so as to call errors.Join at most once.
	var errs []error
	if !c.Environment.isValid() {
		err := &cfgerrors.UnacceptableEnvironmentError{
			Value: string(c.Environment),
		}
		errs = append(errs, err)
	}
	if c.Environment == Production && c.Whitelist == nil {
		err := &cfgerrors.MissingWhitelistError{
			Environment: string(c.Environment),
		}
		errs = append(errs, err)
	}
	errs = validateDuration(errs, "WhitelistRefreshInterval", &c.WhitelistRefreshInterval, defaultWhitelistRefreshInterval, time.Second, day)
	errs = validateDuration(errs, "WhitelistTimeout", &c.WhitelistTimeout, defaultWhitelistTimeout, time.Millisecond, time.Minute)
	// The defaults of the following two fields adapt to the fields that
	// bound them from below.
	errs = validateDuration(errs, "WhitelistMaxStaleness", &c.WhitelistMaxStaleness, max(defaultWhitelistMaxStaleness, c.WhitelistRefreshInterval), max(time.Second, c.WhitelistRefreshInterval), 7*day)
	errs = validateDuration(errs, "ReputationLookback", &c.ReputationLookback, defaultReputationLookback, time.Minute, 30*day)
	errs = validateInt(errs, "ReputationCacheSize", &c.ReputationCacheSize, defaultReputationCacheSize, 1, 10_000_000)
	errs = validateDuration(errs, "ReputationCacheTTL", &c.ReputationCacheTTL, defaultReputationCacheTTL, time.Second, day)
	errs = validateInt(errs, "ReputationQueueSize", &c.ReputationQueueSize, defaultReputationQueueSize, 1, 1_000_000)
	errs = validateInt(errs, "RateLimit", &c.RateLimit, defaultRateLimit, 1, 1_000_000)
	errs = validateDuration(errs, "RateLimitWindow", &c.RateLimitWindow, defaultRateLimitWindow, time.Second, day)
	errs = validateDuration(errs, "BlockDuration", &c.BlockDuration, defaultBlockDuration, time.Second, 30*day)
	errs = validateDuration(errs, "CleanupInterval", &c.CleanupInterval, defaultCleanupInterval, time.Second, day)
	errs = validateDuration(errs, "IdleWindowTTL", &c.IdleWindowTTL, max(defaultIdleWindowTTL, c.RateLimitWindow), max(time.Second, c.RateLimitWindow), 7*day)
	errs = icfg.validatePolicy(errs)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	icfg.logger = zerolog.Nop()
	if c.Logger != nil {
		icfg.logger = *c.Logger
	}
	return &icfg, nil
}

func (icfg *internalConfig) validatePolicy(errs []error) []error {
	p := &icfg.cfg.Policy
	errs = validateInt(errs, "Policy.MinScore", &p.MinScore, defaultMinScore, -maxPenalty, -1)
	errs = validatePenalty(errs, "Policy.PatternPenalty", &p.PatternPenalty, patterns.DefaultPatternPenalty)
	errs = validatePenalty(errs, "Policy.TLDPenalty", &p.TLDPenalty, patterns.DefaultTLDPenalty)
	errs = validatePenalty(errs, "Policy.PortPenalty", &p.PortPenalty, patterns.DefaultPortPenalty)
	errs = validatePenalty(errs, "Policy.BotPenalty", &p.BotPenalty, patterns.DefaultBotPenalty)
	errs = validatePenalty(errs, "Policy.ReputationPenalty", &p.ReputationPenalty, defaultReputationPenalty)
	errs = validateInt(errs, "Policy.MinReputationSamples", &p.MinReputationSamples, defaultMinReputationSamples, 1, 1_000_000)
	errs = validateInt(errs, "Policy.ReputationRiskThreshold", &p.ReputationRiskThreshold, defaultReputationRiskThreshold, 1, 100)
	icfg.patterns = patterns.Policy{
		PatternPenalty: weight(p.PatternPenalty),
		TLDPenalty:     weight(p.TLDPenalty),
		PortPenalty:    weight(p.PortPenalty),
		BotPenalty:     weight(p.BotPenalty),
	}
	icfg.reputationPenalty = weight(p.ReputationPenalty)
	return errs
}

// weight maps a validated penalty to the amount that it subtracts.
func weight(penalty int) int {
	return max(penalty, 0)
}

// validateInt replaces a zero *v by def and checks that *v lies in [lo, hi].
func validateInt(errs []error, field string, v *int, def, lo, hi int) []error {
	if *v == 0 {
		*v = def
		return errs
	}
	if *v < lo || hi < *v {
		err := &cfgerrors.OutOfBoundsError{
			Field: field,
			Value: *v,
			Min:   lo,
			Max:   hi,
		}
		return append(errs, err)
	}
	return errs
}

func validatePenalty(errs []error, field string, v *int, def int) []error {
	if *v == disabledPenalty {
		return errs
	}
	if *v == 0 {
		*v = def
		return errs
	}
	if *v < 1 || maxPenalty < *v {
		err := &cfgerrors.OutOfBoundsError{
			Field: field,
			Value: *v,
			Min:   disabledPenalty,
			Max:   maxPenalty,
		}
		return append(errs, err)
	}
	return errs
}

func validateDuration(errs []error, field string, v *time.Duration, def, lo, hi time.Duration) []error {
	if *v == 0 {
		*v = def
		return errs
	}
	if *v < lo || hi < *v {
		err := &cfgerrors.DurationOutOfBoundsError{
			Field: field,
			Value: *v,
			Min:   lo,
			Max:   hi,
		}
		return append(errs, err)
	}
	return errs
}
