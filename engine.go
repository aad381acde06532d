package corsguard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jub0bs/corsguard/internal/blocklist"
	"github.com/jub0bs/corsguard/internal/origins"
	"github.com/jub0bs/corsguard/internal/ratelimit"
	"github.com/jub0bs/corsguard/reputation"
)

const (
	// closeTimeout bounds how long Close waits for pending reputation
	// records to be written.
	closeTimeout = 5 * time.Second
	// pruneTimeout bounds each pruning of the reputation store.
	pruneTimeout = 30 * time.Second
	// maxLoggedOriginLen bounds the length of the origins that get logged,
	// since malformed ones come straight from clients.
	maxLoggedOriginLen = 256
)

// An Engine decides whether to trust the origins of requests.
// Call its [*Engine.Validate] method once per request.
//
// An Engine keeps track of how many requests each origin issues and of
// which origins are blocked; those in-memory data are the only state that
// Validate reads and writes. An Engine also runs some background tasks
// (cleanup, whitelist refresh, reputation recording), which you should
// stop by calling [*Engine.Close] once you no longer need the Engine.
//
// Engines are safe for concurrent use by multiple goroutines.
type Engine struct {
	icfg      *internalConfig
	now       func() time.Time
	limiter   *ratelimit.Limiter
	blocklist *blocklist.Blocklist
	recorder  *reputation.Recorder // nil if no reputation store was specified
	whitelist atomic.Pointer[whitelistSnapshot]

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

type whitelistSnapshot struct {
	hosts     origins.HostSet
	fetchedAt time.Time
}

// NewEngine creates an Engine that behaves in accordance with cfg and
// starts its background tasks.
// If cfg is invalid, it returns a nil [*Engine] and some non-nil error.
//
// NewEngine fetches the whitelist (if any) before returning;
// failure to do so is logged but doesn't prevent the creation of the Engine,
// which then denies every production origin until a later refresh succeeds.
//
// If you need to programmatically handle the configuration errors constitutive
// of the resulting error, rely on package [github.com/jub0bs/corsguard/cfgerrors].
func NewEngine(cfg Config) (*Engine, error) {
	return newEngine(cfg, time.Now)
}

func newEngine(cfg Config, now func() time.Time) (*Engine, error) {
	icfg, err := newInternalConfig(&cfg)
	if err != nil {
		return nil, err
	}
	c := &icfg.cfg
	e := Engine{
		icfg: icfg,
		now:  now,
		limiter: ratelimit.New(ratelimit.Config{
			Capacity: c.RateLimit,
			Window:   c.RateLimitWindow,
			IdleTTL:  c.IdleWindowTTL,
			Now:      now,
		}),
		blocklist: blocklist.New(blocklist.Config{
			Duration: c.BlockDuration,
			Logger:   &icfg.logger,
			Now:      now,
		}),
	}
	if c.Reputation != nil {
		e.recorder = reputation.NewRecorder(reputation.RecorderConfig{
			Store:     c.Reputation,
			Lookback:  c.ReputationLookback,
			CacheSize: c.ReputationCacheSize,
			CacheTTL:  c.ReputationCacheTTL,
			QueueSize: c.ReputationQueueSize,
			Logger:    &icfg.logger,
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	if c.Whitelist != nil {
		_ = e.RefreshWhitelist(ctx) // already logged
	}
	e.wg.Go(func() { e.maintain(ctx) })
	return &e, nil
}

// Validate decides whether to trust req's origin.
// Validate never blocks on I/O and never fails: malformed inputs result in
// a denial.
//
// The checks are performed in the following order, and the first one that
// fails determines the (negative) outcome:
//
//  1. absence of origin, which results in an allowance;
//  2. well-formedness of the origin;
//  3. in production, use of the https scheme;
//  4. in production, membership of the origin's host in the whitelist;
//  5. absence of the origin from the blocklist;
//  6. compliance with the rate limit;
//  7. security score no lower than [Policy.MinScore].
//
// Denials caused by a low security score or by suspicious hostname patterns
// result in the origin getting blocked.
func (e *Engine) Validate(req Request) Decision {
	d := Decision{
		ID:     uuid.NewString(),
		Origin: req.Origin,
	}
	if req.Origin == "" {
		// not a CORS request; nothing to validate
		d.Allowed = true
		d.Reason = ReasonNoOrigin
		return d
	}
	env := e.environment(req.Environment)
	o, err := origins.Parse(req.Origin)
	if err != nil {
		d.Reason = ReasonInvalidURLFormat
		if errors.Is(err, origins.ErrUnsupportedScheme) {
			d.Reason = ReasonInvalidProtocol
		}
		e.settle(&req, env, &d)
		return d
	}
	d.Origin = o.String()
	production := env == Production
	switch {
	case production && o.Scheme != origins.SchemeHTTPS:
		d.Reason = ReasonHTTPNotAllowedInProduction
	case production && !e.isWhitelisted(o.Host):
		d.Reason = ReasonDomainNotWhitelisted
	case e.blocklist.IsBlocked(d.Origin):
		d.Reason = ReasonOriginBlocked
	default:
		e.score(&req, &o, production, &d)
	}
	e.settle(&req, env, &d)
	return d
}

// environment returns the environment in which to evaluate a request
// that specifies env. Unknown environments get the strictest treatment.
func (e *Engine) environment(env Environment) Environment {
	switch {
	case env == "":
		return e.icfg.cfg.Environment
	case env.isValid():
		return env
	default:
		return Production
	}
}

func (e *Engine) isWhitelisted(host string) bool {
	snap := e.whitelist.Load()
	if snap == nil || e.now().Sub(snap.fetchedAt) > e.icfg.cfg.WhitelistMaxStaleness {
		return false
	}
	return snap.hosts.Contains(host)
}

func (e *Engine) score(req *Request, o *origins.Origin, production bool, d *Decision) {
	allowed, count := e.limiter.Check(d.Origin)
	d.RequestCount = count
	if !allowed {
		d.Reason = ReasonRateLimitExceeded
		return
	}
	res := e.icfg.patterns.Match(o, req.UserAgent, production)
	d.SecurityScore = -res.Penalty
	d.Warnings = res.Warnings
	if e.hasPoorReputation(d.Origin) {
		d.SecurityScore -= e.icfg.reputationPenalty
		d.Warnings = append(d.Warnings, WarningPoorReputation)
	}
	if d.SecurityScore < e.icfg.cfg.Policy.MinScore {
		d.Reason = ReasonLowSecurityScore
		return
	}
	d.Allowed = true
	d.Reason = ReasonValidationPassed
}

// hasPoorReputation reports whether origin's cached reputation warrants a
// penalty. Cache misses never do.
func (e *Engine) hasPoorReputation(origin string) bool {
	if e.recorder == nil {
		return false
	}
	rep, found := e.recorder.Lookup(origin)
	p := &e.icfg.cfg.Policy
	return found &&
		!rep.IsTrusted &&
		rep.TotalRequests >= p.MinReputationSamples &&
		rep.RiskScore >= p.ReputationRiskThreshold
}

// settle performs the side effects of decision d, none of which may
// alter it.
func (e *Engine) settle(req *Request, env Environment, d *Decision) {
	logger := &e.icfg.logger
	switch {
	case !d.Allowed:
		logger.Warn().
			Str("decision_id", d.ID).
			Str("origin", truncate(d.Origin, maxLoggedOriginLen)).
			Str("reason", string(d.Reason)).
			Str("user_agent", req.UserAgent).
			Str("client_address", req.ClientAddress).
			Int("score", d.SecurityScore).
			Strs("warnings", d.Warnings).
			Msg("origin denied")
		if d.Reason == ReasonLowSecurityScore ||
			slices.Contains(d.Warnings, WarningSuspiciousPatterns) {
			e.blocklist.Block(d.Origin, string(d.Reason))
		}
	case len(d.Warnings) > 0:
		logger.Info().
			Str("decision_id", d.ID).
			Str("origin", d.Origin).
			Int("score", d.SecurityScore).
			Strs("warnings", d.Warnings).
			Msg("origin allowed with warnings")
	}
	// Reputations are keyed by canonical origin;
	// those of unparseable origins are never looked up.
	if e.recorder == nil ||
		d.Reason == ReasonInvalidURLFormat ||
		d.Reason == ReasonInvalidProtocol {
		return
	}
	e.recorder.Record(reputation.Record{
		ID:            d.ID,
		Origin:        d.Origin,
		Allowed:       d.Allowed,
		Reason:        string(d.Reason),
		Score:         d.SecurityScore,
		Warnings:      d.Warnings,
		UserAgent:     req.UserAgent,
		ClientAddress: req.ClientAddress,
		Environment:   string(env),
		At:            e.now(),
	})
}

// RefreshWhitelist fetches the whitelist anew, within the configured
// timeout, and reports any failure to do so. The Engine refreshes its
// whitelist periodically; you only need to call this method if you want
// changes to the whitelist to take effect sooner.
//
// Upon failure, the Engine keeps using the hosts it last fetched,
// unless those are too stale. Entries that are neither valid hosts nor
// valid host patterns are logged and ignored.
func (e *Engine) RefreshWhitelist(ctx context.Context) error {
	c := &e.icfg.cfg
	if c.Whitelist == nil {
		return nil
	}
	logger := &e.icfg.logger
	ctx, cancel := context.WithTimeout(ctx, c.WhitelistTimeout)
	defer cancel()
	// Only production requests get checked against the whitelist.
	domains, err := c.Whitelist.ActiveDomains(ctx, string(Production))
	now := e.now()
	if err != nil {
		err = fmt.Errorf("corsguard: fetching whitelist: %w", err)
		snap := e.whitelist.Load()
		if snap != nil && now.Sub(snap.fetchedAt) > c.WhitelistMaxStaleness &&
			e.whitelist.CompareAndSwap(snap, nil) {
			logger.Error().
				Err(err).
				Time("fetched_at", snap.fetchedAt).
				Msg("whitelist dropped")
			return err
		}
		logger.Warn().Err(err).Msg("whitelist refresh failed")
		return err
	}
	hosts, errs := origins.NewHostSet(domains...)
	for _, err := range errs {
		logger.Warn().Err(err).Msg("ignoring whitelist entry")
	}
	e.whitelist.Store(&whitelistSnapshot{
		hosts:     hosts,
		fetchedAt: now,
	})
	logger.Debug().Int("entries", hosts.Size()).Msg("whitelist refreshed")
	return nil
}

func (e *Engine) maintain(ctx context.Context) {
	c := &e.icfg.cfg
	cleanup := time.NewTicker(c.CleanupInterval)
	defer cleanup.Stop()
	var refresh <-chan time.Time // nil channels block forever
	if c.Whitelist != nil {
		t := time.NewTicker(c.WhitelistRefreshInterval)
		defer t.Stop()
		refresh = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			e.sweep(ctx)
		case <-refresh:
			_ = e.RefreshWhitelist(ctx) // already logged
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	logger := &e.icfg.logger
	windows := e.limiter.Sweep()
	blocks := e.blocklist.Sweep()
	logger.Debug().
		Int("windows", windows).
		Int("blocks", blocks).
		Int("tracked_windows", e.limiter.Len()).
		Int("active_blocks", e.blocklist.Len()).
		Msg("swept idle rate windows and expired blocks")
	pruner, ok := e.icfg.cfg.Reputation.(reputation.Pruner)
	if !ok {
		return
	}
	c := &e.icfg.cfg
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()
	n, err := pruner.Prune(ctx, c.ReputationLookback)
	if err != nil {
		logger.Warn().Err(err).Msg("reputation pruning failed")
		return
	}
	logger.Debug().Int64("decisions", n).Msg("pruned reputation store")
}

// truncate returns the longest prefix of s no longer than n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Unblock lifts the block (if any) on origin and reports whether
// origin was blocked.
func (e *Engine) Unblock(origin string) bool {
	key := origin
	if o, err := origins.Parse(origin); err == nil {
		key = o.String()
	}
	return e.blocklist.Unblock(key)
}

// Blocked returns the origins that e currently blocks, sorted by origin.
func (e *Engine) Blocked() []BlockedOrigin {
	recs := e.blocklist.Records()
	res := make([]BlockedOrigin, len(recs))
	for i, rec := range recs {
		res[i] = BlockedOrigin{
			Origin:    rec.Origin,
			Reason:    Reason(rec.Reason),
			BlockedAt: rec.BlockedAt,
			ExpiresAt: rec.ExpiresAt,
		}
	}
	return res
}

// Config returns e's effective configuration, in which zero values have
// been replaced by the corresponding defaults.
// Mutating the fields of the result does not alter e's behavior.
func (e *Engine) Config() Config {
	return e.icfg.cfg
}

// Close stops e's background tasks and waits, for a bounded duration,
// for pending reputation records to be written.
// Close is idempotent; the Engine remains usable afterwards,
// but its state is no longer cleaned up and decisions are no longer recorded.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		if e.recorder == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		e.closeErr = e.recorder.Close(ctx)
	})
	return e.closeErr
}
