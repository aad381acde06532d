package reputation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Recorder defaults.
const (
	DefaultLookback  = 24 * time.Hour
	DefaultCacheSize = 10_000
	DefaultCacheTTL  = 5 * time.Minute
	DefaultQueueSize = 1024
	DefaultWorkers   = 2
	DefaultTimeout   = 5 * time.Second
)

// A RecorderConfig configures a [Recorder].
// Zero values get replaced by the corresponding defaults.
type RecorderConfig struct {
	Store     Store // required
	Lookback  time.Duration
	CacheSize int
	CacheTTL  time.Duration
	QueueSize int
	Workers   int
	// Timeout bounds each call to the store.
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// A Recorder decouples request processing from a (typically remote) [Store]:
// its methods never block on the store. Decisions get written, and
// reputations fetched, by a fixed number of background workers that consume
// a bounded queue; when the queue is full, new jobs are dropped.
// Fetched reputations are cached for a limited time.
//
// A Recorder is safe for concurrent use by multiple goroutines.
type Recorder struct {
	store    Store
	lookback time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	cache    *expirable.LRU[string, Reputation]
	pending  sync.Map // origins whose reputation is being fetched

	mu     sync.RWMutex // guards closed and sends on jobs
	closed bool
	jobs   chan job
	wg     sync.WaitGroup

	dropped atomic.Uint64
}

type job struct {
	rec    *Record // non-nil for writes
	origin string  // for reputation lookups
}

// ErrClosed is returned by [Recorder.Close] when it's called more than once.
var ErrClosed = errors.New("reputation: recorder closed")

// NewRecorder returns a Recorder configured by cfg
// and starts its background workers.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	r := Recorder{
		store:    cfg.Store,
		lookback: cfg.Lookback,
		timeout:  cfg.Timeout,
		logger:   logger,
		cache:    expirable.NewLRU[string, Reputation](cfg.CacheSize, nil, cfg.CacheTTL),
		jobs:     make(chan job, cfg.QueueSize),
	}
	for range cfg.Workers {
		r.wg.Add(1)
		go r.work()
	}
	return &r
}

// Record enqueues rec for writing and reports whether it was enqueued.
func (r *Recorder) Record(rec Record) bool {
	return r.enqueue(job{rec: &rec})
}

// Lookup returns origin's cached reputation, if any.
// On a cache miss, Lookup schedules a fetch and reports false,
// so that the caller can proceed without a reputation.
func (r *Recorder) Lookup(origin string) (Reputation, bool) {
	if rep, found := r.cache.Get(origin); found {
		return rep, true
	}
	if _, loaded := r.pending.LoadOrStore(origin, struct{}{}); loaded {
		return Reputation{}, false
	}
	if !r.enqueue(job{origin: origin}) {
		r.pending.Delete(origin)
	}
	return Reputation{}, false
}

// Dropped returns the number of jobs dropped so far because of a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(j job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.jobs <- j:
		return true
	default:
		n := r.dropped.Add(1)
		// Sample the warnings so that a saturated store
		// doesn't also flood the logs.
		if n&(n-1) == 0 {
			r.logger.Warn().Uint64("dropped", n).Msg("reputation queue full")
		}
		return false
	}
}

func (r *Recorder) work() {
	defer r.wg.Done()
	for j := range r.jobs {
		r.do(j)
	}
}

func (r *Recorder) do(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if j.rec != nil {
		if err := r.store.RecordDecision(ctx, *j.rec); err != nil {
			r.logger.Warn().
				Err(err).
				Str("origin", j.rec.Origin).
				Str("decision_id", j.rec.ID).
				Msg("failed to record decision")
		}
		return
	}
	defer r.pending.Delete(j.origin)
	rep, err := r.store.Reputation(ctx, j.origin, r.lookback)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("origin", j.origin).
			Msg("failed to fetch reputation")
		return
	}
	r.cache.Add(j.origin, rep)
}

// Close stops accepting new jobs and waits for the workers to process the
// jobs already queued, or for ctx to be done, whichever happens first.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
