package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrFetcherPanic is returned for a fetch whose fetcher panicked
var ErrFetcherPanic = errors.New("cache: fetcher panicked")

// Fetcher loads the current value for a key
type Fetcher func(ctx context.Context) (any, error)

// Request describes a single fetch of a key
type Request struct {
	Key     string
	Fetcher Fetcher
	Options Options
	// Background fetches only toggle IsValidating and never block the caller
	Background bool
	// Force bypasses the dedupe window, used by mutate and revalidate
	Force bool
}

// Coordinator runs fetches against the Store. Calls for a key inside the
// dedupe window are dropped, callers of an in-flight fetch join it, failures
// are retried with exponential backoff, and results older than the latest
// started fetch for the key are discarded.
type Coordinator struct {
	store   *Store
	clock   clock.Clock
	logger  *zap.Logger
	metrics Metrics
	group   singleflight.Group

	mu     sync.Mutex
	calls  map[string]*callState
	closed bool
}

// callState is the per-key fetch bookkeeping
type callState struct {
	lastCall time.Time
	seq      uint64 // sequence number of the latest started fetch
	inflight bool   // latest fetch has not completed
	attempt  int    // retries performed in the current failure streak
	retry    *clock.Timer
	retryGen uint64
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock sets the clock used for dedupe windows and retry timers
func WithCoordinatorClock(c clock.Clock) CoordinatorOption {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// WithCoordinatorLogger sets the coordinator logger
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(co *Coordinator) {
		co.logger = logger
	}
}

// WithCoordinatorMetrics sets the metrics sink
func WithCoordinatorMetrics(m Metrics) CoordinatorOption {
	return func(co *Coordinator) {
		co.metrics = m
	}
}

// NewCoordinator creates a coordinator writing into store
func NewCoordinator(store *Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   store,
		clock:   clock.New(),
		logger:  zap.NewNop(),
		metrics: NopMetrics{},
		calls:   make(map[string]*callState),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch runs req and returns the entry for the key. Background requests
// return immediately; other requests wait for the fetch (or the one they
// joined) to settle, or for ctx to be done. A settled fetch that failed with
// retries left still reports IsValidating until the retries run out.
func (c *Coordinator) Fetch(ctx context.Context, req Request) Entry {
	done := c.start(ctx, req)
	if done != nil && !req.Background {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	entry, _ := c.store.Get(req.Key)
	return entry
}

// start begins or joins a fetch for req.Key. It returns nil when the call was
// dropped by the dedupe window with nothing in flight to join.
func (c *Coordinator) start(ctx context.Context, req Request) <-chan singleflight.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx, req)
}

// startLocked is start with c.mu held
func (c *Coordinator) startLocked(ctx context.Context, req Request) <-chan singleflight.Result {
	if c.closed {
		return nil
	}

	cs := c.call(req.Key)
	now := c.clock.Now()

	if !req.Force && !cs.lastCall.IsZero() && now.Sub(cs.lastCall) < req.Options.DedupingInterval {
		c.metrics.FetchDeduped()
		c.logger.Debug("Fetch deduplicated",
			zap.String("key", req.Key),
			zap.Bool("in_flight", cs.inflight))
		if cs.inflight {
			// The latest flight cannot finish while we hold c.mu, so it is
			// still registered in the group and DoChan joins it.
			return c.group.DoChan(req.Key, func() (any, error) { return nil, nil })
		}
		return nil
	}

	cs.lastCall = now
	cs.seq++
	cs.inflight = true
	seq := cs.seq

	c.store.Update(req.Key, func(e *Entry) {
		e.IsValidating = true
		if !req.Background && !e.HasData {
			e.IsLoading = true
		}
	})
	c.metrics.FetchStarted(req.Background)
	c.logger.Debug("Fetch started",
		zap.String("key", req.Key),
		zap.Uint64("seq", seq),
		zap.Bool("background", req.Background),
		zap.Bool("forced", req.Force))

	fetchCtx := context.WithoutCancel(ctx)
	c.group.Forget(req.Key)
	return c.group.DoChan(req.Key, func() (any, error) {
		data, err := c.invoke(fetchCtx, req)
		c.complete(req, seq, data, err)
		return data, err
	})
}

func (c *Coordinator) invoke(ctx context.Context, req Request) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in fetcher",
				zap.String("key", req.Key),
				zap.Any("panic", r))
			data, err = nil, fmt.Errorf("%w: %v", ErrFetcherPanic, r)
		}
	}()
	return req.Fetcher(ctx)
}

func (c *Coordinator) complete(req Request, seq uint64, data any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.call(req.Key)
	if seq != cs.seq {
		c.logger.Debug("Discarding superseded fetch result",
			zap.String("key", req.Key),
			zap.Uint64("seq", seq),
			zap.Uint64("latest", cs.seq))
		return
	}
	cs.inflight = false

	if err == nil {
		c.stopRetry(cs)
		cs.attempt = 0
		c.store.Set(req.Key, data, req.Options.CacheTime)
		c.metrics.FetchSucceeded()
		return
	}

	if !c.closed && cs.attempt < req.Options.ErrorRetryCount {
		cs.attempt++
		attempt := cs.attempt
		delay := retryDelay(attempt)
		c.store.Update(req.Key, func(e *Entry) {
			e.RetryCount = attempt
		})
		c.scheduleRetry(cs, req, delay)
		c.metrics.FetchRetried(attempt)
		c.logger.Warn("Fetch failed, retry scheduled",
			zap.String("key", req.Key),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		return
	}

	cs.attempt = 0
	c.stopRetry(cs)
	c.store.Update(req.Key, func(e *Entry) {
		e.Err = err
		e.IsLoading = false
		e.IsValidating = false
		e.RetryCount = 0
	})
	c.metrics.FetchFailed()
	c.logger.Warn("Fetch failed",
		zap.String("key", req.Key),
		zap.Int("retries", req.Options.ErrorRetryCount),
		zap.Error(err))
}

// scheduleRetry replaces any pending retry for the key. Caller holds c.mu.
//
// A retry continues the failed fetch, so it is not subject to the dedupe
// window: with a window longer than the backoff delay it would otherwise be
// dropped and leave the entry validating with no error. When another fetch
// for the key is in flight at that point, the retry is skipped and that
// fetch settles the entry instead.
func (c *Coordinator) scheduleRetry(cs *callState, req Request, delay time.Duration) {
	c.stopRetry(cs)
	cs.retryGen++
	gen := cs.retryGen
	req.Force = true
	cs.retry = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		current := c.calls[req.Key]
		if c.closed || current == nil || current.retryGen != gen {
			return
		}
		current.retry = nil
		if current.inflight {
			c.logger.Debug("Retry skipped, fetch already in flight", zap.String("key", req.Key))
			return
		}

		c.logger.Debug("Retrying fetch", zap.String("key", req.Key))
		c.startLocked(context.Background(), req)
	})
}

// Forget clears the dedupe window and any pending retry for key, so the next
// fetch of it starts immediately. A fetch already in flight still completes.
func (c *Coordinator) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.calls[key]
	if !ok {
		return
	}
	c.stopRetry(cs)
	cs.lastCall = time.Time{}
	cs.attempt = 0
}

// stopRetry cancels a pending retry. Caller holds c.mu.
func (c *Coordinator) stopRetry(cs *callState) {
	if cs.retry != nil {
		cs.retry.Stop()
		cs.retry = nil
	}
	cs.retryGen++
}

func (c *Coordinator) call(key string) *callState {
	cs, ok := c.calls[key]
	if !ok {
		cs = &callState{}
		c.calls[key] = cs
	}
	return cs
}

// PendingRetry reports whether a retry is scheduled for key
func (c *Coordinator) PendingRetry(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.calls[key]
	return ok && cs.retry != nil
}

// Close cancels pending retries. In-flight fetches still complete into the
// store; no new fetches start.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	for _, cs := range c.calls {
		c.stopRetry(cs)
	}
	return nil
}
