package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTypeMismatch is reported when a key holds data of another type than the
// hook reading it
var ErrTypeMismatch = errors.New("cache: cached data has unexpected type")

// State is what a hook exposes to its consumer
type State[T any] struct {
	Data         T
	HasData      bool
	Err          error
	IsLoading    bool
	IsValidating bool
	UpdatedAt    time.Time
}

// Hook binds a key and its fetcher to a Service, serving cached data and
// keeping it revalidated while mounted.
type Hook[T any] struct {
	svc  *Service
	opts Options

	mu       sync.Mutex
	key      string
	fetcher  Fetcher
	schedule *Schedule
	closed   bool
}

// UseCache mounts key on svc. A fresh entry is served as is; a stale entry
// is served and refreshed in the background; a missing or expired entry is
// loaded before UseCache returns, unless ctx is done first.
func UseCache[T any](ctx context.Context, svc *Service, key string, fetcher func(context.Context) (T, error), opts ...Option) *Hook[T] {
	h := &Hook[T]{
		svc:  svc,
		opts: svc.hookOptions(opts...),
	}
	h.mount(ctx, key, typedFetcher(fetcher))
	return h
}

func typedFetcher[T any](fetcher func(context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) (any, error) {
		v, err := fetcher(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (h *Hook[T]) mount(ctx context.Context, key string, fetcher Fetcher) {
	h.mu.Lock()
	h.key = key
	h.fetcher = fetcher
	h.schedule = h.svc.scheduler.Schedule(key, fetcher, h.opts)
	h.mu.Unlock()

	req := Request{Key: key, Fetcher: fetcher, Options: h.opts}

	_, staleness := h.svc.store.Lookup(key, h.opts.StaleTime, h.opts.CacheTime)
	switch staleness {
	case StalenessFresh:
		h.svc.metrics.CacheHit(staleness)
		h.svc.logger.Debug("Cache hit", zap.String("key", key))
	case StalenessStale:
		h.svc.metrics.CacheHit(staleness)
		h.svc.logger.Debug("Serving stale entry, revalidating", zap.String("key", key))
		req.Background = true
		h.svc.coordinator.Fetch(ctx, req)
	default:
		h.svc.metrics.CacheMiss()
		h.svc.logger.Debug("Cache miss", zap.String("key", key), zap.Stringer("staleness", staleness))
		h.svc.coordinator.Fetch(ctx, req)
	}
}

// Key returns the mounted key
func (h *Hook[T]) Key() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.key
}

// Options returns the resolved options of the hook
func (h *Hook[T]) Options() Options {
	return h.opts
}

// State returns the current state of the mounted key
func (h *Hook[T]) State() State[T] {
	key := h.Key()
	e, _ := h.svc.store.Get(key)

	st := State[T]{
		Err:          e.Err,
		IsLoading:    e.IsLoading,
		IsValidating: e.IsValidating,
		UpdatedAt:    e.Timestamp,
	}
	if e.HasData {
		v, ok := e.Data.(T)
		if !ok {
			st.Err = fmt.Errorf("%w: key %q holds %T", ErrTypeMismatch, key, e.Data)
			return st
		}
		st.Data = v
		st.HasData = true
	}
	return st
}

// Mutate writes data into the cache right away and then revalidates the key
// against the fetcher, bypassing the dedupe window.
func (h *Hook[T]) Mutate(ctx context.Context, data T) State[T] {
	h.mu.Lock()
	key, fetcher := h.key, h.fetcher
	h.mu.Unlock()

	h.svc.store.Set(key, data, h.opts.CacheTime)
	h.svc.coordinator.Fetch(ctx, Request{Key: key, Fetcher: fetcher, Options: h.opts, Force: true})
	return h.State()
}

// Revalidate refetches the key, bypassing the dedupe window
func (h *Hook[T]) Revalidate(ctx context.Context) State[T] {
	h.mu.Lock()
	key, fetcher := h.key, h.fetcher
	h.mu.Unlock()

	h.svc.coordinator.Fetch(ctx, Request{Key: key, Fetcher: fetcher, Options: h.opts, Force: true})
	return h.State()
}

// SetKey unmounts the current key and mounts key with fetcher
func (h *Hook[T]) SetKey(ctx context.Context, key string, fetcher func(context.Context) (T, error)) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	old := h.schedule
	h.schedule = nil
	h.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	h.mount(ctx, key, typedFetcher(fetcher))
}

// Close stops revalidation for the hook. Cached data stays in the store.
func (h *Hook[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sch := h.schedule
	h.schedule = nil
	h.mu.Unlock()

	if sch != nil {
		sch.Stop()
	}
}
