package cache

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Service owns the store, the fetch coordinator and the revalidation
// scheduler shared by every hook of a client. Construct one per client and
// pass it to UseCache; Close tears all of it down.
type Service struct {
	store       *Store
	coordinator *Coordinator
	scheduler   *Scheduler
	focus       FocusNotifier
	defaults    Options
	clock       clock.Clock
	logger      *zap.Logger
	metrics     Metrics
	cleanup     time.Duration
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock sets the clock driving ageing, dedupe, retries and intervals
func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = c
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDefaults sets the options every hook starts from
func WithDefaults(o Options) ServiceOption {
	return func(s *Service) {
		s.defaults = o
	}
}

// WithFocusNotifier sets the source of focus events
func WithFocusNotifier(n FocusNotifier) ServiceOption {
	return func(s *Service) {
		s.focus = n
	}
}

// WithStoreCleanupInterval sets how often expired entries are swept
func WithStoreCleanupInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.cleanup = d
	}
}

// NewService creates a Service
func NewService(opts ...ServiceOption) (*Service, error) {
	s := &Service{
		defaults: DefaultOptions(),
		clock:    clock.New(),
		logger:   zap.NewNop(),
		metrics:  NopMetrics{},
		cleanup:  defaultCleanupInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.defaults.Validate(); err != nil {
		return nil, err
	}
	if s.focus == nil {
		s.focus = NewFocusBroadcaster(s.logger.Named("focus"))
	}

	s.store = NewStore(
		WithStoreClock(s.clock),
		WithStoreLogger(s.logger.Named("store")),
		WithCleanupInterval(s.cleanup),
	)
	s.coordinator = NewCoordinator(s.store,
		WithCoordinatorClock(s.clock),
		WithCoordinatorLogger(s.logger.Named("fetch")),
		WithCoordinatorMetrics(s.metrics),
	)
	s.scheduler = NewScheduler(s.coordinator, s.store, s.focus, s.clock, s.logger.Named("revalidate"))

	s.logger.Info("Cache service started",
		zap.Duration("stale_time", s.defaults.StaleTime),
		zap.Duration("cache_time", s.defaults.CacheTime),
		zap.Duration("deduping_interval", s.defaults.DedupingInterval),
		zap.Int("error_retry_count", s.defaults.ErrorRetryCount),
		zap.Duration("refresh_interval", s.defaults.RefreshInterval))

	return s, nil
}

// Store returns the entry store
func (s *Service) Store() *Store {
	return s.store
}

// Coordinator returns the fetch coordinator
func (s *Service) Coordinator() *Coordinator {
	return s.coordinator
}

// Focus returns the focus event source
func (s *Service) Focus() FocusNotifier {
	return s.focus
}

// Defaults returns the default hook options
func (s *Service) Defaults() Options {
	return s.defaults
}

// Prime writes data for key as if it had just been fetched
func (s *Service) Prime(key string, data any) {
	s.store.Set(key, data, s.defaults.CacheTime)
}

// Invalidate marks key as out of date. A mounted key keeps serving its data
// while it is refetched in the background; an unmounted key is dropped so
// the next mount loads it. Either way the dedupe window is cleared.
func (s *Service) Invalidate(key string) {
	s.coordinator.Forget(key)
	if s.scheduler.Revalidate(key) {
		s.logger.Debug("Revalidating invalidated key", zap.String("key", key))
		return
	}
	s.store.Delete(key)
}

// Close stops retries and the store cleanup loop
func (s *Service) Close() error {
	err := errors.Join(s.coordinator.Close(), s.store.Close())
	s.logger.Info("Cache service stopped")
	return err
}

// hookOptions resolves per-hook overrides on top of the service defaults.
// Invalid combinations fall back to the defaults.
func (s *Service) hookOptions(opts ...Option) Options {
	o := s.defaults.with(opts...)
	if err := o.Validate(); err != nil {
		s.logger.Warn("Ignoring invalid hook options", zap.Error(err))
		return s.defaults
	}
	return o
}
