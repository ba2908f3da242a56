package telemetry

import (
	"context"
	"sync"

	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/erp/crmsync/internal/infrastructure/cache"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics records cache, fetch and mutation events as OpenTelemetry
// instruments. It satisfies both the cache and the lead editor metric hooks.
type SyncMetrics struct {
	meter  metric.Meter
	logger *zap.Logger
	ctx    context.Context

	cacheLookups    *Counter
	fetchesStarted  *Counter
	fetchesDeduped  *Counter
	fetchesFinished *Counter
	fetchRetries    *Histogram
	mutations       *Counter
	writesCoalesced *Counter

	regMu         sync.Mutex
	registrations []metric.Registration
}

var _ cache.Metrics = (*SyncMetrics)(nil)

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewSyncMetrics creates the sync instruments on cfg.Meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{
		meter:  cfg.Meter,
		logger: logger,
		ctx:    context.Background(),
	}

	var err error
	if sm.cacheLookups, err = NewCounter(cfg.Meter,
		"crm_cache_lookups_total",
		"Cache lookups by staleness of the entry found",
		"{lookups}",
	); err != nil {
		return nil, err
	}
	if sm.fetchesStarted, err = NewCounter(cfg.Meter,
		"crm_fetch_started_total",
		"Fetches started by the coordinator",
		"{fetches}",
	); err != nil {
		return nil, err
	}
	if sm.fetchesDeduped, err = NewCounter(cfg.Meter,
		"crm_fetch_deduped_total",
		"Fetch requests dropped inside the deduping interval",
		"{fetches}",
	); err != nil {
		return nil, err
	}
	if sm.fetchesFinished, err = NewCounter(cfg.Meter,
		"crm_fetch_finished_total",
		"Fetches that committed data or exhausted their retries",
		"{fetches}",
	); err != nil {
		return nil, err
	}
	if sm.fetchRetries, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "crm_fetch_retry_attempt",
		Description: "Attempt number of scheduled fetch retries",
		Unit:        "{attempt}",
		Boundaries:  RetryAttemptBuckets,
	}); err != nil {
		return nil, err
	}
	if sm.mutations, err = NewCounter(cfg.Meter,
		"crm_mutations_total",
		"Lead mutations by category and outcome",
		"{mutations}",
	); err != nil {
		return nil, err
	}
	if sm.writesCoalesced, err = NewCounter(cfg.Meter,
		"crm_writes_coalesced_total",
		"Field edits merged into an already pending write",
		"{writes}",
	); err != nil {
		return nil, err
	}

	return sm, nil
}

// CacheHit records a lookup that found an entry
func (sm *SyncMetrics) CacheHit(staleness cache.Staleness) {
	sm.cacheLookups.Inc(sm.ctx, AttrStaleness.String(staleness.String()))
}

// CacheMiss records a lookup that found nothing usable
func (sm *SyncMetrics) CacheMiss() {
	sm.cacheLookups.Inc(sm.ctx, AttrStaleness.String(cache.StalenessMissing.String()))
}

// FetchStarted records a fetch leaving the coordinator
func (sm *SyncMetrics) FetchStarted(background bool) {
	sm.fetchesStarted.Inc(sm.ctx, AttrBackground.Bool(background))
}

// FetchDeduped records a dropped fetch request
func (sm *SyncMetrics) FetchDeduped() {
	sm.fetchesDeduped.Inc(sm.ctx)
}

// FetchSucceeded records a committed fetch
func (sm *SyncMetrics) FetchSucceeded() {
	sm.fetchesFinished.Inc(sm.ctx, AttrOutcome.String("success"))
}

// FetchRetried records a scheduled retry
func (sm *SyncMetrics) FetchRetried(attempt int) {
	sm.fetchRetries.Record(sm.ctx, float64(attempt))
}

// FetchFailed records a fetch that gave up
func (sm *SyncMetrics) FetchFailed() {
	sm.fetchesFinished.Inc(sm.ctx, AttrOutcome.String("failure"))
}

// MutationCommitted records a mutation the server accepted
func (sm *SyncMetrics) MutationCommitted(category lead.Category) {
	sm.mutations.Inc(sm.ctx,
		AttrCategory.String(string(category)),
		AttrOutcome.String("committed"),
	)
}

// MutationRolledBack records a mutation reverted after a failure
func (sm *SyncMetrics) MutationRolledBack(category lead.Category) {
	sm.mutations.Inc(sm.ctx,
		AttrCategory.String(string(category)),
		AttrOutcome.String("rolled_back"),
	)
}

// WriteCoalesced records a field edit merged into a pending write
func (sm *SyncMetrics) WriteCoalesced() {
	sm.writesCoalesced.Inc(sm.ctx)
}

// ObserveStore reports the number of entries of store on every collection.
func (sm *SyncMetrics) ObserveStore(store *cache.Store) error {
	gauge, err := sm.meter.Int64ObservableGauge(
		"crm_cache_entries",
		metric.WithDescription("Entries currently held by the cache store"),
		metric.WithUnit("{entries}"),
	)
	if err != nil {
		return &MetricsError{Op: "ObserveStore", Err: err.Error()}
	}

	reg, err := sm.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(store.Len()))
		return nil
	}, gauge)
	if err != nil {
		return &MetricsError{Op: "ObserveStore", Err: err.Error()}
	}

	sm.regMu.Lock()
	sm.registrations = append(sm.registrations, reg)
	sm.regMu.Unlock()
	return nil
}

// Stop unregisters observable callbacks.
func (sm *SyncMetrics) Stop() {
	sm.regMu.Lock()
	regs := sm.registrations
	sm.registrations = nil
	sm.regMu.Unlock()

	for _, reg := range regs {
		if err := reg.Unregister(); err != nil {
			sm.logger.Warn("Failed to unregister metrics callback", zap.Error(err))
		}
	}
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
