package telemetry_test

import (
	"context"
	"testing"

	"github.com/erp/crmsync/internal/application/leadedit"
	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/erp/crmsync/internal/infrastructure/cache"
	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

var _ leadedit.Metrics = (*telemetry.SyncMetrics)(nil)

func newSyncMetrics(t *testing.T) (*telemetry.SyncMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := telemetry.NewMeterProviderWithReader(reader, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	sm, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  mp.Meter("crmsync"),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return sm, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// sumWhere adds up the int64 sum points carrying every given attribute.
func sumWhere(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range attrs {
			v, found := dp.Attributes.Value(kv.Key)
			if !found || v != kv.Value {
				match = false
				break
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func TestNewSyncMetrics_NilMeter(t *testing.T) {
	_, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{})
	assert.ErrorIs(t, err, telemetry.ErrMeterNil)
}

func TestSyncMetrics_CacheEvents(t *testing.T) {
	sm, reader := newSyncMetrics(t)

	sm.CacheHit(cache.StalenessFresh)
	sm.CacheHit(cache.StalenessFresh)
	sm.CacheHit(cache.StalenessStale)
	sm.CacheMiss()
	sm.FetchStarted(false)
	sm.FetchStarted(true)
	sm.FetchDeduped()
	sm.FetchSucceeded()
	sm.FetchRetried(1)
	sm.FetchRetried(2)
	sm.FetchFailed()

	got := collect(t, reader)

	lookups := got["crm_cache_lookups_total"]
	assert.Equal(t, int64(2), sumWhere(t, lookups, telemetry.AttrStaleness.String("fresh")))
	assert.Equal(t, int64(1), sumWhere(t, lookups, telemetry.AttrStaleness.String("stale")))
	assert.Equal(t, int64(1), sumWhere(t, lookups, telemetry.AttrStaleness.String("missing")))

	started := got["crm_fetch_started_total"]
	assert.Equal(t, int64(2), sumWhere(t, started))
	assert.Equal(t, int64(1), sumWhere(t, started, telemetry.AttrBackground.Bool(true)))

	assert.Equal(t, int64(1), sumWhere(t, got["crm_fetch_deduped_total"]))

	finished := got["crm_fetch_finished_total"]
	assert.Equal(t, int64(1), sumWhere(t, finished, telemetry.AttrOutcome.String("success")))
	assert.Equal(t, int64(1), sumWhere(t, finished, telemetry.AttrOutcome.String("failure")))

	retries, ok := got["crm_fetch_retry_attempt"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, retries.DataPoints, 1)
	assert.Equal(t, uint64(2), retries.DataPoints[0].Count)
	assert.Equal(t, 3.0, retries.DataPoints[0].Sum)
}

func TestSyncMetrics_MutationEvents(t *testing.T) {
	sm, reader := newSyncMetrics(t)

	sm.MutationCommitted(lead.CategoryStatus)
	sm.MutationCommitted(lead.CategoryStatus)
	sm.MutationRolledBack(lead.CategoryAssignee)
	sm.WriteCoalesced()
	sm.WriteCoalesced()

	got := collect(t, reader)

	mutations := got["crm_mutations_total"]
	assert.Equal(t, int64(2), sumWhere(t, mutations,
		telemetry.AttrCategory.String("status"),
		telemetry.AttrOutcome.String("committed"),
	))
	assert.Equal(t, int64(1), sumWhere(t, mutations,
		telemetry.AttrCategory.String("assignee"),
		telemetry.AttrOutcome.String("rolled_back"),
	))
	assert.Equal(t, int64(2), sumWhere(t, got["crm_writes_coalesced_total"]))
}

func TestSyncMetrics_ObserveStore(t *testing.T) {
	sm, reader := newSyncMetrics(t)
	store := cache.NewStore()
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, sm.ObserveStore(store))
	store.Set("/api/v1/leads/L1", "a", cache.DefaultCacheTime)
	store.Set("/api/v1/leads/L2", "b", cache.DefaultCacheTime)

	gauge, ok := collect(t, reader)["crm_cache_entries"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(2), gauge.DataPoints[0].Value)

	sm.Stop()
	if m, present := collect(t, reader)["crm_cache_entries"]; present {
		after, ok := m.Data.(metricdata.Gauge[int64])
		require.True(t, ok)
		assert.Empty(t, after.DataPoints)
	}
}
