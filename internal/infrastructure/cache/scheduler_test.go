package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RefreshInterval(t *testing.T) {
	svc, mock, _ := newTestService(t)
	var calls int32

	h := UseCache(context.Background(), svc, "/dashboard/stats", countingFetcher(&calls),
		WithRefreshInterval(30*time.Second))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	mock.Add(30 * time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return !h.State().IsValidating }, waitFor, tick)
	assert.Equal(t, []string{"L2"}, h.State().Data.IDs)

	h.Close()
	mock.Add(time.Minute)
	assert.Never(t, func() bool { return atomic.LoadInt32(&calls) > 2 }, 50*time.Millisecond, tick)
}

func TestScheduler_FocusRevalidatesOnlyStaleEntries(t *testing.T) {
	svc, mock, focus := newTestService(t)
	var calls int32

	h := UseCache(context.Background(), svc, "/leads", countingFetcher(&calls))
	defer h.Close()

	focus.Focus()
	assert.Never(t, func() bool { return atomic.LoadInt32(&calls) > 1 }, 30*time.Millisecond, tick,
		"fresh entry is left alone")

	mock.Add(DefaultStaleTime)
	focus.Focus()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, waitFor, tick)

	// A second focus inside the dedupe window is dropped even though the
	// entry may still look stale while the first refresh is in flight.
	mock.Add(DefaultStaleTime)
	focus.Focus()
	focus.Focus()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, waitFor, tick)
	assert.Never(t, func() bool { return atomic.LoadInt32(&calls) > 3 }, 30*time.Millisecond, tick)
}

func TestScheduler_FocusDisabled(t *testing.T) {
	svc, mock, focus := newTestService(t)
	var calls int32

	h := UseCache(context.Background(), svc, "/leads", countingFetcher(&calls), WithRevalidateOnFocus(false))
	defer h.Close()
	assert.Zero(t, focus.Subscribers())

	mock.Add(DefaultStaleTime)
	focus.Focus()
	assert.Never(t, func() bool { return atomic.LoadInt32(&calls) > 1 }, 30*time.Millisecond, tick)
}

func TestScheduler_MissingEntryOnFocus(t *testing.T) {
	svc, _, focus := newTestService(t)
	var calls int32

	h := UseCache(context.Background(), svc, "/leads", countingFetcher(&calls))
	defer h.Close()

	svc.Invalidate("/leads")
	focus.Focus()
	assert.Never(t, func() bool { return atomic.LoadInt32(&calls) > 1 }, 30*time.Millisecond, tick,
		"still inside the dedupe window")
}

func TestSchedule_StopIsIdempotent(t *testing.T) {
	svc, _, focus := newTestService(t)

	sch := svc.scheduler.Schedule("/leads", func(ctx context.Context) (any, error) { return nil, nil },
		DefaultOptions().with(WithRefreshInterval(time.Second)))
	assert.Equal(t, "/leads", sch.Key())
	assert.Equal(t, 1, focus.Subscribers())

	sch.Stop()
	sch.Stop()
	assert.Zero(t, focus.Subscribers())
}

func TestFocusBroadcaster_RecoversPanics(t *testing.T) {
	b := NewFocusBroadcaster(nil)
	var called int32

	unsubscribePanic := b.Subscribe(func() { panic("subscriber bug") })
	b.Subscribe(func() { atomic.AddInt32(&called, 1) })

	assert.NotPanics(t, b.Focus)
	assert.Equal(t, int32(1), atomic.LoadInt32(&called))

	unsubscribePanic()
	unsubscribePanic()
	assert.Equal(t, 1, b.Subscribers())
}
