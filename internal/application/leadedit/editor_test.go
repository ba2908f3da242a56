package leadedit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	waitFor = time.Second
	tick    = 2 * time.Millisecond
)

var errServer = errors.New("services unavailable")

type mockGateway struct {
	mock.Mock
	calls atomic.Int32
}

func (m *mockGateway) result(args mock.Arguments) (*lead.Lead, error) {
	m.calls.Add(1)
	l, _ := args.Get(0).(*lead.Lead)
	return l, args.Error(1)
}

// callCount is safe to poll while calls are running
func (m *mockGateway) callCount() int {
	return int(m.calls.Load())
}

func (m *mockGateway) Get(ctx context.Context, id string) (*lead.Lead, error) {
	return m.result(m.Called(ctx, id))
}

func (m *mockGateway) UpdateAssignee(ctx context.Context, id, userID string) (*lead.Lead, error) {
	return m.result(m.Called(ctx, id, userID))
}

func (m *mockGateway) UpdateStatus(ctx context.Context, id string, status lead.Status, reason string) (*lead.Lead, error) {
	return m.result(m.Called(ctx, id, status, reason))
}

func (m *mockGateway) MoveToColumn(ctx context.Context, id, columnID string) (*lead.Lead, error) {
	return m.result(m.Called(ctx, id, columnID))
}

func (m *mockGateway) UpdateFields(ctx context.Context, id string, patch lead.Patch) (*lead.Lead, error) {
	return m.result(m.Called(ctx, id, patch))
}

type recordingMetrics struct {
	mu         sync.Mutex
	committed  map[lead.Category]int
	rolledBack map[lead.Category]int
	coalesced  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		committed:  make(map[lead.Category]int),
		rolledBack: make(map[lead.Category]int),
	}
}

func (r *recordingMetrics) MutationCommitted(c lead.Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed[c]++
}

func (r *recordingMetrics) MutationRolledBack(c lead.Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolledBack[c]++
}

func (r *recordingMetrics) WriteCoalesced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coalesced++
}

func baseLead() lead.Lead {
	return lead.Lead{
		ID:               "L1",
		Name:             "Acme Corp",
		Status:           lead.StatusOpen,
		AssignedToUserID: "u-1",
		ColumnID:         "col-new",
	}
}

func newTestEditor(t *testing.T, opts ...Option) (*Editor, *mockGateway, *clock.Mock) {
	t.Helper()
	gw := &mockGateway{}
	mc := clock.NewMock()
	opts = append([]Option{WithClock(mc), WithLogger(zaptest.NewLogger(t))}, opts...)
	e := NewEditor(gw, opts...)
	e.Load(baseLead())
	t.Cleanup(func() { _ = e.Close() })
	return e, gw, mc
}

func TestEditor_RequiresLoadedLead(t *testing.T) {
	e := NewEditor(&mockGateway{})
	defer e.Close()

	assert.ErrorIs(t, e.UpdateAssignee(context.Background(), "u-2"), ErrNoLead)
	assert.ErrorIs(t, e.UpdateLeadField(lead.FieldName, "x", 0), ErrNoLead)
	assert.ErrorIs(t, e.SyncWithServer(context.Background()), ErrNoLead)
	assert.Zero(t, e.CancelPendingUpdates())
}

func TestEditor_UpdateAssignee(t *testing.T) {
	t.Run("commits server response", func(t *testing.T) {
		metrics := newRecordingMetrics()
		e, gw, _ := newTestEditor(t, WithMetrics(metrics))

		server := baseLead()
		server.AssignedToUserID = "u-2"
		server.UpdatedAt = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
		gw.On("UpdateAssignee", mock.Anything, "L1", "u-2").Return(&server, nil).Once()

		require.NoError(t, e.UpdateAssignee(context.Background(), "u-2"))

		got, _ := e.Lead()
		assert.Equal(t, server, got, "replaced wholesale by the server copy")
		assert.False(t, e.IsLoading(lead.CategoryAssignee))
		assert.False(t, e.HasError())
		assert.Equal(t, 1, metrics.committed[lead.CategoryAssignee])
		gw.AssertExpectations(t)
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		e, gw, _ := newTestEditor(t)
		gw.On("UpdateAssignee", mock.Anything, "L1", "u-2").Return(nil, errServer).Once()

		err := e.UpdateAssignee(context.Background(), "u-2")
		require.ErrorIs(t, err, errServer, "the original error reaches the caller")

		got, _ := e.Lead()
		assert.Equal(t, "u-1", got.AssignedToUserID)
		assert.True(t, e.HasError(lead.CategoryAssignee))
		assert.False(t, e.HasError(lead.CategoryStatus))
		assert.False(t, e.IsLoading())

		var mutErr *MutationError
		require.ErrorAs(t, e.GetError(lead.CategoryAssignee), &mutErr)
		assert.Equal(t, "Failed to update assignee", mutErr.Message)
		assert.ErrorIs(t, mutErr, errServer)
	})

	t.Run("rejects invalid input without calling the server", func(t *testing.T) {
		e, gw, _ := newTestEditor(t)
		long := make([]byte, 65)
		for i := range long {
			long[i] = 'u'
		}

		assert.Error(t, e.UpdateAssignee(context.Background(), string(long)))
		assert.False(t, e.IsLoading())
		gw.AssertNotCalled(t, "UpdateAssignee", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestEditor_OptimisticValueVisibleBeforeResponse(t *testing.T) {
	e, gw, _ := newTestEditor(t)
	release := make(chan struct{})

	server := baseLead()
	server.ColumnID = "col-won"
	gw.On("MoveToColumn", mock.Anything, "L1", "col-won").
		Run(func(mock.Arguments) { <-release }).
		Return(&server, nil).Once()

	done := make(chan error, 1)
	go func() { done <- e.MoveToColumn(context.Background(), "col-won") }()

	require.Eventually(t, func() bool { return e.IsLoading(lead.CategoryColumn) }, waitFor, tick)
	got, _ := e.Lead()
	assert.Equal(t, "col-won", got.ColumnID)
	assert.False(t, e.IsLoading(lead.CategoryStatus, lead.CategoryAssignee))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, e.IsLoading(lead.CategoryColumn))
}

func TestEditor_UpdateStatusEndToEnd(t *testing.T) {
	e, gw, _ := newTestEditor(t)

	server := baseLead()
	server.Status = lead.StatusLost
	server.LostReason = "price"
	gw.On("UpdateStatus", mock.Anything, "L1", lead.StatusLost, "price").Return(&server, nil).Once()

	require.NoError(t, e.UpdateStatus(context.Background(), lead.StatusLost, "price"))

	st := e.State()
	assert.Equal(t, server, st.Lead)
	assert.False(t, st.Loading[lead.CategoryStatus])
	assert.Nil(t, st.Errors[lead.CategoryStatus])
}

func TestEditor_StatusRollbackRestoresReason(t *testing.T) {
	e, gw, _ := newTestEditor(t)
	gw.On("UpdateStatus", mock.Anything, "L1", lead.StatusLost, "price").Return(nil, errServer).Once()

	require.Error(t, e.UpdateStatus(context.Background(), lead.StatusLost, "price"))

	got, _ := e.Lead()
	assert.Equal(t, lead.StatusOpen, got.Status)
	assert.Empty(t, got.LostReason)
	assert.EqualError(t, e.GetError(lead.CategoryStatus), "Failed to update status: services unavailable")
}

// Two overlapping mutations of one category share a single rollback slot.
// When the first fails, the lead returns to the state the second one started
// from, not to the state before the first.
func TestEditor_OverlappingStatusMutationsShareSnapshot(t *testing.T) {
	e, gw, _ := newTestEditor(t)
	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})

	server := baseLead()
	server.Status = lead.StatusQualified
	gw.On("UpdateStatus", mock.Anything, "L1", lead.StatusContacted, "").
		Run(func(mock.Arguments) { <-releaseFirst }).
		Return(nil, errServer).Once()
	gw.On("UpdateStatus", mock.Anything, "L1", lead.StatusQualified, "").
		Run(func(mock.Arguments) { <-releaseSecond }).
		Return(&server, nil).Once()

	first := make(chan error, 1)
	go func() { first <- e.UpdateStatus(context.Background(), lead.StatusContacted, "") }()
	require.Eventually(t, func() bool {
		l, _ := e.Lead()
		return l.Status == lead.StatusContacted
	}, waitFor, tick)

	second := make(chan error, 1)
	go func() { second <- e.UpdateStatus(context.Background(), lead.StatusQualified, "") }()
	require.Eventually(t, func() bool {
		l, _ := e.Lead()
		return l.Status == lead.StatusQualified
	}, waitFor, tick)

	close(releaseFirst)
	require.ErrorIs(t, <-first, errServer)

	got, _ := e.Lead()
	assert.Equal(t, lead.StatusContacted, got.Status, "rolled back to the second mutation's snapshot")
	assert.True(t, e.HasError(lead.CategoryStatus))

	close(releaseSecond)
	require.NoError(t, <-second)
	got, _ = e.Lead()
	assert.Equal(t, lead.StatusQualified, got.Status)
	assert.False(t, e.IsLoading(lead.CategoryStatus))
}

func TestEditor_CategoriesRollBackIndependently(t *testing.T) {
	e, gw, _ := newTestEditor(t)
	release := make(chan struct{})

	gw.On("UpdateAssignee", mock.Anything, "L1", "u-2").
		Run(func(mock.Arguments) { <-release }).
		Return(nil, errServer).Once()

	done := make(chan error, 1)
	go func() { done <- e.UpdateAssignee(context.Background(), "u-2") }()
	require.Eventually(t, func() bool { return e.IsLoading(lead.CategoryAssignee) }, waitFor, tick)

	server := baseLead()
	server.AssignedToUserID = "u-2"
	server.ColumnID = "col-won"
	gw.On("MoveToColumn", mock.Anything, "L1", "col-won").Return(&server, nil).Once()
	require.NoError(t, e.MoveToColumn(context.Background(), "col-won"))

	close(release)
	require.Error(t, <-done)

	got, _ := e.Lead()
	assert.Equal(t, "u-1", got.AssignedToUserID)
	assert.Equal(t, "col-won", got.ColumnID, "the column change survives the assignee rollback")
	assert.False(t, e.HasError(lead.CategoryColumn))
}

func TestEditor_ResponseForReplacedLeadIsIgnored(t *testing.T) {
	e, gw, _ := newTestEditor(t)
	release := make(chan struct{})

	gw.On("UpdateAssignee", mock.Anything, "L1", "u-2").
		Run(func(mock.Arguments) { <-release }).
		Return(nil, errServer).Once()

	done := make(chan error, 1)
	go func() { done <- e.UpdateAssignee(context.Background(), "u-2") }()
	require.Eventually(t, func() bool { return e.IsLoading(lead.CategoryAssignee) }, waitFor, tick)

	other := lead.Lead{ID: "L2", Name: "Globex", Status: lead.StatusOpen}
	e.Load(other)
	close(release)
	require.ErrorIs(t, <-done, errServer)

	got, _ := e.Lead()
	assert.Equal(t, other, got)
	assert.False(t, e.HasError())
}

func TestEditor_SyncWithServer(t *testing.T) {
	e, gw, mc := newTestEditor(t)
	gw.On("UpdateAssignee", mock.Anything, "L1", "u-2").Return(nil, errServer).Once()
	require.Error(t, e.UpdateAssignee(context.Background(), "u-2"))
	require.NoError(t, e.UpdateLeadField(lead.FieldName, "Draft", time.Second))

	server := baseLead()
	server.Name = "Acme Holdings"
	gw.On("Get", mock.Anything, "L1").Return(&server, nil).Once()

	require.NoError(t, e.SyncWithServer(context.Background()))

	got, _ := e.Lead()
	assert.Equal(t, server, got)
	assert.False(t, e.HasError())
	assert.False(t, e.IsLoading())

	mc.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	gw.AssertNotCalled(t, "UpdateFields", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditor_SyncWithServerFailure(t *testing.T) {
	e, gw, _ := newTestEditor(t)
	gw.On("Get", mock.Anything, "L1").Return(nil, errServer).Once()

	require.ErrorIs(t, e.SyncWithServer(context.Background()), errServer)
	got, _ := e.Lead()
	assert.Equal(t, baseLead(), got)
	assert.EqualError(t, e.GetError(lead.CategoryLead), "Failed to sync lead: services unavailable")

	e.ClearError(lead.CategoryLead)
	assert.False(t, e.HasError())
}
