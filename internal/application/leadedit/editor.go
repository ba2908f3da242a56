// Package leadedit keeps the lead open in the detail view in sync with the
// services layer. Edits are applied locally first and rolled back per
// category when the server rejects them; inline field edits are debounced.
package leadedit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/erp/crmsync/internal/infrastructure/debounce"
	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ErrNoLead is returned when an edit is attempted before a lead is loaded
var ErrNoLead = shared.NewDomainError("NO_LEAD", "No lead loaded for editing")

// batchSuffix is the debounce key suffix for multi-field submissions
const batchSuffix = "batch"

// ErrorHandler receives failures of deferred writes, which have no caller
// left to return them to
type ErrorHandler func(category lead.Category, err error)

// Metrics receives mutation outcomes
type Metrics interface {
	MutationCommitted(category lead.Category)
	MutationRolledBack(category lead.Category)
	WriteCoalesced()
}

type nopMetrics struct{}

func (nopMetrics) MutationCommitted(lead.Category)  {}
func (nopMetrics) MutationRolledBack(lead.Category) {}
func (nopMetrics) WriteCoalesced()                  {}

// State is a consistent snapshot of the editor
type State struct {
	Lead    lead.Lead
	Loaded  bool
	Loading map[lead.Category]bool
	Errors  map[lead.Category]*MutationError
}

// Editor holds one lead under edit. Every state transition happens under its
// mutex; network calls run outside it.
type Editor struct {
	gateway  lead.Gateway
	writes   *debounce.Coalescer[lead.Patch]
	clock    clock.Clock
	logger   *zap.Logger
	metrics  Metrics
	onError  ErrorHandler
	debounce time.Duration
	baseCtx  context.Context

	mu      sync.Mutex
	current lead.Lead
	loaded  bool
	loading map[lead.Category]bool
	errors  map[lead.Category]*MutationError
	// snapshots holds one rollback slot per category. A second mutation of a
	// category started before the first resolves overwrites the slot, so a
	// failure of the first restores the state the second started from.
	// TODO: switch to a per-mutation sequence if nested undo is ever needed.
	snapshots map[lead.Category]lead.Mutation
	// pendingWrites counts field writes scheduled or in flight
	pendingWrites int
	// generation changes on Load; responses for an older generation are dropped
	generation uint64
}

// Option configures an Editor
type Option func(*Editor)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Editor) {
		e.logger = logger
	}
}

// WithClock sets the clock driving debounce timers
func WithClock(c clock.Clock) Option {
	return func(e *Editor) {
		e.clock = c
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(e *Editor) {
		e.metrics = m
	}
}

// WithErrorHandler sets the handler for deferred write failures
func WithErrorHandler(h ErrorHandler) Option {
	return func(e *Editor) {
		e.onError = h
	}
}

// WithDebounceDelay sets the delay used when an edit passes a non-positive one
func WithDebounceDelay(d time.Duration) Option {
	return func(e *Editor) {
		e.debounce = d
	}
}

// WithContext sets the context deferred writes run with
func WithContext(ctx context.Context) Option {
	return func(e *Editor) {
		e.baseCtx = ctx
	}
}

// NewEditor creates an editor persisting through gateway
func NewEditor(gateway lead.Gateway, opts ...Option) *Editor {
	e := &Editor{
		gateway:   gateway,
		clock:     clock.New(),
		logger:    zap.NewNop(),
		metrics:   nopMetrics{},
		onError:   func(lead.Category, error) {},
		debounce:  debounce.DefaultDelay,
		baseCtx:   context.Background(),
		loading:   make(map[lead.Category]bool),
		errors:    make(map[lead.Category]*MutationError),
		snapshots: make(map[lead.Category]lead.Mutation),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.writes = debounce.New[lead.Patch](
		debounce.WithClock(e.clock),
		debounce.WithLogger(e.logger.Named("debounce")),
		debounce.WithContext(e.baseCtx),
	)
	return e
}

// Load replaces the lead under edit. Pending writes for the previous lead are
// cancelled and in-flight responses for it will be ignored.
func (e *Editor) Load(l lead.Lead) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		e.writes.CancelPrefix(writePrefix(e.current.ID))
	}
	e.current = l
	e.loaded = true
	e.generation++
	e.pendingWrites = 0
	e.loading = make(map[lead.Category]bool)
	e.errors = make(map[lead.Category]*MutationError)
	e.snapshots = make(map[lead.Category]lead.Mutation)

	e.logger.Debug("Lead loaded", zap.String("lead_id", l.ID))
}

// Lead returns the lead as currently shown
func (e *Editor) Lead() (lead.Lead, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.loaded
}

// State returns a snapshot of the lead and its per-category flags
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		Lead:    e.current,
		Loaded:  e.loaded,
		Loading: make(map[lead.Category]bool, len(e.loading)),
		Errors:  make(map[lead.Category]*MutationError, len(e.errors)),
	}
	for c, v := range e.loading {
		st.Loading[c] = v
	}
	for c, v := range e.errors {
		st.Errors[c] = v
	}
	return st
}

// IsLoading reports whether any of categories has a mutation in flight.
// With no categories it checks all of them.
func (e *Editor) IsLoading(categories ...lead.Category) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(categories) == 0 {
		categories = lead.Categories()
	}
	for _, c := range categories {
		if e.loading[c] {
			return true
		}
	}
	return false
}

// HasError reports whether any of categories holds an error.
// With no categories it checks all of them.
func (e *Editor) HasError(categories ...lead.Category) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(categories) == 0 {
		categories = lead.Categories()
	}
	for _, c := range categories {
		if e.errors[c] != nil {
			return true
		}
	}
	return false
}

// GetError returns the error of category, or nil
func (e *Editor) GetError(category lead.Category) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.errors[category]; err != nil {
		return err
	}
	return nil
}

// ClearError dismisses the error of category
func (e *Editor) ClearError(category lead.Category) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.errors, category)
}

// UpdateAssignee assigns the lead to userID
func (e *Editor) UpdateAssignee(ctx context.Context, userID string) error {
	return e.mutate(ctx, lead.KindAssignee,
		func(l *lead.Lead) error { return l.AssignTo(userID) },
		func(ctx context.Context, id string) (*lead.Lead, error) {
			return e.gateway.UpdateAssignee(ctx, id, userID)
		})
}

// UpdateStatus moves the lead to status; reason is kept for lost leads
func (e *Editor) UpdateStatus(ctx context.Context, status lead.Status, reason string) error {
	return e.mutate(ctx, lead.KindStatus,
		func(l *lead.Lead) error { return l.ChangeStatus(status, reason) },
		func(ctx context.Context, id string) (*lead.Lead, error) {
			return e.gateway.UpdateStatus(ctx, id, status, reason)
		})
}

// MoveToColumn places the lead in a board column
func (e *Editor) MoveToColumn(ctx context.Context, columnID string) error {
	return e.mutate(ctx, lead.KindColumn,
		func(l *lead.Lead) error { return l.MoveToColumn(columnID) },
		func(ctx context.Context, id string) (*lead.Lead, error) {
			return e.gateway.MoveToColumn(ctx, id, columnID)
		})
}

// mutate runs one optimistic mutation: apply locally, call the server, then
// commit its response or roll the category back.
func (e *Editor) mutate(
	ctx context.Context,
	kind lead.MutationKind,
	apply func(*lead.Lead) error,
	call func(ctx context.Context, id string) (*lead.Lead, error),
) error {
	category := kind.Category()

	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNoLead
	}
	before := e.current
	after := before
	if err := apply(&after); err != nil {
		e.mu.Unlock()
		return err
	}
	e.snapshots[category] = lead.NewMutation(kind, before, after)
	e.current = after
	e.loading[category] = true
	delete(e.errors, category)
	id, gen := after.ID, e.generation
	e.mu.Unlock()

	ctx, span := telemetry.StartServiceSpan(ctx, "leadedit", string(kind),
		telemetry.WithAttribute(telemetry.SpanAttrLeadID, id),
		telemetry.WithAttribute(telemetry.SpanAttrKind, string(kind)),
	)
	defer span.End()

	updated, err := call(ctx, id)
	if err == nil && updated == nil {
		err = errEmptyResponse
	}
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		e.logger.Debug("Ignoring response for a lead no longer under edit",
			zap.String("lead_id", id),
			zap.String("category", string(category)))
		return err
	}

	if err != nil {
		e.rollback(category)
		e.loading[category] = false
		e.errors[category] = newMutationError(category, err)
		e.metrics.MutationRolledBack(category)
		e.logger.Warn("Mutation rolled back",
			zap.String("lead_id", id),
			zap.String("category", string(category)),
			zap.Error(err))
		return err
	}

	e.current = e.withPendingEdits(*updated)
	delete(e.snapshots, category)
	e.loading[category] = false
	e.metrics.MutationCommitted(category)
	return nil
}

// rollback restores category from its snapshot slot. The slot holds the
// latest mutation of the category, so after two overlapping mutations the
// state before the first one is not recoverable. Caller holds e.mu.
func (e *Editor) rollback(category lead.Category) {
	snap, ok := e.snapshots[category]
	if !ok {
		e.logger.Warn("No snapshot to roll back", zap.String("category", string(category)))
		return
	}
	e.current = snap.Revert(e.current)
	delete(e.snapshots, category)
}

// withPendingEdits re-applies field edits still waiting on their debounce
// timers onto a lead received from the server. Caller holds e.mu.
func (e *Editor) withPendingEdits(l lead.Lead) lead.Lead {
	pending := e.writes.PendingPayloads(writePrefix(l.ID))
	if len(pending) == 0 {
		return l
	}
	merged := lead.Patch{}
	for _, p := range pending {
		merged = merged.Merge(p)
	}
	out, err := merged.Apply(l)
	if err != nil {
		e.logger.Warn("Dropping pending edits that no longer apply", zap.Error(err))
		return l
	}
	return out
}

// SyncWithServer discards pending edits and reloads the lead from the
// services layer.
func (e *Editor) SyncWithServer(ctx context.Context) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNoLead
	}
	e.cancelPendingLocked()
	id, gen := e.current.ID, e.generation
	e.loading[lead.CategoryLead] = true
	e.mu.Unlock()

	fresh, err := e.gateway.Get(ctx, id)
	if err == nil && fresh == nil {
		err = errEmptyResponse
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		return err
	}
	e.loading[lead.CategoryLead] = e.pendingWrites > 0
	if err != nil {
		e.errors[lead.CategoryLead] = &MutationError{Category: lead.CategoryLead, Message: "Failed to sync lead", Err: err}
		e.logger.Warn("Lead sync failed", zap.String("lead_id", id), zap.Error(err))
		return err
	}
	e.current = *fresh
	e.errors = make(map[lead.Category]*MutationError)
	return nil
}

func writePrefix(id string) string {
	return id + ":"
}
