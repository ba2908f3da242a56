package leadedit

import (
	"context"
	"time"

	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// UpdateLeadField shows value immediately and persists it after delay of
// inactivity on the same field. A non-positive delay uses the editor default.
func (e *Editor) UpdateLeadField(field lead.Field, value any, delay time.Duration) error {
	patch := lead.Patch{}
	if err := patch.Set(field, value); err != nil {
		return err
	}
	return e.scheduleFields(string(field), patch, delay, func(_ lead.Patch, _ bool) lead.Patch {
		return patch
	})
}

// UpdateLeadFields applies several fields at once. Successive calls inside
// the delay are merged, later values winning.
func (e *Editor) UpdateLeadFields(patch lead.Patch, delay time.Duration) error {
	if len(patch) == 0 {
		return nil
	}
	return e.scheduleFields(batchSuffix, patch, delay, func(pending lead.Patch, ok bool) lead.Patch {
		if !ok {
			return patch
		}
		return pending.Merge(patch)
	})
}

func (e *Editor) scheduleFields(suffix string, patch lead.Patch, delay time.Duration, merge func(lead.Patch, bool) lead.Patch) error {
	if delay <= 0 {
		delay = e.debounce
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return ErrNoLead
	}
	next, err := patch.Apply(e.current)
	if err != nil {
		return err
	}

	// The first edit of a burst owns the rollback point for the whole burst.
	if _, ok := e.snapshots[lead.CategoryLead]; !ok {
		e.snapshots[lead.CategoryLead] = lead.NewMutation(lead.KindField, e.current, next)
	}
	e.current = next
	e.loading[lead.CategoryLead] = true
	delete(e.errors, lead.CategoryLead)

	key := writePrefix(next.ID) + suffix
	if e.writes.Pending(key) {
		e.metrics.WriteCoalesced()
	} else {
		e.pendingWrites++
	}

	id, gen := next.ID, e.generation
	e.writes.Update(key, merge, delay, func(ctx context.Context, p lead.Patch) error {
		return e.persistFields(ctx, gen, id, p)
	})
	return nil
}

// persistFields runs when a debounce timer fires
func (e *Editor) persistFields(ctx context.Context, gen uint64, id string, patch lead.Patch) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "leadedit", "fields",
		telemetry.WithAttribute(telemetry.SpanAttrLeadID, id),
		telemetry.WithAttribute(telemetry.SpanAttrKind, string(lead.KindField)),
	)
	defer span.End()

	updated, err := e.gateway.UpdateFields(ctx, id, patch)
	if err == nil && updated == nil {
		err = errEmptyResponse
	}
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return err
	}
	if e.pendingWrites > 0 {
		e.pendingWrites--
	}

	if err != nil {
		e.rollback(lead.CategoryLead)
		// Edits queued behind the failed one were built on the rolled back
		// state and are dropped with it.
		e.pendingWrites -= e.writes.CancelPrefix(writePrefix(id))
		if e.pendingWrites < 0 {
			e.pendingWrites = 0
		}
		e.loading[lead.CategoryLead] = e.pendingWrites > 0
		mutErr := newMutationError(lead.CategoryLead, err)
		e.errors[lead.CategoryLead] = mutErr
		e.metrics.MutationRolledBack(lead.CategoryLead)
		onError := e.onError
		e.mu.Unlock()

		e.logger.Warn("Field update rolled back",
			zap.String("lead_id", id),
			zap.Strings("fields", fieldNames(patch)),
			zap.Error(err))
		onError(lead.CategoryLead, mutErr)
		return err
	}

	e.current = e.withPendingEdits(*updated)
	if e.pendingWrites == 0 {
		delete(e.snapshots, lead.CategoryLead)
		e.loading[lead.CategoryLead] = false
	} else {
		// Later writes of the burst roll back to what the server committed.
		e.snapshots[lead.CategoryLead] = lead.NewMutation(lead.KindField, *updated, e.current)
	}
	e.metrics.MutationCommitted(lead.CategoryLead)
	e.mu.Unlock()
	return nil
}

// CancelPendingUpdates drops field edits still waiting on their timers. The
// values stay in the local lead; nothing is rolled back.
func (e *Editor) CancelPendingUpdates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelPendingLocked()
}

// cancelPendingLocked must be called with e.mu held
func (e *Editor) cancelPendingLocked() int {
	if !e.loaded {
		return 0
	}
	n := e.writes.CancelPrefix(writePrefix(e.current.ID))
	e.pendingWrites = 0
	delete(e.snapshots, lead.CategoryLead)
	e.loading[lead.CategoryLead] = false
	if n > 0 {
		e.logger.Debug("Pending field updates cancelled",
			zap.String("lead_id", e.current.ID),
			zap.Int("count", n))
	}
	return n
}

// Flush persists every pending field edit now and waits for the writes
func (e *Editor) Flush() {
	e.writes.Flush()
}

// Close cancels pending edits and waits for running writes
func (e *Editor) Close() error {
	return e.writes.Close()
}

func fieldNames(p lead.Patch) []string {
	fields := p.Fields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
