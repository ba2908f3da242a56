package lead

import (
	"testing"

	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLead(t *testing.T) {
	t.Run("creates open lead", func(t *testing.T) {
		l, err := NewLead("  Acme renewal ")

		require.NoError(t, err)
		assert.NotEmpty(t, l.ID)
		assert.Equal(t, "Acme renewal", l.Name)
		assert.Equal(t, StatusOpen, l.Status)
		assert.True(t, l.Value.IsZero())
	})

	t.Run("fails with empty name", func(t *testing.T) {
		l, err := NewLead("   ")

		assert.Nil(t, l)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be empty")
	})
}

func TestLead_ChangeStatus(t *testing.T) {
	t.Run("lost keeps reason", func(t *testing.T) {
		l := Lead{ID: "L1", Status: StatusOpen}

		require.NoError(t, l.ChangeStatus(StatusLost, "price"))
		assert.Equal(t, StatusLost, l.Status)
		assert.Equal(t, "price", l.LostReason)
		assert.True(t, l.IsClosed())
	})

	t.Run("non-lost clears reason", func(t *testing.T) {
		l := Lead{ID: "L1", Status: StatusLost, LostReason: "price"}

		require.NoError(t, l.ChangeStatus(StatusQualified, "ignored"))
		assert.Equal(t, StatusQualified, l.Status)
		assert.Empty(t, l.LostReason)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		l := Lead{ID: "L1", Status: StatusOpen}

		err := l.ChangeStatus(Status("archived"), "")
		assert.ErrorIs(t, err, ErrInvalidStatus)
		assert.Equal(t, StatusOpen, l.Status)
	})
}

func TestLead_MoveToColumn(t *testing.T) {
	l := Lead{ID: "L1", ColumnID: "todo"}

	require.NoError(t, l.MoveToColumn("doing"))
	assert.Equal(t, "doing", l.ColumnID)

	err := l.MoveToColumn(" ")
	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "INVALID_COLUMN", de.Code)
	assert.Equal(t, "doing", l.ColumnID)
}

func TestLead_AssignTo(t *testing.T) {
	l := Lead{ID: "L1"}

	require.NoError(t, l.AssignTo("u-1"))
	assert.Equal(t, "u-1", l.AssignedToUserID)

	require.NoError(t, l.AssignTo(""))
	assert.Empty(t, l.AssignedToUserID)
}

func TestMutation_Revert(t *testing.T) {
	before := Lead{ID: "L1", Name: "Acme", Status: StatusOpen, AssignedToUserID: "u-1", ColumnID: "c1"}

	t.Run("assignee restores only the assignee", func(t *testing.T) {
		after := before
		after.AssignedToUserID = "u-2"
		current := after
		current.Name = "Acme Corp"

		got := NewMutation(KindAssignee, before, after).Revert(current)
		assert.Equal(t, "u-1", got.AssignedToUserID)
		assert.Equal(t, "Acme Corp", got.Name)
	})

	t.Run("status restores status and reason", func(t *testing.T) {
		after := before
		after.Status = StatusLost
		after.LostReason = "price"

		got := NewMutation(KindStatus, before, after).Revert(after)
		assert.Equal(t, StatusOpen, got.Status)
		assert.Empty(t, got.LostReason)
	})

	t.Run("column restores the column", func(t *testing.T) {
		after := before
		after.ColumnID = "c2"

		got := NewMutation(KindColumn, before, after).Revert(after)
		assert.Equal(t, "c1", got.ColumnID)
	})

	t.Run("field edit rolls back the whole lead", func(t *testing.T) {
		after := before
		after.Name = "Changed"
		after.Phone = "555"

		got := NewMutation(KindField, before, after).Revert(after)
		assert.Equal(t, before, got)
	})
}

func TestMutationKind_Category(t *testing.T) {
	assert.Equal(t, CategoryAssignee, KindAssignee.Category())
	assert.Equal(t, CategoryStatus, KindStatus.Category())
	assert.Equal(t, CategoryColumn, KindColumn.Category())
	assert.Equal(t, CategoryLead, KindField.Category())
}
