package lead

// Category groups mutations that share a loading flag, an error slot and a
// rollback snapshot in the editor. Categories are coarser than fields: every
// inline text edit belongs to CategoryLead.
type Category string

const (
	CategoryLead     Category = "lead"
	CategoryAssignee Category = "assignee"
	CategoryStatus   Category = "status"
	CategoryColumn   Category = "column"
)

// Categories returns every mutation category
func Categories() []Category {
	return []Category{CategoryLead, CategoryAssignee, CategoryStatus, CategoryColumn}
}

// MutationKind tags the variant of a Mutation
type MutationKind string

const (
	KindAssignee MutationKind = "assignee"
	KindStatus   MutationKind = "status"
	KindColumn   MutationKind = "column"
	KindField    MutationKind = "field"
)

// Category returns the category a kind of mutation is tracked under
func (k MutationKind) Category() Category {
	switch k {
	case KindAssignee:
		return CategoryAssignee
	case KindStatus:
		return CategoryStatus
	case KindColumn:
		return CategoryColumn
	default:
		return CategoryLead
	}
}

// Mutation records an optimistic change: the lead before it was applied and
// the lead right after.
type Mutation struct {
	Kind   MutationKind
	Before Lead
	After  Lead
}

// NewMutation creates a mutation of kind from before to after
func NewMutation(kind MutationKind, before, after Lead) Mutation {
	return Mutation{Kind: kind, Before: before, After: after}
}

// Category returns the category the mutation is tracked under
func (m Mutation) Category() Category {
	return m.Kind.Category()
}

// Revert restores the fields the mutation touched onto current and returns
// the result. Fields outside the mutation keep their current values, except
// for field edits, which roll the whole entity back.
func (m Mutation) Revert(current Lead) Lead {
	switch m.Kind {
	case KindAssignee:
		current.AssignedToUserID = m.Before.AssignedToUserID
	case KindStatus:
		current.Status = m.Before.Status
		current.LostReason = m.Before.LostReason
	case KindColumn:
		current.ColumnID = m.Before.ColumnID
	default:
		return m.Before
	}
	return current
}
