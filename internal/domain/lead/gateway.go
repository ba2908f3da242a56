package lead

import "context"

// Gateway is the client-side view of the services layer for a single lead.
// Every successful call returns the authoritative lead as stored by the server.
type Gateway interface {
	Get(ctx context.Context, id string) (*Lead, error)
	UpdateAssignee(ctx context.Context, id, userID string) (*Lead, error)
	UpdateStatus(ctx context.Context, id string, status Status, reason string) (*Lead, error)
	MoveToColumn(ctx context.Context, id, columnID string) (*Lead, error)
	UpdateFields(ctx context.Context, id string, patch Patch) (*Lead, error)
}

// Filter narrows a lead listing
type Filter struct {
	Status           Status
	ColumnID         string
	AssignedToUserID string
	SortBy           string // column name; unknown names fall back to updated_at
	SortOrder        string // asc or desc
	Limit            int
}

// Repository persists leads on the services side
type Repository interface {
	FindByID(ctx context.Context, id string) (*Lead, error)
	List(ctx context.Context, filter Filter) ([]Lead, error)
	Create(ctx context.Context, l *Lead) error
	Save(ctx context.Context, l *Lead) error
	Count(ctx context.Context) (int64, error)
}
