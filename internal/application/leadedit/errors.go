package leadedit

import (
	"errors"

	"github.com/erp/crmsync/internal/domain/lead"
)

var errEmptyResponse = errors.New("empty response from services")

var categoryMessages = map[lead.Category]string{
	lead.CategoryLead:     "Failed to save changes",
	lead.CategoryAssignee: "Failed to update assignee",
	lead.CategoryStatus:   "Failed to update status",
	lead.CategoryColumn:   "Failed to move lead",
}

// MutationError is the user-facing error kept for a category after a
// rollback. The services error stays reachable through Unwrap.
type MutationError struct {
	Category lead.Category
	Message  string
	Err      error
}

func newMutationError(category lead.Category, err error) *MutationError {
	msg, ok := categoryMessages[category]
	if !ok {
		msg = "Update failed"
	}
	return &MutationError{Category: category, Message: msg, Err: err}
}

// Error implements the error interface
func (e *MutationError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *MutationError) Unwrap() error {
	return e.Err
}
