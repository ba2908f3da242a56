package lead

import "github.com/erp/crmsync/internal/domain/shared"

// Lead domain errors
var (
	ErrInvalidStatus     = shared.NewDomainError("INVALID_STATUS", "Invalid lead status")
	ErrInvalidField      = shared.NewDomainError("INVALID_FIELD", "Field cannot be edited")
	ErrInvalidFieldValue = shared.NewDomainError("INVALID_FIELD_VALUE", "Invalid value for field")
)
