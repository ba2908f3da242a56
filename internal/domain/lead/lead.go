package lead

import (
	"net/mail"
	"strings"
	"time"

	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the pipeline status of a lead
type Status string

const (
	StatusOpen      Status = "open"
	StatusContacted Status = "contacted"
	StatusQualified Status = "qualified"
	StatusWon       Status = "won"
	StatusLost      Status = "lost" // Requires a lost reason
)

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusContacted, StatusQualified, StatusWon, StatusLost:
		return true
	}
	return false
}

// Statuses returns every status in pipeline order
func Statuses() []Status {
	return []Status{StatusOpen, StatusContacted, StatusQualified, StatusWon, StatusLost}
}

// Lead is the sales prospect edited in the CRM detail view.
// The client keeps a single Lead in memory while it is being edited; the
// services layer owns the persisted copy.
type Lead struct {
	ID               string          `json:"id" gorm:"type:varchar(64);primaryKey"`
	Name             string          `json:"name" gorm:"type:varchar(200);not null"`
	Email            string          `json:"email,omitempty" gorm:"type:varchar(200);index"`
	Phone            string          `json:"phone,omitempty" gorm:"type:varchar(50)"`
	Company          string          `json:"company,omitempty" gorm:"type:varchar(200)"`
	Source           string          `json:"source,omitempty" gorm:"type:varchar(100)"`
	Notes            string          `json:"notes,omitempty" gorm:"type:text"`
	Value            decimal.Decimal `json:"value" gorm:"type:decimal(18,4);not null;default:0"`
	Status           Status          `json:"status" gorm:"type:varchar(20);not null;default:'open';index"`
	LostReason       string          `json:"lost_reason,omitempty" gorm:"type:varchar(200)"`
	AssignedToUserID string          `json:"assigned_to_user_id,omitempty" gorm:"type:varchar(64);index"`
	ColumnID         string          `json:"column_id,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName returns the table name for GORM
func (Lead) TableName() string {
	return "leads"
}

// NewLead creates an open lead with a generated id
func NewLead(name string) (*Lead, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &Lead{
		ID:     uuid.New().String(),
		Name:   strings.TrimSpace(name),
		Status: StatusOpen,
		Value:  decimal.Zero,
	}, nil
}

// AssignTo changes the owning user. An empty id unassigns the lead.
func (l *Lead) AssignTo(userID string) error {
	if len(userID) > 64 {
		return shared.NewDomainError("INVALID_ASSIGNEE", "Assignee id cannot exceed 64 characters")
	}
	l.AssignedToUserID = userID
	return nil
}

// ChangeStatus moves the lead to status. The lost reason is only kept for
// lost leads.
func (l *Lead) ChangeStatus(status Status, reason string) error {
	if !status.IsValid() {
		return ErrInvalidStatus
	}
	if status == StatusLost {
		if len(reason) > 200 {
			return shared.NewDomainError("INVALID_LOST_REASON", "Lost reason cannot exceed 200 characters")
		}
		l.LostReason = reason
	} else {
		l.LostReason = ""
	}
	l.Status = status
	return nil
}

// MoveToColumn places the lead in a board column
func (l *Lead) MoveToColumn(columnID string) error {
	if strings.TrimSpace(columnID) == "" {
		return shared.NewDomainError("INVALID_COLUMN", "Column id cannot be empty")
	}
	l.ColumnID = columnID
	return nil
}

// IsClosed reports whether the lead left the pipeline
func (l Lead) IsClosed() bool {
	return l.Status == StatusWon || l.Status == StatusLost
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return shared.NewDomainError("INVALID_NAME", "Lead name cannot be empty")
	}
	if len(name) > 200 {
		return shared.NewDomainError("INVALID_NAME", "Lead name cannot exceed 200 characters")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return shared.NewDomainError("INVALID_EMAIL", "Invalid email format")
	}
	return nil
}
