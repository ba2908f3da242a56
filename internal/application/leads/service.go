// Package leads holds the services-side use cases behind the lead REST API.
package leads

import (
	"context"
	"fmt"

	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SnapshotPublisher refreshes precomputed dashboard data after a write
type SnapshotPublisher interface {
	Publish(ctx context.Context) error
}

// PublisherFunc adapts a function to SnapshotPublisher
type PublisherFunc func(ctx context.Context) error

// Publish calls f
func (f PublisherFunc) Publish(ctx context.Context) error {
	return f(ctx)
}

// CreateLeadInput carries the fields accepted when creating a lead
type CreateLeadInput struct {
	Name             string
	Email            string
	Phone            string
	Company          string
	Source           string
	Notes            string
	Value            decimal.Decimal
	AssignedToUserID string
	ColumnID         string
}

// Service applies lead writes through the domain model and persists them
type Service struct {
	repo      lead.Repository
	publisher SnapshotPublisher
	logger    *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithPublisher publishes dashboard snapshots after every successful write
func WithPublisher(p SnapshotPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new Service
func NewService(repo lead.Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads a lead by id
func (s *Service) Get(ctx context.Context, id string) (*lead.Lead, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns leads matching filter and the total number of leads
func (s *Service) List(ctx context.Context, filter lead.Filter) ([]lead.Lead, int64, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, lead.ErrInvalidStatus
	}
	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Create validates and stores a new open lead
func (s *Service) Create(ctx context.Context, in CreateLeadInput) (*lead.Lead, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "leads", "create")
	defer span.End()

	l, err := lead.NewLead(in.Name)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	patch := lead.Patch{
		lead.FieldEmail:   in.Email,
		lead.FieldPhone:   in.Phone,
		lead.FieldCompany: in.Company,
		lead.FieldSource:  in.Source,
		lead.FieldNotes:   in.Notes,
		lead.FieldValue:   in.Value,
	}
	updated, err := patch.Apply(*l)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	l = &updated
	if err := l.AssignTo(in.AssignedToUserID); err != nil {
		return nil, err
	}
	if in.ColumnID != "" {
		if err := l.MoveToColumn(in.ColumnID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, l); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrLeadID, l.ID)
	telemetry.SetOK(span)

	s.logger.Info("Lead created", zap.String("lead_id", l.ID))
	s.publish(ctx)
	return l, nil
}

// UpdateFields applies an inline edit patch
func (s *Service) UpdateFields(ctx context.Context, id string, patch lead.Patch) (*lead.Lead, error) {
	return s.update(ctx, id, lead.KindField, func(l *lead.Lead) error {
		updated, err := patch.Apply(*l)
		if err != nil {
			return err
		}
		*l = updated
		return nil
	})
}

// Assign changes the owning user; an empty id unassigns
func (s *Service) Assign(ctx context.Context, id, userID string) (*lead.Lead, error) {
	return s.update(ctx, id, lead.KindAssignee, func(l *lead.Lead) error {
		return l.AssignTo(userID)
	})
}

// ChangeStatus moves the lead to status
func (s *Service) ChangeStatus(ctx context.Context, id string, status lead.Status, reason string) (*lead.Lead, error) {
	return s.update(ctx, id, lead.KindStatus, func(l *lead.Lead) error {
		return l.ChangeStatus(status, reason)
	})
}

// MoveToColumn places the lead in a board column
func (s *Service) MoveToColumn(ctx context.Context, id, columnID string) (*lead.Lead, error) {
	return s.update(ctx, id, lead.KindColumn, func(l *lead.Lead) error {
		return l.MoveToColumn(columnID)
	})
}

// update loads the lead, applies mutate and saves the result
func (s *Service) update(ctx context.Context, id string, kind lead.MutationKind, mutate func(*lead.Lead) error) (*lead.Lead, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "leads", "update_"+string(kind),
		telemetry.WithAttribute(telemetry.SpanAttrLeadID, id),
		telemetry.WithAttribute(telemetry.SpanAttrKind, string(kind)),
	)
	defer span.End()

	l, err := s.repo.FindByID(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := mutate(l); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.repo.Save(ctx, l); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetOK(span)

	s.logger.Debug("Lead updated", zap.String("lead_id", id), zap.String("kind", string(kind)))
	s.publish(ctx)
	return l, nil
}

// publish refreshes dashboard snapshots. Failures are logged, the write
// already succeeded.
func (s *Service) publish(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx); err != nil {
		s.logger.Warn("Failed to publish dashboard snapshots", zap.Error(err))
	}
}
