package persistence

import (
	"context"
	"errors"

	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/erp/crmsync/internal/domain/shared"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// GormLeadRepository implements lead.Repository using GORM
type GormLeadRepository struct {
	db *gorm.DB
}

var _ lead.Repository = (*GormLeadRepository)(nil)

// NewGormLeadRepository creates a new GormLeadRepository
func NewGormLeadRepository(db *gorm.DB) *GormLeadRepository {
	return &GormLeadRepository{db: db}
}

// FindByID finds a lead by its ID
func (r *GormLeadRepository) FindByID(ctx context.Context, id string) (*lead.Lead, error) {
	var l lead.Lead
	if err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// List returns leads matching filter, most recently updated first unless
// the filter names another sort column
func (r *GormLeadRepository) List(ctx context.Context, filter lead.Filter) ([]lead.Lead, error) {
	query := r.db.WithContext(ctx).Model(&lead.Lead{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ColumnID != "" {
		query = query.Where("column_id = ?", filter.ColumnID)
	}
	if filter.AssignedToUserID != "" {
		query = query.Where("assigned_to_user_id = ?", filter.AssignedToUserID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var leads []lead.Lead
	if err := query.Order(leadOrder(filter)).Order("id").Limit(limit).Find(&leads).Error; err != nil {
		return nil, err
	}
	return leads, nil
}

// Create inserts a new lead
func (r *GormLeadRepository) Create(ctx context.Context, l *lead.Lead) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// Save writes every column of an existing lead
func (r *GormLeadRepository) Save(ctx context.Context, l *lead.Lead) error {
	result := r.db.WithContext(ctx).
		Model(&lead.Lead{}).
		Where("id = ?", l.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(l)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Count returns the number of stored leads
func (r *GormLeadRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&lead.Lead{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
