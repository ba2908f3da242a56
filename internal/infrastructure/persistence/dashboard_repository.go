package persistence

import (
	"context"
	"time"

	"github.com/erp/crmsync/internal/domain/dashboard"
	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// periodWindows maps a period to how far back its leads were created
var periodWindows = map[dashboard.Period]time.Duration{
	dashboard.PeriodWeek:    7 * 24 * time.Hour,
	dashboard.PeriodMonth:   30 * 24 * time.Hour,
	dashboard.PeriodQuarter: 90 * 24 * time.Hour,
}

// GormDashboardRepository computes dashboard aggregates over the leads table
type GormDashboardRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ dashboard.Repository = (*GormDashboardRepository)(nil)

// NewGormDashboardRepository creates a new GormDashboardRepository
func NewGormDashboardRepository(db *gorm.DB) *GormDashboardRepository {
	return &GormDashboardRepository{db: db, now: time.Now}
}

type statusRow struct {
	Status string
	Count  int64
	Value  decimal.Decimal
}

type columnRow struct {
	ColumnID string
	Count    int64
	Value    decimal.Decimal
}

func (r *GormDashboardRepository) statusRows(ctx context.Context, since time.Time) ([]statusRow, error) {
	query := r.db.WithContext(ctx).
		Model(&lead.Lead{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(value), 0) AS value")
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}

	var rows []statusRow
	if err := query.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Stats returns the headline numbers for leads created within period.
// Unknown periods cover all leads.
func (r *GormDashboardRepository) Stats(ctx context.Context, period dashboard.Period) (*dashboard.Stats, error) {
	var since time.Time
	if window, ok := periodWindows[period]; ok {
		since = r.now().Add(-window)
	}

	rows, err := r.statusRows(ctx, since)
	if err != nil {
		return nil, err
	}

	stats := &dashboard.Stats{
		Period:        period,
		PipelineValue: decimal.Zero,
		WonValue:      decimal.Zero,
	}
	for _, row := range rows {
		stats.TotalLeads += row.Count
		switch lead.Status(row.Status) {
		case lead.StatusWon:
			stats.WonLeads += row.Count
			stats.WonValue = stats.WonValue.Add(row.Value)
		case lead.StatusLost:
			stats.LostLeads += row.Count
		default:
			stats.OpenLeads += row.Count
			stats.PipelineValue = stats.PipelineValue.Add(row.Value)
		}
	}
	stats.ConversionRate = dashboard.ConversionRate(stats.WonLeads, stats.LostLeads)
	return stats, nil
}

// Pipeline aggregates open leads per board column
func (r *GormDashboardRepository) Pipeline(ctx context.Context) ([]dashboard.PipelineColumn, error) {
	var rows []columnRow
	err := r.db.WithContext(ctx).
		Model(&lead.Lead{}).
		Select("column_id, COUNT(*) AS count, COALESCE(SUM(value), 0) AS value").
		Where("status NOT IN ?", []lead.Status{lead.StatusWon, lead.StatusLost}).
		Group("column_id").
		Order("column_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	columns := make([]dashboard.PipelineColumn, 0, len(rows))
	for _, row := range rows {
		columns = append(columns, dashboard.PipelineColumn{
			ColumnID: row.ColumnID,
			Count:    row.Count,
			Value:    row.Value,
		})
	}
	return columns, nil
}

// StatusBreakdown returns one entry per status in pipeline order, including
// statuses without leads
func (r *GormDashboardRepository) StatusBreakdown(ctx context.Context) ([]dashboard.StatusCount, error) {
	rows, err := r.statusRows(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	byStatus := make(map[string]statusRow, len(rows))
	for _, row := range rows {
		byStatus[row.Status] = row
	}

	breakdown := make([]dashboard.StatusCount, 0, len(lead.Statuses()))
	for _, s := range lead.Statuses() {
		row, ok := byStatus[string(s)]
		if !ok {
			row = statusRow{Value: decimal.Zero}
		}
		breakdown = append(breakdown, dashboard.StatusCount{
			Status: string(s),
			Count:  row.Count,
			Value:  row.Value,
		})
	}
	return breakdown, nil
}
