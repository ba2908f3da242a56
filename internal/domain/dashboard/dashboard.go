// Package dashboard holds the read models shown on the CRM dashboard.
package dashboard

import (
	"context"

	"github.com/shopspring/decimal"
)

// Period selects the time window the dashboard statistics cover
type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodAll     Period = "all"
)

// IsValid reports whether p is a known period
func (p Period) IsValid() bool {
	switch p {
	case PeriodWeek, PeriodMonth, PeriodQuarter, PeriodAll:
		return true
	}
	return false
}

// Stats is the headline numbers block of the dashboard
type Stats struct {
	Period         Period          `json:"period"`
	TotalLeads     int64           `json:"total_leads"`
	OpenLeads      int64           `json:"open_leads"`
	WonLeads       int64           `json:"won_leads"`
	LostLeads      int64           `json:"lost_leads"`
	PipelineValue  decimal.Decimal `json:"pipeline_value"`
	WonValue       decimal.Decimal `json:"won_value"`
	ConversionRate decimal.Decimal `json:"conversion_rate"` // Won / (won + lost), 0 when nothing closed
}

// PipelineColumn aggregates the leads sitting in one board column
type PipelineColumn struct {
	ColumnID string          `json:"column_id"`
	Count    int64           `json:"count"`
	Value    decimal.Decimal `json:"value"`
}

// StatusCount aggregates leads by status
type StatusCount struct {
	Status string          `json:"status"`
	Count  int64           `json:"count"`
	Value  decimal.Decimal `json:"value"`
}

// ConversionRate returns won / (won + lost) rounded to four places
func ConversionRate(won, lost int64) decimal.Decimal {
	closed := won + lost
	if closed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(won).DivRound(decimal.NewFromInt(closed), 4)
}

// Repository computes dashboard aggregates on the services side
type Repository interface {
	Stats(ctx context.Context, period Period) (*Stats, error)
	Pipeline(ctx context.Context) ([]PipelineColumn, error)
	StatusBreakdown(ctx context.Context) ([]StatusCount, error)
}
