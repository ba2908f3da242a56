package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/crmsync/internal/domain/dashboard"
	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormDashboardRepository(t *testing.T) {
	ctx := context.Background()
	db := setupLeadTestDB(t)
	leads := NewGormLeadRepository(db)
	repo := NewGormDashboardRepository(db)

	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	seed := []struct {
		name    string
		status  lead.Status
		column  string
		value   int64
		created time.Duration
	}{
		{"open recent", lead.StatusOpen, "col-new", 1000, 2 * 24 * time.Hour},
		{"qualified recent", lead.StatusQualified, "col-proposal", 3000, 3 * 24 * time.Hour},
		{"won recent", lead.StatusWon, "col-closed", 5000, 4 * 24 * time.Hour},
		{"lost mid", lead.StatusLost, "col-closed", 700, 20 * 24 * time.Hour},
		{"open old", lead.StatusOpen, "col-new", 250, 60 * 24 * time.Hour},
		{"won ancient", lead.StatusWon, "col-closed", 9000, 200 * 24 * time.Hour},
	}
	for _, s := range seed {
		l := newTestLead(t, s.name, s.status, s.column)
		l.Value = decimal.NewFromInt(s.value)
		l.CreatedAt = now.Add(-s.created)
		require.NoError(t, leads.Create(ctx, l))
	}

	t.Run("stats per period", func(t *testing.T) {
		tests := []struct {
			period             dashboard.Period
			total, open, won   int64
			lost               int64
			pipeline, wonValue int64
			conversion         string
		}{
			{dashboard.PeriodWeek, 3, 2, 1, 0, 4000, 5000, "1"},
			{dashboard.PeriodMonth, 4, 2, 1, 1, 4000, 5000, "0.5"},
			{dashboard.PeriodQuarter, 5, 3, 1, 1, 4250, 5000, "0.5"},
			{dashboard.PeriodAll, 6, 3, 2, 1, 4250, 14000, "0.6667"},
		}
		for _, tt := range tests {
			t.Run(string(tt.period), func(t *testing.T) {
				stats, err := repo.Stats(ctx, tt.period)
				require.NoError(t, err)

				assert.Equal(t, tt.period, stats.Period)
				assert.Equal(t, tt.total, stats.TotalLeads)
				assert.Equal(t, tt.open, stats.OpenLeads)
				assert.Equal(t, tt.won, stats.WonLeads)
				assert.Equal(t, tt.lost, stats.LostLeads)
				assert.True(t, decimal.NewFromInt(tt.pipeline).Equal(stats.PipelineValue), "pipeline %s", stats.PipelineValue)
				assert.True(t, decimal.NewFromInt(tt.wonValue).Equal(stats.WonValue), "won %s", stats.WonValue)
				assert.True(t, decimal.RequireFromString(tt.conversion).Equal(stats.ConversionRate), "conversion %s", stats.ConversionRate)
			})
		}
	})

	t.Run("pipeline excludes closed leads", func(t *testing.T) {
		columns, err := repo.Pipeline(ctx)
		require.NoError(t, err)
		require.Len(t, columns, 2)

		assert.Equal(t, "col-new", columns[0].ColumnID)
		assert.Equal(t, int64(2), columns[0].Count)
		assert.True(t, decimal.NewFromInt(1250).Equal(columns[0].Value))

		assert.Equal(t, "col-proposal", columns[1].ColumnID)
		assert.Equal(t, int64(1), columns[1].Count)
	})

	t.Run("status breakdown lists every status", func(t *testing.T) {
		breakdown, err := repo.StatusBreakdown(ctx)
		require.NoError(t, err)
		require.Len(t, breakdown, len(lead.Statuses()))

		got := make(map[string]int64)
		for i, sc := range breakdown {
			assert.Equal(t, string(lead.Statuses()[i]), sc.Status)
			got[sc.Status] = sc.Count
		}
		assert.Equal(t, map[string]int64{
			"open": 2, "contacted": 0, "qualified": 1, "won": 2, "lost": 1,
		}, got)
		assert.True(t, decimal.NewFromInt(14000).Equal(breakdown[3].Value))
		assert.True(t, breakdown[1].Value.IsZero())
	})
}

func TestGormDashboardRepository_Empty(t *testing.T) {
	repo := NewGormDashboardRepository(setupLeadTestDB(t))

	stats, err := repo.Stats(context.Background(), dashboard.PeriodAll)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalLeads)
	assert.True(t, stats.ConversionRate.IsZero())
	assert.True(t, stats.PipelineValue.IsZero())

	columns, err := repo.Pipeline(context.Background())
	require.NoError(t, err)
	assert.Empty(t, columns)
}
