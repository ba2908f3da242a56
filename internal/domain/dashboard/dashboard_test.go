package dashboard

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestConversionRate(t *testing.T) {
	assert.True(t, ConversionRate(0, 0).IsZero())
	assert.True(t, ConversionRate(1, 3).Equal(decimal.RequireFromString("0.25")))
	assert.True(t, ConversionRate(2, 1).Equal(decimal.RequireFromString("0.6667")))
}

func TestPeriod_IsValid(t *testing.T) {
	for _, p := range []Period{PeriodWeek, PeriodMonth, PeriodQuarter, PeriodAll} {
		assert.True(t, p.IsValid(), p)
	}
	assert.False(t, Period("decade").IsValid())
}
