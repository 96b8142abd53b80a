package limits

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.NoError(t, Validate())
}

func TestGetReturnsCopy(t *testing.T) {
	a := Get()
	a.MaxOpenPositions = 999
	a.MaxRiskPerTradePct = decimal.NewFromInt(100)

	b := Get()
	assert.Equal(t, MaxOpenPositions, b.MaxOpenPositions)
	assert.True(t, b.MaxRiskPerTradePct.Equal(decimal.NewFromFloat(MaxRiskPerTradePct)))
}

func TestCapsAreConsistent(t *testing.T) {
	l := Get()
	// The daily loss cap must leave room for at least one max-risk trade.
	assert.True(t, l.MaxDailyLossPct.GreaterThanOrEqual(l.MaxRiskPerTradePct))
	assert.True(t, l.EmergencyDrawdownPct.GreaterThan(l.MaxDailyLossPct))
	assert.LessOrEqual(t, l.MaxTradesPerHour, l.MaxTradesPerDay)
}
