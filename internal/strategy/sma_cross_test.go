package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/guardrail/internal/types"
)

func candle(price float64, at time.Time) types.Candle {
	p := decimal.NewFromFloat(price)
	return types.Candle{
		Symbol:    "EURUSD",
		Open:      p,
		High:      p,
		Low:       p,
		Close:     p,
		OpenTime:  at,
		CloseTime: at.Add(time.Minute),
	}
}

func feed(s *SMACross, prices []float64) *types.Signal {
	at := time.Now().UTC().Add(-time.Duration(len(prices)) * time.Minute)
	var last *types.Signal
	for i, p := range prices {
		if sig := s.OnCandle(candle(p, at.Add(time.Duration(i)*time.Minute))); sig != nil {
			last = sig
		}
	}
	return last
}

func TestGoldenCrossEmitsLong(t *testing.T) {
	s := NewSMACross("u1")
	s.fastPeriod = 2
	s.slowPeriod = 4
	s.cooldown = 0

	// Flat, then a sharp rally pulls the fast average over the slow one.
	sig := feed(s, []float64{100, 100, 100, 100, 100, 104, 108})
	require.NotNil(t, sig)
	assert.Equal(t, types.SideLong, sig.Side)
	assert.Equal(t, "sma_cross", sig.StrategyName)
	assert.Equal(t, types.SignalPending, sig.Status)
	assert.True(t, sig.StopLoss.LessThan(sig.Entry))
	assert.True(t, sig.TakeProfit.GreaterThan(sig.Entry))
	assert.True(t, sig.RiskReward.GreaterThanOrEqual(decimal.NewFromFloat(1.5)))
}

func TestDeathCrossEmitsShort(t *testing.T) {
	s := NewSMACross("u1")
	s.fastPeriod = 2
	s.slowPeriod = 4
	s.cooldown = 0

	sig := feed(s, []float64{100, 100, 100, 100, 100, 96, 92})
	require.NotNil(t, sig)
	assert.Equal(t, types.SideShort, sig.Side)
	assert.True(t, sig.StopLoss.GreaterThan(sig.Entry))
	assert.True(t, sig.TakeProfit.LessThan(sig.Entry))
}

func TestNoSignalWithoutCross(t *testing.T) {
	s := NewSMACross("u1")
	s.fastPeriod = 2
	s.slowPeriod = 4
	s.cooldown = 0

	assert.Nil(t, feed(s, []float64{100, 100, 100, 100, 100, 100, 100}))
}

func TestDisabledStrategyStaysSilent(t *testing.T) {
	s := NewSMACross("u1")
	s.fastPeriod = 2
	s.slowPeriod = 4
	s.cooldown = 0
	s.SetEnabled(false)

	assert.Nil(t, feed(s, []float64{100, 100, 100, 100, 100, 104, 108}))
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	s := NewSMACross("u1")
	s.fastPeriod = 2
	s.slowPeriod = 4
	s.cooldown = time.Hour

	require.NotNil(t, feed(s, []float64{100, 100, 100, 100, 100, 104, 108}))
	// Immediate opposite cross lands inside the cooldown window.
	assert.Nil(t, feed(s, []float64{104, 100, 96, 92}))
}
