package journal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

func seedTrades(t *testing.T, w *Writer, pnls []float64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for i, pnl := range pnls {
		require.NoError(t, w.Record(ctx, &types.JournalEntry{
			UserID:       "u1",
			StrategyName: "sma_cross",
			Symbol:       "EURUSD",
			Source:       types.SourceSimulation,
			Side:         types.SideLong,
			PnL:          decimal.NewFromFloat(pnl),
			OpenedAt:     now.Add(time.Duration(-len(pnls)+i) * time.Hour),
			ClosedAt:     now.Add(time.Duration(-len(pnls)+i) * time.Hour).Add(30 * time.Minute),
			ExitReason:   "take_profit",
		}))
	}
}

func TestAnalyzeComputesStats(t *testing.T) {
	store, err := storage.OpenForTest()
	require.NoError(t, err)
	w := NewWriter(store)
	a := NewAnalyzer(store)

	// 6 wins of 100, 4 losses of 50: win rate 0.6, pf 600/200=3,
	// expectancy (600-200)/10=40.
	seedTrades(t, w, []float64{100, 100, -50, 100, -50, 100, -50, 100, -50, 100})

	res, err := a.Analyze(context.Background(), "u1", "sma_cross", "EURUSD", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, res.SampleSize)
	assert.InDelta(t, 0.6, res.WinRate, 1e-9)
	assert.InDelta(t, 3.0, res.ProfitFactor, 1e-9)
	assert.InDelta(t, 40.0, res.Expectancy, 1e-9)
	assert.Equal(t, 1, res.MaxConsecutiveLosses)
	assert.False(t, a.DetectUnderperformance(res))
}

func TestDetectUnderperformanceNeedsSamples(t *testing.T) {
	store, err := storage.OpenForTest()
	require.NoError(t, err)
	w := NewWriter(store)
	a := NewAnalyzer(store)

	// Terrible but tiny sample: never triggers.
	seedTrades(t, w, []float64{-50, -50, -50})
	res, err := a.Analyze(context.Background(), "u1", "sma_cross", "EURUSD", 7*24*time.Hour)
	require.NoError(t, err)
	assert.False(t, a.DetectUnderperformance(res))
}

func TestDetectUnderperformanceTriggers(t *testing.T) {
	store, err := storage.OpenForTest()
	require.NoError(t, err)
	w := NewWriter(store)
	a := NewAnalyzer(store)

	// 2 wins, 8 losses: win rate 0.2, pf < 1, consec streak 5.
	seedTrades(t, w, []float64{100, -50, -50, -50, -50, -50, 100, -50, -50, -50})
	res, err := a.Analyze(context.Background(), "u1", "sma_cross", "EURUSD", 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 5, res.MaxConsecutiveLosses)
	assert.True(t, a.DetectUnderperformance(res))
}

func TestJournalHasNoMutationPath(t *testing.T) {
	store, err := storage.OpenForTest()
	require.NoError(t, err)
	w := NewWriter(store)
	seedTrades(t, w, []float64{100})

	rows, err := store.ListJournalEntries("u1", "", "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].EntryUID)
	assert.EqualValues(t, 1800, rows[0].DurationSecs)
}
