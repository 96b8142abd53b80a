package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/guardrail/internal/journal"
	"github.com/web3guy0/guardrail/internal/risk"
	"github.com/web3guy0/guardrail/internal/settings"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

func newLoop(t *testing.T) (*Loop, *storage.Store, *risk.Monitor) {
	t.Helper()
	store, err := storage.OpenForTest()
	require.NoError(t, err)
	monitor := risk.NewMonitor(store, decimal.NewFromInt(10000))
	loop := New(store, journal.NewAnalyzer(store), monitor, settings.New(store),
		7*24*time.Hour, time.Hour)
	return loop, store, monitor
}

func journalTrades(t *testing.T, store *storage.Store, pnls []float64) {
	t.Helper()
	w := journal.NewWriter(store)
	now := time.Now().UTC()
	for i, pnl := range pnls {
		require.NoError(t, w.Record(context.Background(), &types.JournalEntry{
			UserID:       "u1",
			StrategyName: "sma_cross",
			Symbol:       "EURUSD",
			Source:       types.SourceSimulation,
			Side:         types.SideLong,
			PnL:          decimal.NewFromFloat(pnl),
			OpenedAt:     now.Add(time.Duration(-len(pnls)+i) * time.Hour),
			ClosedAt:     now.Add(time.Duration(-len(pnls)+i) * time.Hour),
		}))
	}
}

func TestRunCycleMonitorsSmallSamples(t *testing.T) {
	loop, store, _ := newLoop(t)
	journalTrades(t, store, []float64{-50, -50, -50})

	d, err := loop.RunCycle(context.Background(), "u1", "sma_cross", "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, types.ActionMonitor, d.Action)
	assert.Equal(t, 3, d.SampleSize)
}

func TestRunCycleDisablesOnLossStreak(t *testing.T) {
	loop, store, monitor := newLoop(t)
	ctx := context.Background()

	journalTrades(t, store, []float64{100, 100, 100, 100, 100, -50, -50, -50, -50, -50})
	for i := 0; i < 5; i++ {
		_, err := monitor.UpdateStrategyBudget(ctx, risk.ClosedTrade{
			UserID: "u1", StrategyName: "sma_cross", Symbol: "EURUSD",
			PnL: decimal.NewFromInt(-50),
		})
		require.NoError(t, err)
	}

	d, err := loop.RunCycle(ctx, "u1", "sma_cross", "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, types.ActionDisableStrategy, d.Action)
	assert.Equal(t, 5, d.ConsecutiveLosses)

	budget, err := store.GetStrategyBudget("u1", "sma_cross", "EURUSD")
	require.NoError(t, err)
	assert.False(t, budget.Enabled)
}

func TestRunCycleEmitsOptimizationEvent(t *testing.T) {
	loop, store, _ := newLoop(t)
	ctx := context.Background()

	// Win rate 0.3 over 10 trades, no live loss streak.
	journalTrades(t, store, []float64{100, -50, -50, 100, -50, -50, 100, -50, -50, -50})

	d, err := loop.RunCycle(ctx, "u1", "sma_cross", "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, types.ActionTriggerOptimization, d.Action)

	select {
	case ev := <-loop.Events():
		assert.Equal(t, "sma_cross", ev.StrategyName)
		assert.InDelta(t, 0.3, ev.WinRate, 1e-9)
	default:
		t.Fatal("expected an optimization event")
	}
}

func TestRunCycleRecordsMonitorWhenHealthy(t *testing.T) {
	loop, store, _ := newLoop(t)
	ctx := context.Background()

	journalTrades(t, store, []float64{100, 100, -50, 100, -50, 100, 100, -50, 100, 100})

	d, err := loop.RunCycle(ctx, "u1", "sma_cross", "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, types.ActionMonitor, d.Action)

	rows, err := store.ListFeedbackDecisions("u1", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
