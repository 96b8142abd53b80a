package risk

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/guardrail/internal/settings"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

func newValidator(t *testing.T) (*Validator, *Monitor, *storage.Store) {
	t.Helper()
	store, err := storage.OpenForTest()
	require.NoError(t, err)
	monitor := NewMonitor(store, decimal.NewFromInt(10000))
	v := NewValidator(store, settings.New(store), monitor)
	return v, monitor, store
}

func goodSignal(t *testing.T, store *storage.Store, userID string) *types.Signal {
	t.Helper()
	s := &types.Signal{
		ID:           uuid.NewString(),
		StrategyName: "sma_cross",
		UserID:       userID,
		Symbol:       "EURUSD",
		Side:         types.SideLong,
		Entry:        decimal.NewFromInt(100),
		StopLoss:     decimal.NewFromInt(99),
		TakeProfit:   decimal.NewFromInt(102),
		RiskPct:      decimal.NewFromFloat(1.0),
		Status:       types.SignalPending,
		SignalTime:   time.Now().UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	s.RiskReward = s.ComputeRiskReward()
	require.NoError(t, store.CreateSignal(s))
	return s
}

func TestValidateApprovesHealthySignal(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproval, d.Kind)
	assert.Equal(t, types.SignalApproved, sig.Status)
	assert.Contains(t, d.ChecksPassed, checkDailyLossLimit)
	assert.Equal(t, "null", d.ChecksFailed)

	rows, err := store.ListRiskDecisions("u1", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEmergencyShutdownRejectsFirst(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccountRiskState(&types.AccountRiskState{
		UserID:            "u1",
		Balance:           decimal.NewFromInt(10000),
		EmergencyShutdown: true,
		DailyPnLResetAt:   time.Now().UTC(),
	}))

	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionRejection, d.Kind)
	assert.Equal(t, "emergency_shutdown", d.ReasonCode)
	assert.Equal(t, types.SeverityEmergency, d.Severity)
	assert.Equal(t, types.SignalRejected, sig.Status)
}

func TestDrawdownAtThresholdLatchesShutdown(t *testing.T) {
	v, monitor, store := newValidator(t)
	ctx := context.Background()

	// Exactly at the ceiling: inclusive trigger.
	require.NoError(t, store.SaveAccountRiskState(&types.AccountRiskState{
		UserID:             "u1",
		Balance:            decimal.NewFromInt(8500),
		Equity:             decimal.NewFromInt(8500),
		PeakEquity:         decimal.NewFromInt(10000),
		CurrentDrawdownPct: decimal.NewFromInt(15),
		DailyPnLResetAt:    time.Now().UTC(),
	}))

	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionShutdown, d.Kind)
	assert.Equal(t, "drawdown_exceeded", d.ReasonCode)

	state, err := store.GetAccountRiskState("u1")
	require.NoError(t, err)
	assert.True(t, state.EmergencyShutdown)

	// Latched: the next signal dies at check one.
	sig2 := goodSignal(t, store, "u1")
	d2, err := v.Validate(ctx, sig2, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, "emergency_shutdown", d2.ReasonCode)

	// Manual reset clears the latch and trades flow again.
	require.NoError(t, monitor.ResetEmergency(ctx, "u1"))
	sig3 := goodSignal(t, store, "u1")
	d3, err := v.Validate(ctx, sig3, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproval, d3.Kind)
}

func TestOpenPositionsCap(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccountRiskState(&types.AccountRiskState{
		UserID:             "u1",
		Balance:            decimal.NewFromInt(10000),
		PeakEquity:         decimal.NewFromInt(10000),
		Equity:             decimal.NewFromInt(10000),
		OpenPositionsCount: 10,
		DailyPnLResetAt:    time.Now().UTC(),
	}))

	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, "max_open_positions", d.ReasonCode)
	assert.Contains(t, d.ChecksPassed, checkAccountDrawdown)
}

func TestDailyTradeLimitResetsAfterWindow(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	// Counter saturated but the window elapsed 25h ago: treated as reset.
	require.NoError(t, store.SaveAccountRiskState(&types.AccountRiskState{
		UserID:          "u1",
		Balance:         decimal.NewFromInt(10000),
		PeakEquity:      decimal.NewFromInt(10000),
		Equity:          decimal.NewFromInt(10000),
		TradesToday:     20,
		DailyPnLResetAt: time.Now().UTC().Add(-25 * time.Hour),
	}))

	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproval, d.Kind)
}

func TestHourlyLimitCountsOnlySignalApprovals(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	mk := func(signalID string, age time.Duration) {
		require.NoError(t, store.CreateRiskDecision(&types.RiskDecision{
			ID:        uuid.NewString(),
			SignalID:  signalID,
			UserID:    "u1",
			Kind:      types.DecisionApproval,
			CreatedAt: time.Now().UTC().Add(-age),
		}))
	}
	for i := 0; i < 4; i++ {
		mk(uuid.NewString(), 10*time.Minute)
	}
	// Manual overrides carry no signal id and never count.
	mk("", time.Minute)
	mk("", time.Minute)

	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproval, d.Kind)

	// The approval above makes five in the window.
	sig2 := goodSignal(t, store, "u1")
	d2, err := v.Validate(ctx, sig2, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, "hourly_limit", d2.ReasonCode)
}

func TestPositionSizeCaps(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	// Over the lot cap.
	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(1.5))
	require.NoError(t, err)
	assert.Equal(t, "position_size", d.ReasonCode)
}

func TestRiskRewardBoundaryInclusive(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	// |tp-entry| / |entry-sl| == 1.5 exactly: passes.
	sig := &types.Signal{
		ID:           uuid.NewString(),
		StrategyName: "sma_cross",
		UserID:       "u1",
		Symbol:       "EURUSD",
		Side:         types.SideLong,
		Entry:        decimal.NewFromInt(100),
		StopLoss:     decimal.NewFromInt(98),
		TakeProfit:   decimal.NewFromInt(103),
		RiskPct:      decimal.NewFromFloat(1.0),
		Status:       types.SignalPending,
	}
	sig.RiskReward = sig.ComputeRiskReward()
	require.NoError(t, store.CreateSignal(sig))

	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproval, d.Kind)

	// A hair under fails.
	low := &types.Signal{
		ID:           uuid.NewString(),
		StrategyName: "sma_cross",
		UserID:       "u1",
		Symbol:       "EURUSD",
		Side:         types.SideLong,
		Entry:        decimal.NewFromInt(100),
		StopLoss:     decimal.NewFromInt(98),
		TakeProfit:   decimal.NewFromFloat(102.9),
		RiskPct:      decimal.NewFromFloat(1.0),
		Status:       types.SignalPending,
	}
	low.RiskReward = low.ComputeRiskReward()
	require.NoError(t, store.CreateSignal(low))

	d2, err := v.Validate(ctx, low, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, "rr_too_low", d2.ReasonCode)
}

func TestStrategyBudgetDisabledRejects(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	require.NoError(t, store.SaveStrategyBudget(&types.StrategyBudget{
		UserID:         "u1",
		StrategyName:   "sma_cross",
		Symbol:         "EURUSD",
		Enabled:        false,
		DisabledReason: "consecutive_losses",
	}))

	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, "budget_disabled", d.ReasonCode)
	assert.Equal(t, types.SeverityCritical, d.Severity)
}

func TestStrategyWithoutBudgetPasses(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproval, d.Kind)
}

func TestDailyLossLimitInclusive(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	// Projected 1% of 10000 (100) plus 400 realized loss hits the 5%
	// budget (500) exactly: inclusive reject.
	require.NoError(t, store.SaveAccountRiskState(&types.AccountRiskState{
		UserID:          "u1",
		Balance:         decimal.NewFromInt(10000),
		Equity:          decimal.NewFromInt(10000),
		PeakEquity:      decimal.NewFromInt(10000),
		DailyPnL:        decimal.NewFromInt(-400),
		DailyPnLResetAt: time.Now().UTC(),
	}))

	sig := goodSignal(t, store, "u1")
	d, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
	require.NoError(t, err)
	assert.Equal(t, "daily_loss", d.ReasonCode)
}

func TestEveryValidateWritesExactlyOneDecision(t *testing.T) {
	v, _, store := newValidator(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sig := goodSignal(t, store, "u1")
		_, err := v.Validate(ctx, sig, decimal.NewFromFloat(0.1))
		require.NoError(t, err)
	}
	rows, err := store.ListRiskDecisions("u1", 50)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
