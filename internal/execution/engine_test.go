package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/guardrail/internal/broker"
	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/journal"
	"github.com/web3guy0/guardrail/internal/risk"
	"github.com/web3guy0/guardrail/internal/settings"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

// fakeAdapter is a programmable broker for engine tests.
type fakeAdapter struct {
	mu        sync.Mutex
	btype     types.BrokerType
	connected bool
	submitFn  func(*types.ExecutionOrder) (*broker.SubmitResult, error)
	statusFn  func(string) (*broker.StatusResult, error)
	cancelled []string
	onClose   func(broker.CloseEvent)
}

func (f *fakeAdapter) Type() types.BrokerType          { return f.btype }
func (f *fakeAdapter) Connect(context.Context) error   { f.connected = true; return nil }
func (f *fakeAdapter) Disconnect()                     { f.connected = false }
func (f *fakeAdapter) IsConnected() bool               { return f.connected }
func (f *fakeAdapter) OnClose(fn func(broker.CloseEvent)) { f.onClose = fn }

func (f *fakeAdapter) Submit(_ context.Context, o *types.ExecutionOrder) (*broker.SubmitResult, error) {
	return f.submitFn(o)
}

func (f *fakeAdapter) Cancel(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

func (f *fakeAdapter) Modify(context.Context, string, *decimal.Decimal, *decimal.Decimal) (bool, error) {
	return true, nil
}

func (f *fakeAdapter) Status(_ context.Context, id string) (*broker.StatusResult, error) {
	if f.statusFn == nil {
		return nil, guarderr.New(guarderr.CodeUnknownOrder, "no status fn")
	}
	return f.statusFn(id)
}

func (f *fakeAdapter) Positions(context.Context) ([]broker.PositionInfo, error) { return nil, nil }
func (f *fakeAdapter) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}

func instantFill(o *types.ExecutionOrder) (*broker.SubmitResult, error) {
	return &broker.SubmitResult{
		BrokerOrderID: "fake-" + o.ID,
		Status:        types.OrderFilled,
		FilledQty:     o.Qty,
		AvgFillPrice:  o.Price,
	}, nil
}

type testRig struct {
	store    *storage.Store
	settings *settings.Service
	monitor  *risk.Monitor
	engine   *Engine
	adapter  *fakeAdapter
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	store, err := storage.OpenForTest()
	require.NoError(t, err)

	svc := settings.New(store)
	monitor := risk.NewMonitor(store, decimal.NewFromInt(10000))
	jw := journal.NewWriter(store)

	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	engine := NewEngine(store, svc, monitor, jw, cfg)

	fa := &fakeAdapter{btype: types.BrokerSimulation, submitFn: instantFill}
	engine.RegisterAdapter(fa)

	return &testRig{store: store, settings: svc, monitor: monitor, engine: engine, adapter: fa}
}

func approvedSignal(t *testing.T, store *storage.Store, userID string) *types.Signal {
	t.Helper()
	s := &types.Signal{
		ID:           uuid.NewString(),
		StrategyName: "sma_cross",
		UserID:       userID,
		Symbol:       "EURUSD",
		Side:         types.SideLong,
		Entry:        decimal.NewFromFloat(1.1000),
		StopLoss:     decimal.NewFromFloat(1.0950),
		TakeProfit:   decimal.NewFromFloat(1.1100),
		Status:       types.SignalApproved,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.CreateSignal(s))
	return s
}

func TestExecuteSimulationHappyPath(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	sig := approvedSignal(t, rig.store, "u1")
	order, err := rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), false)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)
	assert.Equal(t, types.SignalExecuted, sig.Status)
	assert.NotEmpty(t, order.PositionID)

	pos, err := rig.store.GetPosition("u1", order.PositionID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionOpen, pos.Status)

	state, err := rig.store.GetAccountRiskState("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.OpenPositionsCount)
	assert.Equal(t, 1, state.TradesToday)

	logs, err := rig.store.ListExecutionLogs(order.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "order_created", logs[0].EventType)
	assert.Equal(t, "submit_filled", logs[1].EventType)
}

func TestExecuteRejectsNonExecutableSignal(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	sig := approvedSignal(t, rig.store, "u1")
	sig.Status = types.SignalRejected
	_, err := rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), false)
	require.Error(t, err)
	assert.Equal(t, guarderr.CodeSignalNotExecutable, guarderr.CodeOf(err))
}

func TestExecuteLiveRequiresAutonomousOrOverride(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	live := types.ExecModeLive
	_, err := rig.settings.Update(ctx, "u1", settings.Patch{ExecMode: &live}, "u1", "test")
	require.NoError(t, err)

	sig := approvedSignal(t, rig.store, "u1")
	_, err = rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), false)
	require.Error(t, err)
	assert.Equal(t, guarderr.CodeModeRequiresAutonomous, guarderr.CodeOf(err))

	// The guide-mode approval path carries an explicit override.
	order, err := rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), true)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, order.Status)
}

func TestExecuteIsIdempotent(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	sig := approvedSignal(t, rig.store, "u1")
	first, err := rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), false)
	require.NoError(t, err)

	// A retried request arrives with the stale pre-fill status.
	retry := *sig
	retry.Status = types.SignalApproved
	second, err := rig.engine.Execute(ctx, &retry, decimal.NewFromFloat(0.5), false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ClientOrderID, second.ClientOrderID)

	orders, err := rig.store.ListOrders("u1", "", 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestModeSwitchCancelsOpenOrders(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	// Orders park in submitted instead of filling.
	rig.adapter.submitFn = func(o *types.ExecutionOrder) (*broker.SubmitResult, error) {
		return &broker.SubmitResult{
			BrokerOrderID: "fake-" + o.ID,
			Status:        types.OrderSubmitted,
		}, nil
	}
	rig.settings.SetModeGuard(rig.engine)

	sig := approvedSignal(t, rig.store, "u1")
	order, err := rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), false)
	require.NoError(t, err)
	require.Equal(t, types.OrderSubmitted, order.Status)

	_, err = rig.settings.SetMode(ctx, "u1", types.ModeAutonomous, true, "u1", "handover")
	require.NoError(t, err)

	got, err := rig.store.GetOrder("u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, got.Status)
	assert.Contains(t, rig.adapter.cancelled, order.BrokerOrderID)
}

func TestTransientFailuresRetryThenFail(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.adapter.submitFn = func(*types.ExecutionOrder) (*broker.SubmitResult, error) {
		return nil, guarderr.New(guarderr.CodeTransport, "connection reset")
	}

	sig := approvedSignal(t, rig.store, "u1")
	order, err := rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), false)
	require.Error(t, err)
	assert.Equal(t, types.OrderPending, order.Status)
	assert.Equal(t, 1, order.RetryCount)

	// The monitor retries once more and then gives up.
	mon := NewOrderMonitor(rig.engine, time.Second)
	mon.Sweep(ctx)

	got, err := rig.store.GetOrder("u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFailed, got.Status)

	// A later sweep leaves the terminal order alone.
	mon.Sweep(ctx)
	got, err = rig.store.GetOrder("u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFailed, got.Status)
}

func TestBrokerRejectionIsTerminal(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.adapter.submitFn = func(*types.ExecutionOrder) (*broker.SubmitResult, error) {
		return nil, guarderr.New(guarderr.CodeBrokerRejected, "margin exceeded")
	}

	sig := approvedSignal(t, rig.store, "u1")
	order, err := rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), false)
	require.Error(t, err)
	assert.Equal(t, types.OrderRejected, order.Status)
	assert.NotEmpty(t, order.ErrorMsg)
}

func TestTerminalOrdersNeverTransition(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	sig := approvedSignal(t, rig.store, "u1")
	order, err := rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), false)
	require.NoError(t, err)
	require.Equal(t, types.OrderFilled, order.Status)

	_, err = rig.engine.Cancel(ctx, "u1", order.ID)
	require.Error(t, err)
	assert.Equal(t, guarderr.CodeInvalidTransition, guarderr.CodeOf(err))

	// The refused attempt still leaves an audit row.
	logs, err := rig.store.ListExecutionLogs(order.ID)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	assert.Equal(t, "invalid_transition", last.EventType)
}

func TestCloseEventJournalsAndUpdatesRisk(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	sig := approvedSignal(t, rig.store, "u1")
	order, err := rig.engine.Execute(ctx, sig, decimal.NewFromFloat(0.5), false)
	require.NoError(t, err)

	// Simulate the broker closing the position at take profit.
	rig.adapter.onClose(broker.CloseEvent{
		BrokerOrderID: order.BrokerOrderID,
		UserID:        "u1",
		Symbol:        "EURUSD",
		Side:          types.SideLong,
		Size:          order.FilledQty,
		EntryPrice:    order.AvgFillPrice,
		ExitPrice:     decimal.NewFromFloat(1.1100),
		PnL:           decimal.NewFromFloat(0.005),
		ExitReason:    "take_profit",
		OpenedAt:      time.Now().UTC().Add(-time.Hour),
		ClosedAt:      time.Now().UTC(),
	})

	entries, err := rig.store.ListJournalEntries("u1", "sma_cross", "EURUSD", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "take_profit", entries[0].ExitReason)
	assert.Equal(t, types.SourceSimulation, entries[0].Source)

	pos, err := rig.store.GetPosition("u1", order.PositionID)
	require.NoError(t, err)
	assert.Equal(t, types.PositionClosed, pos.Status)

	state, err := rig.store.GetAccountRiskState("u1")
	require.NoError(t, err)
	assert.Equal(t, 0, state.OpenPositionsCount)

	budget, err := rig.store.GetStrategyBudget("u1", "sma_cross", "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1, budget.TotalTrades)
	assert.Equal(t, 1, budget.WinningTrades)
}
