package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/broker"
	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/journal"
	"github.com/web3guy0/guardrail/internal/risk"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION ENGINE - The only path to a broker
// ═══════════════════════════════════════════════════════════════════════════════
//
// Execute runs the pre-execution gate (signal status, execution mode,
// connectivity), inserts the order under its idempotency key and submits.
// Every lifecycle transition writes an ExecutionLog row; nothing ever
// leaves a terminal state.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SettingsSource supplies the user's current settings at gate time.
type SettingsSource interface {
	Get(ctx context.Context, userID string) (*types.Settings, error)
}

// Config holds engine tunables.
type Config struct {
	MaxRetries    int
	SubmitTimeout time.Duration
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		SubmitTimeout: 30 * time.Second,
	}
}

// Engine routes approved signals to broker adapters.
type Engine struct {
	store    *storage.Store
	settings SettingsSource
	monitor  *risk.Monitor
	journal  *journal.Writer
	cfg      Config

	mu       sync.RWMutex
	adapters map[types.BrokerType]broker.Adapter

	// Per-user gate lock: Execute holds it shared, a mode switch holds it
	// exclusively, so the gate and a settings flip never interleave.
	userMu sync.Mutex
	users  map[string]*sync.RWMutex

	orderLocks sync.Map // orderID → *sync.Mutex
}

// NewEngine creates the execution engine.
func NewEngine(store *storage.Store, settings SettingsSource, monitor *risk.Monitor, jw *journal.Writer, cfg Config) *Engine {
	return &Engine{
		store:    store,
		settings: settings,
		monitor:  monitor,
		journal:  jw,
		cfg:      cfg,
		adapters: make(map[types.BrokerType]broker.Adapter),
		users:    make(map[string]*sync.RWMutex),
	}
}

// RegisterAdapter wires a broker adapter and subscribes to its close
// events. Call during bootstrap, before any order flows.
func (e *Engine) RegisterAdapter(a broker.Adapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[a.Type()] = a
	a.OnClose(e.handleClose)
}

func (e *Engine) adapter(t types.BrokerType) broker.Adapter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapters[t]
}

func (e *Engine) userLock(userID string) *sync.RWMutex {
	e.userMu.Lock()
	defer e.userMu.Unlock()
	if l, ok := e.users[userID]; ok {
		return l
	}
	l := &sync.RWMutex{}
	e.users[userID] = l
	return l
}

func (e *Engine) orderLock(orderID string) *sync.Mutex {
	l, _ := e.orderLocks.LoadOrStore(orderID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// clientOrderID derives the idempotency key. Two Execute calls for the
// same signal and size always collide on it.
func clientOrderID(sig *types.Signal, size decimal.Decimal) string {
	h := sha256.New()
	h.Write([]byte(sig.StrategyName))
	h.Write([]byte{'|'})
	h.Write([]byte(sig.Symbol))
	h.Write([]byte{'|'})
	h.Write([]byte(sig.ID))
	h.Write([]byte{'|'})
	h.Write([]byte(sig.UserID))
	h.Write([]byte{'|'})
	h.Write([]byte(size.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// Execute routes one signal through the gate and to a broker. With
// manualOverride the guide-mode user-approval path may reach a live
// broker; everything else requires autonomous mode for live execution.
func (e *Engine) Execute(ctx context.Context, signal *types.Signal, size decimal.Decimal, manualOverride bool) (*types.ExecutionOrder, error) {
	gate := e.userLock(signal.UserID)
	gate.RLock()
	defer gate.RUnlock()

	if signal.Status != types.SignalPending && signal.Status != types.SignalApproved {
		return nil, guarderr.Newf(guarderr.CodeSignalNotExecutable,
			"signal %s is %s", signal.ID, signal.Status)
	}

	st, err := e.settings.Get(ctx, signal.UserID)
	if err != nil {
		return nil, err
	}

	var brokerType types.BrokerType
	switch st.ExecMode {
	case types.ExecModeSimulation:
		// Simulation never touches a real broker, whatever is configured.
		brokerType = types.BrokerSimulation
	case types.ExecModePaper:
		brokerType = types.BrokerPaper
	case types.ExecModeLive:
		if st.Mode != types.ModeAutonomous && !manualOverride {
			return nil, guarderr.New(guarderr.CodeModeRequiresAutonomous,
				"live execution requires autonomous mode or explicit user approval")
		}
		brokerType = st.BrokerType
	default:
		return nil, guarderr.Newf(guarderr.CodeValidationFailed, "unknown execution mode %q", st.ExecMode)
	}

	a := e.adapter(brokerType)
	if a == nil {
		return nil, guarderr.Newf(guarderr.CodeNotConnected, "no adapter registered for broker %q", brokerType)
	}
	if !a.IsConnected() {
		if cerr := a.Connect(ctx); cerr != nil {
			return nil, cerr
		}
		if uerr := e.store.UpsertBrokerConnection(signal.UserID, brokerType, true); uerr != nil {
			log.Warn().Err(uerr).Msg("Broker connection upsert failed")
		}
	}

	now := time.Now().UTC()
	order := &types.ExecutionOrder{
		ID:            uuid.NewString(),
		ClientOrderID: clientOrderID(signal, size),
		BrokerType:    brokerType,
		Symbol:        signal.Symbol,
		OrderType:     "market",
		Side:          signal.Side,
		Qty:           size,
		Price:         signal.Entry,
		StopLoss:      signal.StopLoss,
		TakeProfit:    signal.TakeProfit,
		Status:        types.OrderPending,
		SignalID:      signal.ID,
		StrategyName:  signal.StrategyName,
		UserID:        signal.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateOrder(order); err != nil {
		if storage.IsDuplicateKey(err) {
			existing, gerr := e.store.GetOrderByClientID(order.ClientOrderID)
			if gerr != nil {
				return nil, gerr
			}
			log.Info().
				Str("order", existing.ID).
				Str("signal", signal.ID).
				Msg("Duplicate submission absorbed by idempotency key")
			return existing, nil
		}
		return nil, guarderr.Newf(guarderr.CodePersistence, "order insert: %v", err)
	}
	e.logEvent(order, "order_created", nil, "", types.OrderPending)

	return e.submit(ctx, a, order, signal)
}

// submit pushes the order to the broker and folds the answer into the
// state machine. Transient failures leave it pending for the monitor.
func (e *Engine) submit(ctx context.Context, a broker.Adapter, order *types.ExecutionOrder, signal *types.Signal) (*types.ExecutionOrder, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	res, err := a.Submit(sctx, order)
	if err != nil {
		switch {
		case guarderr.Is(err, guarderr.CodeBrokerRejected):
			order.ErrorMsg = err.Error()
			if terr := e.transition(order, types.OrderRejected, "submit_rejected", nil); terr != nil {
				return order, terr
			}
			return order, err
		case guarderr.Retriable(err):
			order.RetryCount++
			order.ErrorMsg = err.Error()
			if order.RetryCount >= e.cfg.MaxRetries {
				if terr := e.transition(order, types.OrderFailed, "retries_exhausted", nil); terr != nil {
					return order, terr
				}
				return order, err
			}
			if serr := e.store.SaveOrder(order); serr != nil {
				return order, serr
			}
			e.logEvent(order, "submit_retry_scheduled", map[string]any{"retry_count": order.RetryCount}, order.Status, order.Status)
			return order, err
		default:
			order.ErrorMsg = err.Error()
			if terr := e.transition(order, types.OrderFailed, "submit_failed", nil); terr != nil {
				return order, terr
			}
			return order, err
		}
	}

	order.BrokerOrderID = res.BrokerOrderID
	now := time.Now().UTC()
	order.SubmittedAt = &now

	switch res.Status {
	case types.OrderFilled:
		order.FilledQty = res.FilledQty
		order.AvgFillPrice = res.AvgFillPrice
		order.FilledAt = &now
		if terr := e.transition(order, types.OrderFilled, "submit_filled", map[string]any{
			"fill_price": res.AvgFillPrice.String(),
		}); terr != nil {
			return order, terr
		}
		e.onFilled(ctx, order, signal)
	default:
		if terr := e.transition(order, types.OrderSubmitted, "submit_accepted", nil); terr != nil {
			return order, terr
		}
	}
	return order, nil
}

// onFilled applies the fill side-effects: signal becomes executed, a
// position opens, the risk state absorbs the trade.
func (e *Engine) onFilled(ctx context.Context, order *types.ExecutionOrder, signal *types.Signal) {
	if err := e.store.UpdateSignalStatus(order.SignalID, types.SignalExecuted); err != nil {
		log.Warn().Err(err).Str("signal", order.SignalID).Msg("Signal status update failed")
	}
	if signal != nil {
		signal.Status = types.SignalExecuted
	}

	pos := &types.Position{
		ID:         uuid.NewString(),
		SignalID:   order.SignalID,
		UserID:     order.UserID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Size:       order.FilledQty,
		AvgEntry:   order.AvgFillPrice,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		OpenedAt:   time.Now().UTC(),
		Status:     types.PositionOpen,
	}
	if err := e.store.CreatePosition(pos); err != nil {
		log.Error().Err(err).Str("order", order.ID).Msg("Position insert failed")
	} else {
		order.PositionID = pos.ID
		if err := e.store.SaveOrder(order); err != nil {
			log.Warn().Err(err).Str("order", order.ID).Msg("Order position link failed")
		}
	}

	if _, err := e.monitor.UpdateAccountState(ctx, risk.FillUpdate{
		UserID:    order.UserID,
		OpenDelta: 1,
		NewTrade:  true,
	}); err != nil {
		log.Error().Err(err).Str("user", order.UserID).Msg("Risk state update failed on fill")
	}

	log.Info().
		Str("order", order.ID).
		Str("symbol", order.Symbol).
		Str("fill", order.AvgFillPrice.String()).
		Msg("🎯 Order filled")
}

// handleClose turns a broker close event into the position close, the
// journal entry and the risk updates.
func (e *Engine) handleClose(ev broker.CloseEvent) {
	ctx := context.Background()

	order, err := e.store.GetOrderByBrokerID(ev.BrokerOrderID)
	if err != nil {
		log.Warn().Str("broker_order", ev.BrokerOrderID).Msg("Close event for unknown order")
		return
	}

	if order.PositionID != "" {
		if err := e.store.ClosePosition(order.PositionID, ev.ClosedAt); err != nil {
			log.Error().Err(err).Str("position", order.PositionID).Msg("Position close failed")
		}
	}

	source := types.SourceSimulation
	if order.BrokerType == types.BrokerPaper {
		source = types.SourcePaper
	}
	if err := e.journal.Record(ctx, &types.JournalEntry{
		StrategyName: order.StrategyName,
		Symbol:       order.Symbol,
		UserID:       order.UserID,
		Source:       source,
		Side:         ev.Side,
		Entry:        ev.EntryPrice,
		Exit:         ev.ExitPrice,
		Size:         ev.Size,
		PnL:          ev.PnL,
		ExitReason:   ev.ExitReason,
		OpenedAt:     ev.OpenedAt,
		ClosedAt:     ev.ClosedAt,
		SignalID:     order.SignalID,
		OrderID:      order.ID,
	}); err != nil {
		log.Error().Err(err).Str("order", order.ID).Msg("Journal write failed")
	}

	if _, err := e.monitor.UpdateAccountState(ctx, risk.FillUpdate{
		UserID:      order.UserID,
		RealizedPnL: ev.PnL,
		OpenDelta:   -1,
		At:          ev.ClosedAt,
	}); err != nil {
		log.Error().Err(err).Str("user", order.UserID).Msg("Risk state update failed on close")
	}
	if _, err := e.monitor.UpdateStrategyBudget(ctx, risk.ClosedTrade{
		UserID:       order.UserID,
		StrategyName: order.StrategyName,
		Symbol:       order.Symbol,
		PnL:          ev.PnL,
		ClosedAt:     ev.ClosedAt,
	}); err != nil {
		log.Error().Err(err).Str("user", order.UserID).Msg("Strategy budget update failed")
	}
}

// Cancel cancels one non-terminal order on the user's behalf.
func (e *Engine) Cancel(ctx context.Context, userID, orderID string) (*types.ExecutionOrder, error) {
	lock := e.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := e.store.GetOrder(userID, orderID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, guarderr.New(guarderr.CodeNotFound, "order not found")
		}
		return nil, err
	}
	if order.IsTerminal() {
		e.logEvent(order, "invalid_transition", map[string]any{"attempted": string(types.OrderCancelled)}, order.Status, order.Status)
		return nil, guarderr.Newf(guarderr.CodeInvalidTransition, "order is %s", order.Status)
	}

	if a := e.adapter(order.BrokerType); a != nil && order.BrokerOrderID != "" {
		if _, cerr := a.Cancel(ctx, order.BrokerOrderID); cerr != nil && !guarderr.Is(cerr, guarderr.CodeUnknownOrder) {
			return nil, cerr
		}
	}
	if terr := e.transition(order, types.OrderCancelled, "cancel_requested", nil); terr != nil {
		return nil, terr
	}
	return order, nil
}

// BeforeModeSwitch implements the settings mode guard: it takes the
// user's gate exclusively so no Execute interleaves with the switch, and
// when asked cancels every non-terminal order first. The release func
// hands the gate back after the new settings version committed.
func (e *Engine) BeforeModeSwitch(ctx context.Context, userID string, cancelOrders bool) (func(), error) {
	gate := e.userLock(userID)
	gate.Lock()

	if cancelOrders {
		orders, err := e.store.ListNonTerminalOrders(userID)
		if err != nil {
			gate.Unlock()
			return nil, err
		}
		for i := range orders {
			order := &orders[i]
			if a := e.adapter(order.BrokerType); a != nil && order.BrokerOrderID != "" {
				if _, cerr := a.Cancel(ctx, order.BrokerOrderID); cerr != nil {
					log.Warn().Err(cerr).Str("order", order.ID).Msg("Cancel on mode switch failed at broker")
				}
			}
			if terr := e.transition(order, types.OrderCancelled, "mode_switch_cancel", nil); terr != nil {
				log.Warn().Err(terr).Str("order", order.ID).Msg("Cancel transition failed")
			}
		}
		if len(orders) > 0 {
			log.Info().Str("user", userID).Int("cancelled", len(orders)).Msg("Open orders cancelled for mode switch")
		}
	}

	return gate.Unlock, nil
}

// BrokerConnected implements the settings connectivity check.
func (e *Engine) BrokerConnected(t types.BrokerType) bool {
	a := e.adapter(t)
	return a != nil && a.IsConnected()
}

// transition moves the order one legal lifecycle step and records it.
// Illegal steps write a log row and return invalid_transition.
func (e *Engine) transition(order *types.ExecutionOrder, to types.OrderStatus, event string, data map[string]any) error {
	from := order.Status
	if !canTransition(from, to) {
		e.logEvent(order, "invalid_transition", map[string]any{"attempted": string(to)}, from, from)
		return guarderr.Newf(guarderr.CodeInvalidTransition, "%s → %s is not a legal order transition", from, to)
	}
	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveOrder(order); err != nil {
		order.Status = from
		return guarderr.Newf(guarderr.CodePersistence, "order save: %v", err)
	}
	e.logEvent(order, event, data, from, to)
	return nil
}

func (e *Engine) logEvent(order *types.ExecutionOrder, event string, data map[string]any, from, to types.OrderStatus) {
	payload := ""
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = string(b)
		}
	}
	if err := e.store.CreateExecutionLog(&types.ExecutionLog{
		OrderID:   order.ID,
		EventType: event,
		EventData: payload,
		OldStatus: from,
		NewStatus: to,
		EventTime: time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("order", order.ID).Msg("Execution log write failed")
	}
}
