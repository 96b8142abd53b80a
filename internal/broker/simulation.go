package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIMULATION ADAPTER - Persistent account, slippage/commission/latency model
// ═══════════════════════════════════════════════════════════════════════════════
//
// Orders pass a Bernoulli fill gate (fill_probability), pay slippage and
// commission, and carry their SL/TP in memory. ApplyTick checks every
// open position against the new price and emits synthetic close events.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SimConfig models execution friction.
type SimConfig struct {
	SlippagePips     decimal.Decimal
	CommissionPerLot decimal.Decimal
	Latency          time.Duration
	FillProbability  float64
	InitialBalance   decimal.Decimal
}

// DefaultSimConfig returns mild, realistic friction.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		SlippagePips:     decimal.NewFromFloat(0.0002),
		CommissionPerLot: decimal.NewFromFloat(7.0),
		Latency:          50 * time.Millisecond,
		FillProbability:  0.98,
		InitialBalance:   decimal.NewFromInt(10000),
	}
}

// SimulationAdapter is the default broker. Its account survives restarts.
type SimulationAdapter struct {
	mu        sync.RWMutex
	store     *storage.Store
	cfg       SimConfig
	rng       *rand.Rand
	connected bool
	positions map[string]PositionInfo
	onClose   func(CloseEvent)
}

// NewSimulationAdapter creates the simulation broker.
func NewSimulationAdapter(store *storage.Store, cfg SimConfig) *SimulationAdapter {
	return &SimulationAdapter{
		store:     store,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		positions: make(map[string]PositionInfo),
	}
}

// SetRand overrides the fill-gate randomness, deterministic in tests.
func (s *SimulationAdapter) SetRand(r *rand.Rand) { s.rng = r }

func (s *SimulationAdapter) Type() types.BrokerType { return types.BrokerSimulation }

func (s *SimulationAdapter) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	log.Info().Msg("🧪 Simulation broker connected")
	return nil
}

func (s *SimulationAdapter) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *SimulationAdapter) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *SimulationAdapter) OnClose(fn func(CloseEvent)) { s.onClose = fn }

// account loads or seeds the persistent simulation account.
func (s *SimulationAdapter) account(userID string) (*types.SimulationAccount, error) {
	acct, err := s.store.GetSimulationAccount(userID)
	if err == nil {
		return acct, nil
	}
	if !storage.IsNotFound(err) {
		return nil, err
	}
	acct = &types.SimulationAccount{
		UserID:           userID,
		Balance:          s.cfg.InitialBalance,
		Equity:           s.cfg.InitialBalance,
		InitialBalance:   s.cfg.InitialBalance,
		SlippagePips:     s.cfg.SlippagePips,
		CommissionPerLot: s.cfg.CommissionPerLot,
		LatencyMs:        int(s.cfg.Latency.Milliseconds()),
		FillProbability:  s.cfg.FillProbability,
		LastResetAt:      time.Now().UTC(),
	}
	if err := s.store.SaveSimulationAccount(acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Submit applies latency, the fill gate, slippage and commission.
func (s *SimulationAdapter) Submit(ctx context.Context, order *types.ExecutionOrder) (*SubmitResult, error) {
	if !s.IsConnected() {
		return nil, guarderr.New(guarderr.CodeNotConnected, "simulation broker not connected")
	}

	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-ctx.Done():
			return nil, guarderr.New(guarderr.CodeTimeout, "submit cancelled during simulated latency")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.account(order.UserID)
	if err != nil {
		return nil, guarderr.Newf(guarderr.CodePersistence, "simulation account: %v", err)
	}

	if s.rng.Float64() > acct.FillProbability {
		return nil, guarderr.New(guarderr.CodeBrokerRejected, "simulated fill rejection")
	}

	fill := order.Price
	if order.Side == types.SideLong {
		fill = fill.Add(acct.SlippagePips)
	} else {
		fill = fill.Sub(acct.SlippagePips)
	}
	commission := acct.CommissionPerLot.Mul(order.Qty)

	acct.Balance = acct.Balance.Sub(commission)
	acct.Equity = acct.Balance
	acct.TotalTrades++
	if err := s.store.SaveSimulationAccount(acct); err != nil {
		return nil, guarderr.Newf(guarderr.CodePersistence, "simulation account: %v", err)
	}

	id := "sim-" + uuid.NewString()
	s.positions[id] = PositionInfo{
		BrokerOrderID: id,
		UserID:        order.UserID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Size:          order.Qty,
		AvgEntry:      fill,
		StopLoss:      order.StopLoss,
		TakeProfit:    order.TakeProfit,
		OpenedAt:      time.Now().UTC(),
	}

	log.Debug().
		Str("broker_order", id).
		Str("symbol", order.Symbol).
		Str("fill", fill.String()).
		Str("commission", commission.String()).
		Msg("Simulated order filled")

	return &SubmitResult{
		BrokerOrderID: id,
		Status:        types.OrderFilled,
		FilledQty:     order.Qty,
		AvgFillPrice:  fill,
	}, nil
}

// Cancel removes a still-open simulated position without PnL.
func (s *SimulationAdapter) Cancel(ctx context.Context, brokerOrderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[brokerOrderID]; !ok {
		return false, guarderr.New(guarderr.CodeUnknownOrder, "unknown simulated order")
	}
	delete(s.positions, brokerOrderID)
	return true, nil
}

func (s *SimulationAdapter) Modify(ctx context.Context, brokerOrderID string, stopLoss, takeProfit *decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[brokerOrderID]
	if !ok {
		return false, guarderr.New(guarderr.CodeUnknownOrder, "unknown simulated order")
	}
	if stopLoss != nil {
		pos.StopLoss = *stopLoss
	}
	if takeProfit != nil {
		pos.TakeProfit = *takeProfit
	}
	s.positions[brokerOrderID] = pos
	return true, nil
}

func (s *SimulationAdapter) Status(ctx context.Context, brokerOrderID string) (*StatusResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[brokerOrderID]
	if !ok {
		return nil, guarderr.New(guarderr.CodeUnknownOrder, "unknown simulated order")
	}
	return &StatusResult{
		Status:       types.OrderFilled,
		FilledQty:    pos.Size,
		AvgFillPrice: pos.AvgEntry,
	}, nil
}

func (s *SimulationAdapter) Positions(ctx context.Context) ([]PositionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PositionInfo, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *SimulationAdapter) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, err := s.account(userID)
	if err != nil {
		return decimal.Zero, guarderr.Newf(guarderr.CodePersistence, "simulation account: %v", err)
	}
	return acct.Balance, nil
}

// ApplyTick checks every open position on the symbol against the new
// price and closes those whose SL or TP the price crossed, emitting
// synthetic close events. Called by the background price updater.
func (s *SimulationAdapter) ApplyTick(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	var closed []CloseEvent
	for id, pos := range s.positions {
		if pos.Symbol != symbol {
			continue
		}
		reason, exit := hitLevel(pos, price)
		if reason == "" {
			continue
		}
		pnl := pnlFor(pos.Side, pos.AvgEntry, exit, pos.Size)
		delete(s.positions, id)

		if acct, err := s.account(pos.UserID); err == nil {
			acct.Balance = acct.Balance.Add(pnl)
			acct.Equity = acct.Balance
			acct.TotalPnL = acct.TotalPnL.Add(pnl)
			if pnl.IsPositive() {
				acct.WinningTrades++
			}
			if err := s.store.SaveSimulationAccount(acct); err != nil {
				log.Error().Err(err).Str("user", pos.UserID).Msg("Simulation account save failed")
			}
		}

		closed = append(closed, CloseEvent{
			BrokerOrderID: id,
			UserID:        pos.UserID,
			Symbol:        pos.Symbol,
			Side:          pos.Side,
			Size:          pos.Size,
			EntryPrice:    pos.AvgEntry,
			ExitPrice:     exit,
			PnL:           pnl,
			ExitReason:    reason,
			OpenedAt:      pos.OpenedAt,
			ClosedAt:      time.Now().UTC(),
		})
	}
	fn := s.onClose
	s.mu.Unlock()

	for _, ev := range closed {
		log.Info().
			Str("symbol", ev.Symbol).
			Str("reason", ev.ExitReason).
			Str("pnl", ev.PnL.StringFixed(2)).
			Msg("Simulated position closed")
		if fn != nil {
			fn(ev)
		}
	}
}

// hitLevel reports which protective level the tick crossed, if any.
// Fills happen at the level itself, not the tick price.
func hitLevel(pos PositionInfo, price decimal.Decimal) (reason string, exit decimal.Decimal) {
	if pos.Side == types.SideLong {
		if !pos.StopLoss.IsZero() && price.LessThanOrEqual(pos.StopLoss) {
			return "stop_loss", pos.StopLoss
		}
		if !pos.TakeProfit.IsZero() && price.GreaterThanOrEqual(pos.TakeProfit) {
			return "take_profit", pos.TakeProfit
		}
		return "", decimal.Zero
	}
	if !pos.StopLoss.IsZero() && price.GreaterThanOrEqual(pos.StopLoss) {
		return "stop_loss", pos.StopLoss
	}
	if !pos.TakeProfit.IsZero() && price.LessThanOrEqual(pos.TakeProfit) {
		return "take_profit", pos.TakeProfit
	}
	return "", decimal.Zero
}
