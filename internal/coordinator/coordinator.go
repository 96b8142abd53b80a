package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/execution"
	"github.com/web3guy0/guardrail/internal/feedback"
	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/risk"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/strategy"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COORDINATOR - Deterministic cycle driver for the trading pipeline
// ═══════════════════════════════════════════════════════════════════════════════
//
// One cycle per (user, candle): strategy_analysis → risk_validation →
// execution → journal_update, advanced only here. A process-wide Halt
// short-circuits running cycles and cancels in-flight broker I/O. Agent
// heartbeats gate new cycles: stale or error-heavy advisors refuse work.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Phase names, in order.
const (
	PhaseStrategyAnalysis = "strategy_analysis"
	PhaseRiskValidation   = "risk_validation"
	PhaseExecution        = "execution"
	PhaseJournalUpdate    = "journal_update"
	PhaseIdle             = "idle"
)

const (
	heartbeatStaleAfter = 60 * time.Second
	maxErrorRate        = 0.5
)

// SettingsSource supplies per-user settings for sizing.
type SettingsSource interface {
	Get(ctx context.Context, userID string) (*types.Settings, error)
}

// heartbeat tracks one advisor's recent health.
type heartbeat struct {
	ok       bool
	errors   int
	total    int
	lastSeen time.Time
}

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	UserID    string
	Symbol    string
	Signal    *types.Signal
	Decision  *types.RiskDecision
	Order     *types.ExecutionOrder
	Phase     string // last phase reached
	StartedAt time.Time
	Duration  time.Duration
}

// Coordinator drives candles through the pipeline.
type Coordinator struct {
	store     *storage.Store
	settings  SettingsSource
	validator *risk.Validator
	engine    *execution.Engine
	monitor   *risk.Monitor
	loop      *feedback.Loop

	halt atomic.Bool

	mu         sync.RWMutex
	strategies map[string][]strategy.Strategy // userID → strategies
	heartbeats map[string]*heartbeat
	phase      string
	cancelRun  context.CancelFunc
}

// New creates the coordinator.
func New(store *storage.Store, settings SettingsSource, validator *risk.Validator, engine *execution.Engine, monitor *risk.Monitor, loop *feedback.Loop) *Coordinator {
	return &Coordinator{
		store:      store,
		settings:   settings,
		validator:  validator,
		engine:     engine,
		monitor:    monitor,
		loop:       loop,
		strategies: make(map[string][]strategy.Strategy),
		heartbeats: make(map[string]*heartbeat),
		phase:      PhaseIdle,
	}
}

// RegisterStrategy attaches a signal generator to a user's pipeline.
func (c *Coordinator) RegisterStrategy(userID string, s strategy.Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[userID] = append(c.strategies[userID], s)
}

// Users returns every user with a registered pipeline.
func (c *Coordinator) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.strategies))
	for uid := range c.strategies {
		out = append(out, uid)
	}
	return out
}

// Halt short-circuits all cycles and cancels in-flight broker I/O.
func (c *Coordinator) Halt() {
	c.halt.Store(true)
	c.mu.Lock()
	cancel := c.cancelRun
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	log.Warn().Msg("🛑 Coordinator halted")
}

// Resume clears the halt flag.
func (c *Coordinator) Resume() {
	c.halt.Store(false)
	log.Info().Msg("Coordinator resumed")
}

// Halted reports the halt flag.
func (c *Coordinator) Halted() bool { return c.halt.Load() }

// Phase returns the currently executing phase.
func (c *Coordinator) Phase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

func (c *Coordinator) setPhase(p string) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// RecordHeartbeat folds one advisor report into the registry.
func (c *Coordinator) RecordHeartbeat(agent string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hb, ok := c.heartbeats[agent]
	if !ok {
		hb = &heartbeat{}
		c.heartbeats[agent] = hb
	}
	hb.total++
	if err != nil {
		hb.errors++
		hb.ok = false
	} else {
		hb.ok = true
	}
	hb.lastSeen = time.Now().UTC()
	// Sliding window: decay old counts so one bad hour is survivable.
	if hb.total > 100 {
		hb.total /= 2
		hb.errors /= 2
	}
}

// HealthOK gates new cycles and the guide → autonomous switch. It fails
// when halted, when any advisor is stale past 60s, or when an advisor's
// error rate exceeds 50%.
func (c *Coordinator) HealthOK(userID string) error {
	if c.Halted() {
		return guarderr.New(guarderr.CodeHealthCheckFailed, "coordinator halted")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now().UTC()
	for name, hb := range c.heartbeats {
		if now.Sub(hb.lastSeen) > heartbeatStaleAfter {
			return guarderr.Newf(guarderr.CodeHealthCheckFailed, "advisor %s heartbeat stale", name)
		}
		if hb.total > 0 && float64(hb.errors)/float64(hb.total) > maxErrorRate {
			return guarderr.Newf(guarderr.CodeHealthCheckFailed, "advisor %s error rate too high", name)
		}
	}
	return nil
}

// RunCycle drives one candle through one user's pipeline.
func (c *Coordinator) RunCycle(ctx context.Context, userID string, candle types.Candle) (*CycleResult, error) {
	if c.Halted() {
		return nil, guarderr.New(guarderr.CodeHealthCheckFailed, "coordinator halted")
	}
	if err := c.HealthOK(userID); err != nil {
		return nil, err
	}

	res := &CycleResult{UserID: userID, Symbol: candle.Symbol, StartedAt: time.Now().UTC()}
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		c.setPhase(PhaseIdle)
	}()

	// Phase 1: strategies propose.
	c.setPhase(PhaseStrategyAnalysis)
	res.Phase = PhaseStrategyAnalysis
	var sig *types.Signal
	c.mu.RLock()
	strategies := c.strategies[userID]
	c.mu.RUnlock()
	for _, s := range strategies {
		if !s.Enabled() {
			continue
		}
		if proposed := s.OnCandle(candle); proposed != nil {
			sig = proposed
			break
		}
	}
	if sig == nil {
		return res, nil
	}
	res.Signal = sig
	if err := c.store.CreateSignal(sig); err != nil {
		return res, err
	}

	if c.Halted() {
		return res, guarderr.New(guarderr.CodeHealthCheckFailed, "halted mid-cycle")
	}

	// Phase 2: the validator gets its veto.
	c.setPhase(PhaseRiskValidation)
	res.Phase = PhaseRiskValidation
	size, err := c.positionSize(ctx, userID, sig)
	if err != nil {
		return res, err
	}
	decision, err := c.validator.Validate(ctx, sig, size)
	if err != nil {
		c.RecordHeartbeat("risk_validator", err)
		return res, err
	}
	c.RecordHeartbeat("risk_validator", nil)
	res.Decision = decision
	if decision.Kind != types.DecisionApproval {
		return res, nil
	}

	if c.Halted() {
		return res, guarderr.New(guarderr.CodeHealthCheckFailed, "halted mid-cycle")
	}

	// Phase 3: execution.
	c.setPhase(PhaseExecution)
	res.Phase = PhaseExecution
	order, err := c.engine.Execute(ctx, sig, size, false)
	c.RecordHeartbeat("execution_engine", err)
	if err != nil {
		return res, err
	}
	res.Order = order

	// Phase 4: budget bookkeeping review for the strategy that traded.
	c.setPhase(PhaseJournalUpdate)
	res.Phase = PhaseJournalUpdate
	if c.loop != nil {
		if _, ferr := c.loop.RunCycle(ctx, userID, sig.StrategyName, sig.Symbol); ferr != nil {
			log.Warn().Err(ferr).Str("strategy", sig.StrategyName).Msg("Journal update phase failed")
		}
	}
	return res, nil
}

// positionSize derives the lot size from the signal's risk budget, capped
// by the user's lot ceiling.
func (c *Coordinator) positionSize(ctx context.Context, userID string, sig *types.Signal) (decimal.Decimal, error) {
	st, err := c.settings.Get(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	state, err := c.monitor.State(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	riskPct := sig.RiskPct
	if riskPct.IsZero() || riskPct.GreaterThan(st.MaxRiskPerTradePct) {
		riskPct = st.MaxRiskPerTradePct
	}
	perUnit := sig.Entry.Sub(sig.StopLoss).Abs()
	if perUnit.IsZero() {
		return decimal.Zero, guarderr.New(guarderr.CodeValidationFailed, "signal has no stop distance")
	}
	size := riskPct.Div(decimal.NewFromInt(100)).Mul(state.Balance).Div(perUnit)
	return decimal.Min(size, st.MaxPositionSizeLots), nil
}

// Run consumes closed candles until ctx is cancelled, fanning each one
// out to every registered user pipeline.
func (c *Coordinator) Run(ctx context.Context, candles <-chan types.Candle) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()
	defer cancel()

	log.Info().Msg("Coordinator started")
	for {
		select {
		case <-runCtx.Done():
			log.Info().Msg("Coordinator stopped")
			return
		case candle, ok := <-candles:
			if !ok {
				return
			}
			for _, uid := range c.Users() {
				if _, err := c.RunCycle(runCtx, uid, candle); err != nil {
					log.Warn().Err(err).
						Str("user", uid).
						Str("symbol", candle.Symbol).
						Msg("Cycle failed")
				}
			}
		}
	}
}
