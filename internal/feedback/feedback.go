package feedback

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/guardrail/internal/journal"
	"github.com/web3guy0/guardrail/internal/limits"
	"github.com/web3guy0/guardrail/internal/risk"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FEEDBACK LOOP - Journal statistics back into strategy budgets
// ═══════════════════════════════════════════════════════════════════════════════
//
// The loop never mutates settings. Its only powers are disabling a
// strategy budget (through the risk monitor) and emitting optimization
// events for whoever cares to listen.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OptimizationEvent asks an external optimizer to look at a strategy.
// Decoupled by design: nothing in this repo consumes it directly.
type OptimizationEvent struct {
	UserID       string    `json:"user_id"`
	StrategyName string    `json:"strategy_name"`
	Symbol       string    `json:"symbol"`
	WinRate      float64   `json:"win_rate"`
	ProfitFactor float64   `json:"profit_factor"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// SettingsSource supplies the auto-disable flag and threshold.
type SettingsSource interface {
	Get(ctx context.Context, userID string) (*types.Settings, error)
}

// Loop runs periodic performance reviews per strategy budget.
type Loop struct {
	store    *storage.Store
	analyzer *journal.Analyzer
	monitor  *risk.Monitor
	settings SettingsSource
	window   time.Duration
	interval time.Duration
	events   chan OptimizationEvent
}

// New creates the feedback loop. window bounds the journal slice each
// review looks at.
func New(store *storage.Store, analyzer *journal.Analyzer, monitor *risk.Monitor, settings SettingsSource, window, interval time.Duration) *Loop {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Loop{
		store:    store,
		analyzer: analyzer,
		monitor:  monitor,
		settings: settings,
		window:   window,
		interval: interval,
		events:   make(chan OptimizationEvent, 64),
	}
}

// Events exposes the optimization event stream.
func (l *Loop) Events() <-chan OptimizationEvent { return l.events }

// RunCycle reviews one (user, strategy, symbol) and records the verdict.
func (l *Loop) RunCycle(ctx context.Context, userID, strategy, symbol string) (*types.FeedbackDecision, error) {
	res, err := l.analyzer.Analyze(ctx, userID, strategy, symbol, l.window)
	if err != nil {
		return nil, err
	}

	autoDisable := true
	threshold := limits.Get().StrategyAutoDisableThreshold
	if st, serr := l.settings.Get(ctx, userID); serr == nil {
		autoDisable = st.AutoDisableStrategies
		if st.StrategyDisableThreshold > 0 && st.StrategyDisableThreshold < threshold {
			threshold = st.StrategyDisableThreshold
		}
	}

	consecutive := 0
	if budget, berr := l.store.GetStrategyBudget(userID, strategy, symbol); berr == nil {
		consecutive = budget.ConsecutiveLosses
	}

	// A loss-free window yields an infinite profit factor; clamp it so the
	// row survives JSON encoding downstream.
	pf := res.ProfitFactor
	if math.IsInf(pf, 1) {
		pf = math.MaxFloat64
	}

	decision := &types.FeedbackDecision{
		UserID:            userID,
		StrategyName:      strategy,
		Symbol:            symbol,
		WinRate:           res.WinRate,
		ProfitFactor:      pf,
		Expectancy:        res.Expectancy,
		SampleSize:        res.SampleSize,
		ConsecutiveLosses: consecutive,
		CreatedAt:         time.Now().UTC(),
	}

	switch {
	case res.SampleSize < journal.MinSampleSize:
		decision.Action = types.ActionMonitor
		decision.Reason = "insufficient sample"
	case consecutive >= threshold && autoDisable:
		decision.Action = types.ActionDisableStrategy
		decision.Reason = "consecutive loss threshold reached"
		if err := l.monitor.DisableStrategy(ctx, userID, strategy, symbol, "consecutive_losses"); err != nil {
			return nil, err
		}
	case res.WinRate < 0.40 || res.ProfitFactor < 1.0:
		decision.Action = types.ActionTriggerOptimization
		decision.Reason = "underperforming window"
		select {
		case l.events <- OptimizationEvent{
			UserID:       userID,
			StrategyName: strategy,
			Symbol:       symbol,
			WinRate:      res.WinRate,
			ProfitFactor: res.ProfitFactor,
			EmittedAt:    time.Now().UTC(),
		}:
		default:
			log.Warn().Str("strategy", strategy).Msg("Optimization event dropped, channel full")
		}
	default:
		decision.Action = types.ActionMonitor
		decision.Reason = "within acceptable bounds"
	}

	if err := l.store.CreateFeedbackDecision(decision); err != nil {
		return nil, err
	}
	log.Info().
		Str("user", userID).
		Str("strategy", strategy).
		Str("symbol", symbol).
		Str("action", string(decision.Action)).
		Float64("win_rate", decision.WinRate).
		Msg("Feedback cycle recorded")
	return decision, nil
}

// Run reviews every known strategy budget on the configured interval
// until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, userIDs func() []string) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", l.interval).Msg("Feedback loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Feedback loop stopped")
			return
		case <-ticker.C:
			for _, uid := range userIDs() {
				budgets, err := l.store.ListStrategyBudgets(uid)
				if err != nil {
					log.Error().Err(err).Str("user", uid).Msg("Budget listing failed")
					continue
				}
				for _, b := range budgets {
					if _, err := l.RunCycle(ctx, uid, b.StrategyName, b.Symbol); err != nil {
						log.Error().Err(err).
							Str("strategy", b.StrategyName).
							Msg("Feedback cycle failed")
					}
				}
			}
		}
	}
}
