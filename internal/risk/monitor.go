package risk

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/limits"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK MONITOR - Account risk state and strategy budget upkeep
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pure state derivation: the execution engine feeds it fills, the feedback
// loop and validator read the result. The emergency latch only clears via
// an explicit manual reset, and every manual override leaves an audit
// decision behind.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier receives risk alerts (Telegram in production, nil in tests).
type Notifier interface {
	EmergencyShutdown(userID string, drawdownPct decimal.Decimal)
	StrategyDisabled(userID, strategy, symbol, reason string)
}

// FillUpdate describes one account-affecting execution event.
type FillUpdate struct {
	UserID      string
	RealizedPnL decimal.Decimal // zero on entry fills
	OpenDelta   int             // +1 position opened, -1 closed
	NewTrade    bool            // counts against daily/hourly budgets
	At          time.Time
}

// ClosedTrade describes one closed trade for budget bookkeeping.
type ClosedTrade struct {
	UserID       string
	StrategyName string
	Symbol       string
	PnL          decimal.Decimal
	ClosedAt     time.Time
}

// Monitor maintains AccountRiskState and StrategyBudget rows.
type Monitor struct {
	store          *storage.Store
	caps           limits.Limits
	locks          *userLocks
	initialBalance decimal.Decimal
	notifier       Notifier
}

// NewMonitor creates the risk monitor. initialBalance seeds the account
// state of users seen for the first time.
func NewMonitor(store *storage.Store, initialBalance decimal.Decimal) *Monitor {
	return &Monitor{
		store:          store,
		caps:           limits.Get(),
		locks:          newUserLocks(),
		initialBalance: initialBalance,
	}
}

// SetNotifier wires the alert channel.
func (m *Monitor) SetNotifier(n Notifier) { m.notifier = n }

// State returns the user's risk state, creating a fresh one when missing.
func (m *Monitor) State(ctx context.Context, userID string) (*types.AccountRiskState, error) {
	st, err := m.store.GetAccountRiskState(userID)
	if err == nil {
		return st, nil
	}
	if !storage.IsNotFound(err) {
		return nil, err
	}
	st = m.freshState(userID)
	if err := m.store.SaveAccountRiskState(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (m *Monitor) freshState(userID string) *types.AccountRiskState {
	now := time.Now().UTC()
	return &types.AccountRiskState{
		UserID:          userID,
		Balance:         m.initialBalance,
		Equity:          m.initialBalance,
		PeakEquity:      m.initialBalance,
		DailyPnLResetAt: now,
		UpdatedAt:       now,
	}
}

// UpdateAccountState folds a fill into the account snapshot: balance,
// equity, peak, drawdown, daily PnL and the trade counters. Crossing the
// emergency drawdown threshold latches the shutdown flag (idempotent).
func (m *Monitor) UpdateAccountState(ctx context.Context, fill FillUpdate) (*types.AccountRiskState, error) {
	mu := m.locks.get(fill.UserID)
	mu.Lock()
	defer mu.Unlock()

	var out *types.AccountRiskState
	err := m.store.Transaction(func(tx *storage.Store) error {
		st, err := tx.GetAccountRiskState(fill.UserID)
		if storage.IsNotFound(err) {
			st = m.freshState(fill.UserID)
		} else if err != nil {
			return err
		}

		at := fill.At
		if at.IsZero() {
			at = time.Now().UTC()
		}

		// Daily window rollover.
		if at.Sub(st.DailyPnLResetAt) >= 24*time.Hour {
			st.DailyPnL = decimal.Zero
			st.TradesToday = 0
			st.DailyPnLResetAt = at
		}

		st.Balance = st.Balance.Add(fill.RealizedPnL)
		st.Equity = st.Balance
		st.DailyPnL = st.DailyPnL.Add(fill.RealizedPnL)
		st.OpenPositionsCount += fill.OpenDelta
		if st.OpenPositionsCount < 0 {
			st.OpenPositionsCount = 0
		}
		if fill.NewTrade {
			st.TradesToday++
			st.TradesThisHour++
		}

		if st.Equity.GreaterThan(st.PeakEquity) {
			st.PeakEquity = st.Equity
		}
		if st.PeakEquity.IsPositive() {
			st.CurrentDrawdownPct = st.PeakEquity.Sub(st.Equity).
				Div(st.PeakEquity).Mul(decimal.NewFromInt(100))
		}

		if !st.EmergencyShutdown && st.CurrentDrawdownPct.GreaterThanOrEqual(m.caps.EmergencyDrawdownPct) {
			st.EmergencyShutdown = true
			if derr := tx.CreateRiskDecision(&types.RiskDecision{
				ID:         uuid.NewString(),
				UserID:     fill.UserID,
				Kind:       types.DecisionShutdown,
				ReasonCode: "drawdown_exceeded",
				Severity:   types.SeverityEmergency,
				CreatedAt:  time.Now().UTC(),
			}); derr != nil {
				return derr
			}
			log.Error().
				Str("user", fill.UserID).
				Str("drawdown_pct", st.CurrentDrawdownPct.StringFixed(2)).
				Msg("🚨 Emergency shutdown latched")
			if m.notifier != nil {
				m.notifier.EmergencyShutdown(fill.UserID, st.CurrentDrawdownPct)
			}
		}

		out = st
		return tx.SaveAccountRiskState(st)
	})
	return out, err
}

// UpdateStrategyBudget folds a closed trade into the (user, strategy,
// symbol) budget. Losses extend the consecutive-loss streak; a win resets
// it. Streaks at the configured threshold disable the budget when
// auto-disable is on.
func (m *Monitor) UpdateStrategyBudget(ctx context.Context, trade ClosedTrade) (*types.StrategyBudget, error) {
	mu := m.locks.get(trade.UserID)
	mu.Lock()
	defer mu.Unlock()

	autoDisable := true
	threshold := m.caps.StrategyAutoDisableThreshold
	if st, err := m.store.GetSettings(trade.UserID); err == nil {
		autoDisable = st.AutoDisableStrategies
		if st.StrategyDisableThreshold > 0 && st.StrategyDisableThreshold < threshold {
			threshold = st.StrategyDisableThreshold
		}
	}

	var out *types.StrategyBudget
	err := m.store.Transaction(func(tx *storage.Store) error {
		b, err := tx.GetStrategyBudget(trade.UserID, trade.StrategyName, trade.Symbol)
		if storage.IsNotFound(err) {
			b = &types.StrategyBudget{
				UserID:       trade.UserID,
				StrategyName: trade.StrategyName,
				Symbol:       trade.Symbol,
				Enabled:      true,
			}
		} else if err != nil {
			return err
		}

		closedAt := trade.ClosedAt
		if closedAt.IsZero() {
			closedAt = time.Now().UTC()
		}

		b.TotalTrades++
		b.LastTradeAt = &closedAt
		if trade.PnL.IsNegative() {
			b.ConsecutiveLosses++
			b.GrossLoss = b.GrossLoss.Add(trade.PnL.Abs())
		} else {
			b.ConsecutiveLosses = 0
			b.WinningTrades++
			b.GrossProfit = b.GrossProfit.Add(trade.PnL)
		}

		if autoDisable && b.Enabled && b.ConsecutiveLosses >= threshold {
			b.Enabled = false
			b.DisabledReason = "consecutive_losses"
			if derr := tx.CreateRiskDecision(&types.RiskDecision{
				ID:         uuid.NewString(),
				UserID:     trade.UserID,
				Kind:       types.DecisionBudgetDisable,
				ReasonCode: "budget_disabled",
				Severity:   types.SeverityCritical,
				CreatedAt:  time.Now().UTC(),
			}); derr != nil {
				return derr
			}
			log.Warn().
				Str("user", trade.UserID).
				Str("strategy", trade.StrategyName).
				Str("symbol", trade.Symbol).
				Int("consecutive_losses", b.ConsecutiveLosses).
				Msg("🛑 Strategy budget disabled")
			if m.notifier != nil {
				m.notifier.StrategyDisabled(trade.UserID, trade.StrategyName, trade.Symbol, "consecutive_losses")
			}
		}

		out = b
		return tx.SaveStrategyBudget(b)
	})
	return out, err
}

// DisableStrategy turns a budget off on behalf of the feedback loop.
func (m *Monitor) DisableStrategy(ctx context.Context, userID, strategy, symbol, reason string) error {
	mu := m.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	return m.store.Transaction(func(tx *storage.Store) error {
		b, err := tx.GetStrategyBudget(userID, strategy, symbol)
		if storage.IsNotFound(err) {
			b = &types.StrategyBudget{
				UserID: userID, StrategyName: strategy, Symbol: symbol, Enabled: true,
			}
		} else if err != nil {
			return err
		}
		if !b.Enabled {
			return nil
		}
		b.Enabled = false
		b.DisabledReason = reason
		if derr := tx.CreateRiskDecision(&types.RiskDecision{
			ID:         uuid.NewString(),
			UserID:     userID,
			Kind:       types.DecisionBudgetDisable,
			ReasonCode: "budget_disabled",
			Severity:   types.SeverityCritical,
			CreatedAt:  time.Now().UTC(),
		}); derr != nil {
			return derr
		}
		return tx.SaveStrategyBudget(b)
	})
}

// ResetEmergency clears the shutdown latch. Manual override, audited.
func (m *Monitor) ResetEmergency(ctx context.Context, userID string) error {
	mu := m.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	return m.store.Transaction(func(tx *storage.Store) error {
		st, err := tx.GetAccountRiskState(userID)
		if err != nil {
			return err
		}
		st.EmergencyShutdown = false
		// A reset re-bases the peak so one old high-water mark cannot
		// immediately re-trip the latch.
		st.PeakEquity = st.Equity
		st.CurrentDrawdownPct = decimal.Zero
		if err := tx.SaveAccountRiskState(st); err != nil {
			return err
		}
		log.Warn().Str("user", userID).Msg("Emergency shutdown reset by operator")
		return tx.CreateRiskDecision(&types.RiskDecision{
			ID:         uuid.NewString(),
			UserID:     userID,
			Kind:       types.DecisionApproval,
			ReasonCode: "emergency_reset",
			Severity:   types.SeverityWarn,
			CreatedAt:  time.Now().UTC(),
		})
	})
}

// ResetDaily zeroes the daily counters. Invoked by the market-day tick or
// manually; audited either way.
func (m *Monitor) ResetDaily(ctx context.Context, userID string) error {
	mu := m.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	return m.store.Transaction(func(tx *storage.Store) error {
		st, err := tx.GetAccountRiskState(userID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		st.DailyPnL = decimal.Zero
		st.TradesToday = 0
		st.TradesThisHour = 0
		st.DailyPnLResetAt = now
		if err := tx.SaveAccountRiskState(st); err != nil {
			return err
		}
		return tx.CreateRiskDecision(&types.RiskDecision{
			ID:         uuid.NewString(),
			UserID:     userID,
			Kind:       types.DecisionApproval,
			ReasonCode: "daily_reset",
			Severity:   types.SeverityInfo,
			CreatedAt:  now,
		})
	})
}

// EnableStrategy re-enables a disabled budget and clears its streak.
func (m *Monitor) EnableStrategy(ctx context.Context, userID, strategy, symbol string) error {
	mu := m.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	return m.store.Transaction(func(tx *storage.Store) error {
		b, err := tx.GetStrategyBudget(userID, strategy, symbol)
		if err != nil {
			return err
		}
		b.Enabled = true
		b.ConsecutiveLosses = 0
		b.DisabledReason = ""
		if err := tx.SaveStrategyBudget(b); err != nil {
			return err
		}
		log.Info().
			Str("user", userID).
			Str("strategy", strategy).
			Str("symbol", symbol).
			Msg("Strategy budget re-enabled by operator")
		return tx.CreateRiskDecision(&types.RiskDecision{
			ID:         uuid.NewString(),
			UserID:     userID,
			Kind:       types.DecisionApproval,
			ReasonCode: "strategy_enabled",
			Severity:   types.SeverityInfo,
			CreatedAt:  time.Now().UTC(),
		})
	})
}
