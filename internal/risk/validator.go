package risk

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/limits"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK VALIDATOR - Nine ordered pre-trade checks, absolute veto
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every Validate call writes exactly one RiskDecision row, approved or
// rejected, and never silently allows. The checks read one transactional
// snapshot per user; the first failure short-circuits.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Check names, in evaluation order.
const (
	checkEmergencyShutdown = "emergency_shutdown"
	checkAccountDrawdown   = "account_drawdown"
	checkMaxOpenPositions  = "max_open_positions"
	checkDailyTradeLimit   = "daily_trade_limit"
	checkHourlyTradeLimit  = "hourly_trade_limit"
	checkPositionSize      = "position_size"
	checkRiskReward        = "risk_reward"
	checkStrategyBudget    = "strategy_budget"
	checkDailyLossLimit    = "daily_loss_limit"
)

// SettingsSource supplies the user's current soft limits.
type SettingsSource interface {
	Get(ctx context.Context, userID string) (*types.Settings, error)
}

// Validator runs the pre-trade checks.
type Validator struct {
	store    *storage.Store
	settings SettingsSource
	monitor  *Monitor
	caps     limits.Limits
}

// NewValidator creates the risk validator. The monitor supplies (and
// seeds) the account state snapshot and shares the per-user locks so
// validation serializes with fill updates.
func NewValidator(store *storage.Store, settings SettingsSource, monitor *Monitor) *Validator {
	return &Validator{
		store:    store,
		settings: settings,
		monitor:  monitor,
		caps:     limits.Get(),
	}
}

// Validate runs the nine checks in order against one snapshot of the
// user's risk state and returns the recorded decision. The first failed
// check wins; nothing downstream of a rejection runs.
func (v *Validator) Validate(ctx context.Context, signal *types.Signal, requestedSize decimal.Decimal) (*types.RiskDecision, error) {
	soft, err := v.settings.Get(ctx, signal.UserID)
	if err != nil {
		return nil, err
	}

	mu := v.monitor.locks.get(signal.UserID)
	mu.Lock()
	defer mu.Unlock()

	var decision *types.RiskDecision
	err = v.store.Transaction(func(tx *storage.Store) error {
		state, serr := tx.GetAccountRiskState(signal.UserID)
		if storage.IsNotFound(serr) {
			state = v.monitor.freshState(signal.UserID)
			if serr = tx.SaveAccountRiskState(state); serr != nil {
				return serr
			}
		} else if serr != nil {
			return serr
		}

		now := time.Now().UTC()
		passed := make([]string, 0, 9)

		reject := func(check, reason string, kind types.DecisionKind, severity types.Severity) error {
			d, rerr := v.record(tx, signal, state, kind, reason, severity, passed, []string{check})
			if rerr != nil {
				return rerr
			}
			decision = d
			return nil
		}

		// 1. emergency shutdown latch
		if state.EmergencyShutdown {
			return reject(checkEmergencyShutdown, "emergency_shutdown", types.DecisionRejection, types.SeverityEmergency)
		}
		passed = append(passed, checkEmergencyShutdown)

		// 2. drawdown at or past the hard ceiling latches the shutdown
		// inside this same transaction, then rejects.
		if state.CurrentDrawdownPct.GreaterThanOrEqual(v.caps.EmergencyDrawdownPct) {
			state.EmergencyShutdown = true
			if serr := tx.SaveAccountRiskState(state); serr != nil {
				return serr
			}
			log.Error().
				Str("user", signal.UserID).
				Str("drawdown_pct", state.CurrentDrawdownPct.StringFixed(2)).
				Msg("🚨 Drawdown ceiling hit during validation, shutting down")
			return reject(checkAccountDrawdown, "drawdown_exceeded", types.DecisionShutdown, types.SeverityEmergency)
		}
		passed = append(passed, checkAccountDrawdown)

		// 3. open positions against min(soft, hard)
		maxPositions := minInt(soft.MaxOpenPositions, v.caps.MaxOpenPositions)
		if state.OpenPositionsCount >= maxPositions {
			return reject(checkMaxOpenPositions, "max_open_positions", types.DecisionRejection, types.SeverityWarn)
		}
		passed = append(passed, checkMaxOpenPositions)

		// 4. daily trade count; the 24h window is treated as reset here
		// even if the monitor has not rolled it yet.
		tradesToday := state.TradesToday
		if now.Sub(state.DailyPnLResetAt) >= 24*time.Hour {
			tradesToday = 0
		}
		if tradesToday >= minInt(soft.MaxTradesPerDay, v.caps.MaxTradesPerDay) {
			return reject(checkDailyTradeLimit, "daily_limit", types.DecisionRejection, types.SeverityWarn)
		}
		passed = append(passed, checkDailyTradeLimit)

		// 5. sliding 1h window over recorded approvals
		hourly, serr := tx.CountApprovalsSince(signal.UserID, now.Add(-time.Hour))
		if serr != nil {
			return serr
		}
		if hourly >= int64(minInt(soft.MaxTradesPerHour, v.caps.MaxTradesPerHour)) {
			return reject(checkHourlyTradeLimit, "hourly_limit", types.DecisionRejection, types.SeverityWarn)
		}
		passed = append(passed, checkHourlyTradeLimit)

		// 6. absolute lot cap and notional cap
		maxLots := decimal.Min(soft.MaxPositionSizeLots, v.caps.MaxPositionSizeLots)
		maxPct := decimal.Min(soft.MaxPositionSizePct, v.caps.MaxPositionSizePct)
		notional := signal.Entry.Mul(requestedSize)
		maxNotional := maxPct.Div(decimal.NewFromInt(100)).Mul(state.Balance)
		if requestedSize.GreaterThan(maxLots) || notional.GreaterThan(maxNotional) {
			return reject(checkPositionSize, "position_size", types.DecisionRejection, types.SeverityWarn)
		}
		passed = append(passed, checkPositionSize)

		// 7. reward must cover the risk; equality passes.
		rr := signal.RiskReward
		if rr.IsZero() {
			rr = signal.ComputeRiskReward()
		}
		minRR := decimal.Max(soft.MinRiskRewardRatio, v.caps.MinRiskRewardRatio)
		if rr.LessThan(minRR) {
			return reject(checkRiskReward, "rr_too_low", types.DecisionRejection, types.SeverityWarn)
		}
		passed = append(passed, checkRiskReward)

		// 8. strategy budget; a strategy with no budget yet has spent
		// nothing and passes.
		budget, serr := tx.GetStrategyBudget(signal.UserID, signal.StrategyName, signal.Symbol)
		if serr != nil && !storage.IsNotFound(serr) {
			return serr
		}
		if budget != nil && serr == nil {
			threshold := minInt(soft.StrategyDisableThreshold, v.caps.StrategyAutoDisableThreshold)
			if !budget.Enabled || budget.ConsecutiveLosses >= threshold {
				return reject(checkStrategyBudget, "budget_disabled", types.DecisionRejection, types.SeverityCritical)
			}
		}
		passed = append(passed, checkStrategyBudget)

		// 9. projected loss of this trade plus realized losses today must
		// stay inside the daily loss budget.
		dailyPnL := state.DailyPnL
		if now.Sub(state.DailyPnLResetAt) >= 24*time.Hour {
			dailyPnL = decimal.Zero
		}
		riskPct := signal.RiskPct
		if riskPct.IsZero() {
			riskPct = decimal.Min(soft.MaxRiskPerTradePct, v.caps.MaxRiskPerTradePct)
		}
		projected := riskPct.Div(decimal.NewFromInt(100)).Mul(state.Balance)
		realizedLoss := decimal.Zero
		if dailyPnL.IsNegative() {
			realizedLoss = dailyPnL.Abs()
		}
		lossBudget := decimal.Min(soft.MaxDailyLossPct, v.caps.MaxDailyLossPct).
			Div(decimal.NewFromInt(100)).Mul(state.Balance)
		if projected.Add(realizedLoss).GreaterThanOrEqual(lossBudget) {
			return reject(checkDailyLossLimit, "daily_loss", types.DecisionRejection, types.SeverityCritical)
		}
		passed = append(passed, checkDailyLossLimit)

		d, rerr := v.record(tx, signal, state, types.DecisionApproval, "", types.SeverityInfo, passed, nil)
		if rerr != nil {
			return rerr
		}
		decision = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The signal status follows the decision outside the hot section;
	// rejected signals never reach execution regardless.
	newStatus := types.SignalApproved
	if decision.Kind != types.DecisionApproval {
		newStatus = types.SignalRejected
	}
	if uerr := v.store.UpdateSignalStatus(signal.ID, newStatus); uerr != nil {
		log.Warn().Err(uerr).Str("signal", signal.ID).Msg("Signal status update failed")
	}
	signal.Status = newStatus

	if decision.Kind == types.DecisionApproval {
		log.Info().
			Str("user", signal.UserID).
			Str("signal", signal.ID).
			Str("strategy", signal.StrategyName).
			Msg("✅ Signal approved")
	} else {
		log.Warn().
			Str("user", signal.UserID).
			Str("signal", signal.ID).
			Str("reason", decision.ReasonCode).
			Msg("⛔ Signal rejected")
	}
	return decision, nil
}

// record persists the decision row inside the validation transaction.
// A storage failure here aborts the whole validation: no decision row,
// no approval.
func (v *Validator) record(tx *storage.Store, signal *types.Signal, state *types.AccountRiskState,
	kind types.DecisionKind, reason string, severity types.Severity, passed, failed []string) (*types.RiskDecision, error) {

	passedJSON, _ := json.Marshal(passed)
	failedJSON, _ := json.Marshal(failed)
	snapshot, _ := json.Marshal(state)

	d := &types.RiskDecision{
		ID:            uuid.NewString(),
		SignalID:      signal.ID,
		UserID:        signal.UserID,
		Kind:          kind,
		ReasonCode:    reason,
		Severity:      severity,
		ChecksPassed:  string(passedJSON),
		ChecksFailed:  string(failedJSON),
		SnapshotState: string(snapshot),
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.CreateRiskDecision(d); err != nil {
		return nil, err
	}
	return d, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
