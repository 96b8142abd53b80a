package settings

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/types"
)

// Patch is a field-wise overlay for Settings. Nil fields are untouched.
// The API layer decodes it with unknown-field rejection, so stray keys
// never reach here.
type Patch struct {
	Mode       *types.Mode       `json:"mode,omitempty"`
	ExecMode   *types.ExecMode   `json:"exec_mode,omitempty"`
	BrokerType *types.BrokerType `json:"broker_type,omitempty"`

	MaxRiskPerTradePct  *decimal.Decimal `json:"max_risk_per_trade_pct,omitempty"`
	MaxDailyLossPct     *decimal.Decimal `json:"max_daily_loss_pct,omitempty"`
	MaxOpenPositions    *int             `json:"max_open_positions,omitempty"`
	MaxTradesPerDay     *int             `json:"max_trades_per_day,omitempty"`
	MaxTradesPerHour    *int             `json:"max_trades_per_hour,omitempty"`
	MinRiskRewardRatio  *decimal.Decimal `json:"min_risk_reward_ratio,omitempty"`
	MaxPositionSizeLots *decimal.Decimal `json:"max_position_size_lots,omitempty"`
	MaxPositionSizePct  *decimal.Decimal `json:"max_position_size_pct,omitempty"`

	AutoDisableStrategies            *bool `json:"auto_disable_strategies,omitempty"`
	StrategyDisableThreshold         *int  `json:"strategy_disable_threshold,omitempty"`
	CancelOrdersOnModeSwitch         *bool `json:"cancel_orders_on_mode_switch,omitempty"`
	RequireConfirmationForAutonomous *bool `json:"require_confirmation_for_autonomous,omitempty"`
}

// apply overlays the patch onto st and returns the changed-field subsets
// (old and new values keyed by field name). Fields set to their current
// value are not counted as changes.
func (p Patch) apply(st *types.Settings) (oldVals, newVals map[string]any) {
	oldVals = make(map[string]any)
	newVals = make(map[string]any)

	set := func(field string, oldVal, newVal any, differs bool, assign func()) {
		if !differs {
			return
		}
		oldVals[field] = oldVal
		newVals[field] = newVal
		assign()
	}

	if p.Mode != nil {
		set("mode", st.Mode, *p.Mode, *p.Mode != st.Mode, func() { st.Mode = *p.Mode })
	}
	if p.ExecMode != nil {
		set("exec_mode", st.ExecMode, *p.ExecMode, *p.ExecMode != st.ExecMode, func() { st.ExecMode = *p.ExecMode })
	}
	if p.BrokerType != nil {
		set("broker_type", st.BrokerType, *p.BrokerType, *p.BrokerType != st.BrokerType, func() { st.BrokerType = *p.BrokerType })
	}
	if p.MaxRiskPerTradePct != nil {
		set("max_risk_per_trade_pct", st.MaxRiskPerTradePct, *p.MaxRiskPerTradePct,
			!p.MaxRiskPerTradePct.Equal(st.MaxRiskPerTradePct), func() { st.MaxRiskPerTradePct = *p.MaxRiskPerTradePct })
	}
	if p.MaxDailyLossPct != nil {
		set("max_daily_loss_pct", st.MaxDailyLossPct, *p.MaxDailyLossPct,
			!p.MaxDailyLossPct.Equal(st.MaxDailyLossPct), func() { st.MaxDailyLossPct = *p.MaxDailyLossPct })
	}
	if p.MaxOpenPositions != nil {
		set("max_open_positions", st.MaxOpenPositions, *p.MaxOpenPositions,
			*p.MaxOpenPositions != st.MaxOpenPositions, func() { st.MaxOpenPositions = *p.MaxOpenPositions })
	}
	if p.MaxTradesPerDay != nil {
		set("max_trades_per_day", st.MaxTradesPerDay, *p.MaxTradesPerDay,
			*p.MaxTradesPerDay != st.MaxTradesPerDay, func() { st.MaxTradesPerDay = *p.MaxTradesPerDay })
	}
	if p.MaxTradesPerHour != nil {
		set("max_trades_per_hour", st.MaxTradesPerHour, *p.MaxTradesPerHour,
			*p.MaxTradesPerHour != st.MaxTradesPerHour, func() { st.MaxTradesPerHour = *p.MaxTradesPerHour })
	}
	if p.MinRiskRewardRatio != nil {
		set("min_risk_reward_ratio", st.MinRiskRewardRatio, *p.MinRiskRewardRatio,
			!p.MinRiskRewardRatio.Equal(st.MinRiskRewardRatio), func() { st.MinRiskRewardRatio = *p.MinRiskRewardRatio })
	}
	if p.MaxPositionSizeLots != nil {
		set("max_position_size_lots", st.MaxPositionSizeLots, *p.MaxPositionSizeLots,
			!p.MaxPositionSizeLots.Equal(st.MaxPositionSizeLots), func() { st.MaxPositionSizeLots = *p.MaxPositionSizeLots })
	}
	if p.MaxPositionSizePct != nil {
		set("max_position_size_pct", st.MaxPositionSizePct, *p.MaxPositionSizePct,
			!p.MaxPositionSizePct.Equal(st.MaxPositionSizePct), func() { st.MaxPositionSizePct = *p.MaxPositionSizePct })
	}
	if p.AutoDisableStrategies != nil {
		set("auto_disable_strategies", st.AutoDisableStrategies, *p.AutoDisableStrategies,
			*p.AutoDisableStrategies != st.AutoDisableStrategies, func() { st.AutoDisableStrategies = *p.AutoDisableStrategies })
	}
	if p.StrategyDisableThreshold != nil {
		set("strategy_disable_threshold", st.StrategyDisableThreshold, *p.StrategyDisableThreshold,
			*p.StrategyDisableThreshold != st.StrategyDisableThreshold, func() { st.StrategyDisableThreshold = *p.StrategyDisableThreshold })
	}
	if p.CancelOrdersOnModeSwitch != nil {
		set("cancel_orders_on_mode_switch", st.CancelOrdersOnModeSwitch, *p.CancelOrdersOnModeSwitch,
			*p.CancelOrdersOnModeSwitch != st.CancelOrdersOnModeSwitch, func() { st.CancelOrdersOnModeSwitch = *p.CancelOrdersOnModeSwitch })
	}
	if p.RequireConfirmationForAutonomous != nil {
		set("require_confirmation_for_autonomous", st.RequireConfirmationForAutonomous, *p.RequireConfirmationForAutonomous,
			*p.RequireConfirmationForAutonomous != st.RequireConfirmationForAutonomous, func() { st.RequireConfirmationForAutonomous = *p.RequireConfirmationForAutonomous })
	}

	return oldVals, newVals
}
