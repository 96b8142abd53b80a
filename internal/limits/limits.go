package limits

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HARD LIMITS - Compile-time risk ceilings
// ═══════════════════════════════════════════════════════════════════════════════
//
// No setting, request, or computed limit may exceed these. They are read
// once at boot, self-checked against sanity bands, and never mutated.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Hard caps. Soft limits in user settings are clamped to these.
const (
	MaxRiskPerTradePct           = 2.0
	MaxDailyLossPct              = 5.0
	EmergencyDrawdownPct         = 15.0
	MaxOpenPositions             = 10
	MaxTradesPerDay              = 20
	MaxTradesPerHour             = 5
	MinRiskRewardRatio           = 1.5
	MaxPositionSizeLots          = 1.0
	MaxPositionSizePct           = 10.0
	StrategyAutoDisableThreshold = 5
)

// Limits is the frozen view handed to subsystems. Callers receive a copy,
// so nothing downstream can alter the caps.
type Limits struct {
	MaxRiskPerTradePct           decimal.Decimal
	MaxDailyLossPct              decimal.Decimal
	EmergencyDrawdownPct         decimal.Decimal
	MaxOpenPositions             int
	MaxTradesPerDay              int
	MaxTradesPerHour             int
	MinRiskRewardRatio           decimal.Decimal
	MaxPositionSizeLots          decimal.Decimal
	MaxPositionSizePct           decimal.Decimal
	StrategyAutoDisableThreshold int
}

var frozen = Limits{
	MaxRiskPerTradePct:           decimal.NewFromFloat(MaxRiskPerTradePct),
	MaxDailyLossPct:              decimal.NewFromFloat(MaxDailyLossPct),
	EmergencyDrawdownPct:         decimal.NewFromFloat(EmergencyDrawdownPct),
	MaxOpenPositions:             MaxOpenPositions,
	MaxTradesPerDay:              MaxTradesPerDay,
	MaxTradesPerHour:             MaxTradesPerHour,
	MinRiskRewardRatio:           decimal.NewFromFloat(MinRiskRewardRatio),
	MaxPositionSizeLots:          decimal.NewFromFloat(MaxPositionSizeLots),
	MaxPositionSizePct:           decimal.NewFromFloat(MaxPositionSizePct),
	StrategyAutoDisableThreshold: StrategyAutoDisableThreshold,
}

// Get returns the hard limit table.
func Get() Limits {
	return frozen
}

// Validate asserts every hard cap sits inside its sanity band. A violation
// means the binary was built with unsafe constants; the process must not
// trade, so callers abort on error.
func Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"max_risk_per_trade_pct", MaxRiskPerTradePct > 0 && MaxRiskPerTradePct <= 5.0},
		{"max_daily_loss_pct", MaxDailyLossPct > 0 && MaxDailyLossPct <= 10.0},
		{"emergency_drawdown_pct", EmergencyDrawdownPct > MaxDailyLossPct && EmergencyDrawdownPct <= 30.0},
		{"max_open_positions", MaxOpenPositions > 0 && MaxOpenPositions <= 50},
		{"max_trades_per_day", MaxTradesPerDay > 0 && MaxTradesPerDay <= 100},
		{"max_trades_per_hour", MaxTradesPerHour > 0 && MaxTradesPerHour <= MaxTradesPerDay},
		{"min_risk_reward_ratio", MinRiskRewardRatio >= 1.0 && MinRiskRewardRatio <= 5.0},
		{"max_position_size_lots", MaxPositionSizeLots > 0 && MaxPositionSizeLots <= 10.0},
		{"max_position_size_pct", MaxPositionSizePct > 0 && MaxPositionSizePct <= 25.0},
		{"strategy_auto_disable_threshold", StrategyAutoDisableThreshold >= 2 && StrategyAutoDisableThreshold <= 20},
	}

	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("hard limit %s outside sanity band", c.name)
		}
	}
	return nil
}
