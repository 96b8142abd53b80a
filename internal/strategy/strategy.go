package strategy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY INTERFACE - Plug-in pattern for signal generators
// ═══════════════════════════════════════════════════════════════════════════════
//
// The coordinator calls OnCandle for every closed bar; the strategy
// answers with a signal proposal or nil. Strategies never talk to the
// risk validator or the broker: proposing is their entire job.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Strategy is the interface all signal generators implement.
type Strategy interface {
	// Name returns the strategy identifier used in budgets and journals.
	Name() string

	// OnCandle processes one closed candle and returns a signal or nil.
	OnCandle(candle types.Candle) *types.Signal

	// Enabled reports whether the strategy is active.
	Enabled() bool

	// Config returns the strategy configuration for the status surface.
	Config() map[string]interface{}
}

// buildSignal assembles a fully-populated proposal in pending status.
func buildSignal(name, userID string, candle types.Candle, side types.Side,
	entry, stopLoss, takeProfit, confidence decimal.Decimal) *types.Signal {

	s := &types.Signal{
		ID:           uuid.NewString(),
		StrategyName: name,
		UserID:       userID,
		Symbol:       candle.Symbol,
		Side:         side,
		Entry:        entry,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		RiskPct:      decimal.NewFromFloat(1.0),
		Confidence:   confidence,
		Status:       types.SignalPending,
		SignalTime:   candle.CloseTime,
		CreatedAt:    time.Now().UTC(),
	}
	s.RiskReward = s.ComputeRiskReward()
	return s
}
