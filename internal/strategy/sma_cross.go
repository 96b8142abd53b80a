package strategy

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SMA CROSSOVER - Reference strategy
// ═══════════════════════════════════════════════════════════════════════════════
//
// Entry: fast SMA crosses the slow SMA on a closed candle
// SL: entry ∓ sl_pct
// TP: entry ± sl_pct · rr (defaults give 2:1 reward to risk)
//
// Deliberately simple: it exists to exercise the pipeline end to end,
// not to make money.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SMACross emits a long signal on a golden cross and a short signal on a
// death cross.
type SMACross struct {
	mu      sync.RWMutex
	enabled bool
	userID  string

	fastPeriod int
	slowPeriod int
	slPct      decimal.Decimal
	rr         decimal.Decimal
	cooldown   time.Duration

	closes      map[string][]decimal.Decimal
	lastSignal  map[string]time.Time
	signalCount int
}

// NewSMACross creates the strategy for one user, configured from env.
func NewSMACross(userID string) *SMACross {
	return &SMACross{
		enabled:    true,
		userID:     userID,
		fastPeriod: envInt("SMA_FAST_PERIOD", 10),
		slowPeriod: envInt("SMA_SLOW_PERIOD", 30),
		slPct:      envDecimal("SMA_SL_PCT", 0.005),
		rr:         envDecimal("SMA_RR", 2.0),
		cooldown:   time.Duration(envInt("SMA_COOLDOWN_MIN", 30)) * time.Minute,
		closes:     make(map[string][]decimal.Decimal),
		lastSignal: make(map[string]time.Time),
	}
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *SMACross) SetEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = v
}

func (s *SMACross) Config() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"fast_period":  s.fastPeriod,
		"slow_period":  s.slowPeriod,
		"sl_pct":       s.slPct.String(),
		"rr":           s.rr.String(),
		"cooldown":     s.cooldown.String(),
		"signal_count": s.signalCount,
	}
}

// OnCandle folds the closed bar into the window and checks for a cross.
func (s *SMACross) OnCandle(candle types.Candle) *types.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil
	}

	window := append(s.closes[candle.Symbol], candle.Close)
	if len(window) > s.slowPeriod+1 {
		window = window[len(window)-s.slowPeriod-1:]
	}
	s.closes[candle.Symbol] = window

	if len(window) < s.slowPeriod+1 {
		return nil
	}
	if last, ok := s.lastSignal[candle.Symbol]; ok && time.Since(last) < s.cooldown {
		return nil
	}

	prevFast := sma(window[:len(window)-1], s.fastPeriod)
	prevSlow := sma(window[:len(window)-1], s.slowPeriod)
	curFast := sma(window, s.fastPeriod)
	curSlow := sma(window, s.slowPeriod)

	var side types.Side
	switch {
	case prevFast.LessThanOrEqual(prevSlow) && curFast.GreaterThan(curSlow):
		side = types.SideLong
	case prevFast.GreaterThanOrEqual(prevSlow) && curFast.LessThan(curSlow):
		side = types.SideShort
	default:
		return nil
	}

	entry := candle.Close
	risk := entry.Mul(s.slPct)
	var stopLoss, takeProfit decimal.Decimal
	if side == types.SideLong {
		stopLoss = entry.Sub(risk)
		takeProfit = entry.Add(risk.Mul(s.rr))
	} else {
		stopLoss = entry.Add(risk)
		takeProfit = entry.Sub(risk.Mul(s.rr))
	}

	// Confidence scales with how far the fast average pulled away.
	spread := curFast.Sub(curSlow).Abs().Div(curSlow)
	confidence := decimal.NewFromFloat(0.5).Add(decimal.Min(spread.Mul(decimal.NewFromInt(50)), decimal.NewFromFloat(0.45)))

	s.lastSignal[candle.Symbol] = time.Now().UTC()
	s.signalCount++

	sig := buildSignal(s.Name(), s.userID, candle, side, entry, stopLoss, takeProfit, confidence)
	log.Info().
		Str("symbol", candle.Symbol).
		Str("side", string(side)).
		Str("entry", entry.String()).
		Str("rr", sig.RiskReward.StringFixed(2)).
		Msg("📈 SMA cross signal")
	return sig
}

// sma averages the last n values of the window.
func sma(window []decimal.Decimal, n int) decimal.Decimal {
	if len(window) < n || n <= 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range window[len(window)-n:] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

func envDecimal(key string, fallback float64) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return decimal.NewFromFloat(f)
		}
	}
	return decimal.NewFromFloat(fallback)
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
