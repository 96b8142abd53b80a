package journal

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE JOURNAL - Append-only record of closed trades + performance math
// ═══════════════════════════════════════════════════════════════════════════════

// Writer appends closed trades to the journal. There is no update or
// delete path anywhere in the system.
type Writer struct {
	store *storage.Store
}

// NewWriter creates the journal writer.
func NewWriter(store *storage.Store) *Writer {
	return &Writer{store: store}
}

// Record persists one immutable entry for a closed trade.
func (w *Writer) Record(ctx context.Context, e *types.JournalEntry) error {
	if e.EntryUID == "" {
		e.EntryUID = uuid.NewString()
	}
	if e.ClosedAt.IsZero() {
		e.ClosedAt = time.Now().UTC()
	}
	if e.DurationSecs == 0 && !e.OpenedAt.IsZero() {
		e.DurationSecs = int64(e.ClosedAt.Sub(e.OpenedAt).Seconds())
	}
	if err := w.store.CreateJournalEntry(e); err != nil {
		return err
	}
	log.Info().
		Str("user", e.UserID).
		Str("strategy", e.StrategyName).
		Str("symbol", e.Symbol).
		Str("pnl", e.PnL.StringFixed(2)).
		Str("exit_reason", e.ExitReason).
		Msg("📓 Trade journaled")
	return nil
}

// MinSampleSize is the floor below which no performance verdict is meaningful.
const MinSampleSize = 10

// Result is one analyzer pass over a (strategy, symbol) window.
type Result struct {
	StrategyName      string  `json:"strategy_name"`
	Symbol            string  `json:"symbol"`
	WinRate           float64 `json:"win_rate"`
	ProfitFactor      float64 `json:"profit_factor"`
	Expectancy        float64 `json:"expectancy"`
	MaxConsecutiveLosses int  `json:"max_consecutive_losses"`
	SampleSize        int     `json:"sample_size"`
}

// Analyzer computes performance statistics over the journal. Read-only.
type Analyzer struct {
	store *storage.Store
}

// NewAnalyzer creates the performance analyzer.
func NewAnalyzer(store *storage.Store) *Analyzer {
	return &Analyzer{store: store}
}

// Analyze aggregates the window's closed trades for one strategy/symbol.
func (a *Analyzer) Analyze(ctx context.Context, userID, strategy, symbol string, window time.Duration) (*Result, error) {
	since := time.Now().UTC().Add(-window)
	entries, err := a.store.JournalEntriesSince(userID, strategy, symbol, since)
	if err != nil {
		return nil, err
	}

	res := &Result{StrategyName: strategy, Symbol: symbol, SampleSize: len(entries)}
	if len(entries) == 0 {
		return res, nil
	}

	var wins int
	var grossProfit, grossLoss, total float64
	var streak, maxStreak int
	for _, e := range entries {
		pnl, _ := e.PnL.Float64()
		total += pnl
		if pnl > 0 {
			wins++
			grossProfit += pnl
			streak = 0
		} else {
			grossLoss += -pnl
			streak++
			if streak > maxStreak {
				maxStreak = streak
			}
		}
	}

	res.WinRate = float64(wins) / float64(len(entries))
	res.Expectancy = total / float64(len(entries))
	res.MaxConsecutiveLosses = maxStreak
	switch {
	case grossLoss > 0:
		res.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		res.ProfitFactor = math.Inf(1)
	default:
		res.ProfitFactor = 0
	}
	return res, nil
}

// DetectUnderperformance reports whether the window is bad enough to act
// on. Small samples never trigger.
func (a *Analyzer) DetectUnderperformance(res *Result) bool {
	if res.SampleSize < MinSampleSize {
		return false
	}
	return res.WinRate < 0.40 || res.ProfitFactor < 1.0 || res.MaxConsecutiveLosses >= 5
}
