package feeds

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CANDLE FEED PORT - Market data into the pipeline
// ═══════════════════════════════════════════════════════════════════════════════

// Tick is a raw price update, consumed by the simulation broker's SL/TP
// checker and by anyone watching live prices.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
}

// CandleFeed delivers closed candles and raw ticks.
type CandleFeed interface {
	// Start begins streaming; non-blocking.
	Start()

	// Stop tears the stream down.
	Stop()

	// SubscribeCandles returns a channel of closed candles.
	SubscribeCandles() <-chan types.Candle

	// SubscribeTicks returns a channel of raw price updates.
	SubscribeTicks() <-chan Tick

	// Connected reports stream health.
	Connected() bool
}
