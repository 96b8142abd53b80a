package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER PORT - The only surface the execution engine talks to
// ═══════════════════════════════════════════════════════════════════════════════
//
// Adapters fail with the stable categories from guarderr: not_connected,
// broker_rejected, transport, timeout, unknown_order. transport and
// timeout are the only retriable ones.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SubmitResult is the broker's answer to an order submission.
type SubmitResult struct {
	BrokerOrderID string
	Status        types.OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
}

// StatusResult is a point-in-time order status poll.
type StatusResult struct {
	Status       types.OrderStatus
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
}

// PositionInfo is a broker-side open position.
type PositionInfo struct {
	BrokerOrderID string
	UserID        string
	Symbol        string
	Side          types.Side
	Size          decimal.Decimal
	AvgEntry      decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	OpenedAt      time.Time
}

// CloseEvent is emitted when a broker-side position closes (SL/TP hit or
// explicit close). The engine turns these into journal entries.
type CloseEvent struct {
	BrokerOrderID string
	UserID        string
	Symbol        string
	Side          types.Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	ExitPrice     decimal.Decimal
	PnL           decimal.Decimal
	ExitReason    string
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// Adapter is the broker port. All blocking methods honor ctx cancellation.
type Adapter interface {
	Type() types.BrokerType
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool

	Submit(ctx context.Context, order *types.ExecutionOrder) (*SubmitResult, error)
	Cancel(ctx context.Context, brokerOrderID string) (bool, error)
	Modify(ctx context.Context, brokerOrderID string, stopLoss, takeProfit *decimal.Decimal) (bool, error)
	Status(ctx context.Context, brokerOrderID string) (*StatusResult, error)
	Positions(ctx context.Context) ([]PositionInfo, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)

	// OnClose registers the close-event sink. One consumer, set at wiring
	// time before any order flows.
	OnClose(fn func(CloseEvent))
}
