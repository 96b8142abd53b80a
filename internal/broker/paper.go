package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER ADAPTER - Instant fills at entry ± slippage, state in memory
// ═══════════════════════════════════════════════════════════════════════════════

type paperOrder struct {
	result   SubmitResult
	position PositionInfo
	closed   bool
}

// PaperAdapter fills market orders instantly. Long fills pay the slippage,
// short fills receive it.
type PaperAdapter struct {
	mu        sync.RWMutex
	connected bool
	slippage  decimal.Decimal
	balance   decimal.Decimal
	orders    map[string]*paperOrder
	onClose   func(CloseEvent)
}

// NewPaperAdapter creates a paper broker with the given fill slippage
// (absolute price units) and starting balance.
func NewPaperAdapter(slippage, balance decimal.Decimal) *PaperAdapter {
	return &PaperAdapter{
		slippage: slippage,
		balance:  balance,
		orders:   make(map[string]*paperOrder),
	}
}

func (p *PaperAdapter) Type() types.BrokerType { return types.BrokerPaper }

func (p *PaperAdapter) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	log.Info().Msg("📝 Paper broker connected")
	return nil
}

func (p *PaperAdapter) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
}

func (p *PaperAdapter) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *PaperAdapter) OnClose(fn func(CloseEvent)) { p.onClose = fn }

// Submit fills immediately at order.Price adjusted for slippage.
func (p *PaperAdapter) Submit(ctx context.Context, order *types.ExecutionOrder) (*SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, guarderr.New(guarderr.CodeTimeout, "submit cancelled")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, guarderr.New(guarderr.CodeNotConnected, "paper broker not connected")
	}

	fill := order.Price
	if order.Side == types.SideLong {
		fill = fill.Add(p.slippage)
	} else {
		fill = fill.Sub(p.slippage)
	}

	id := "paper-" + uuid.NewString()
	res := SubmitResult{
		BrokerOrderID: id,
		Status:        types.OrderFilled,
		FilledQty:     order.Qty,
		AvgFillPrice:  fill,
	}
	p.orders[id] = &paperOrder{
		result: res,
		position: PositionInfo{
			BrokerOrderID: id,
			UserID:        order.UserID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Size:          order.Qty,
			AvgEntry:      fill,
			StopLoss:      order.StopLoss,
			TakeProfit:    order.TakeProfit,
			OpenedAt:      time.Now().UTC(),
		},
	}
	log.Debug().
		Str("broker_order", id).
		Str("symbol", order.Symbol).
		Str("fill", fill.String()).
		Msg("Paper order filled")
	return &res, nil
}

// Cancel never succeeds on a paper order, fills are instant.
func (p *PaperAdapter) Cancel(ctx context.Context, brokerOrderID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.orders[brokerOrderID]; !ok {
		return false, guarderr.New(guarderr.CodeUnknownOrder, "unknown paper order")
	}
	return false, nil
}

// Modify updates the stored SL/TP on the open position.
func (p *PaperAdapter) Modify(ctx context.Context, brokerOrderID string, stopLoss, takeProfit *decimal.Decimal) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return false, guarderr.New(guarderr.CodeUnknownOrder, "unknown paper order")
	}
	if stopLoss != nil {
		o.position.StopLoss = *stopLoss
	}
	if takeProfit != nil {
		o.position.TakeProfit = *takeProfit
	}
	return true, nil
}

func (p *PaperAdapter) Status(ctx context.Context, brokerOrderID string) (*StatusResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return nil, guarderr.New(guarderr.CodeUnknownOrder, "unknown paper order")
	}
	return &StatusResult{
		Status:       o.result.Status,
		FilledQty:    o.result.FilledQty,
		AvgFillPrice: o.result.AvgFillPrice,
	}, nil
}

func (p *PaperAdapter) Positions(ctx context.Context) ([]PositionInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PositionInfo, 0, len(p.orders))
	for _, o := range p.orders {
		if !o.closed {
			out = append(out, o.position)
		}
	}
	return out, nil
}

func (p *PaperAdapter) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance, nil
}

// ClosePosition closes an open paper position at the given price and
// emits the close event. Used by the manual-close path.
func (p *PaperAdapter) ClosePosition(brokerOrderID string, exitPrice decimal.Decimal, reason string) error {
	p.mu.Lock()
	o, ok := p.orders[brokerOrderID]
	if !ok || o.closed {
		p.mu.Unlock()
		return guarderr.New(guarderr.CodeUnknownOrder, "unknown paper order")
	}
	o.closed = true
	pos := o.position
	pnl := pnlFor(pos.Side, pos.AvgEntry, exitPrice, pos.Size)
	p.balance = p.balance.Add(pnl)
	fn := p.onClose
	p.mu.Unlock()

	if fn != nil {
		fn(CloseEvent{
			BrokerOrderID: brokerOrderID,
			UserID:        pos.UserID,
			Symbol:        pos.Symbol,
			Side:          pos.Side,
			Size:          pos.Size,
			EntryPrice:    pos.AvgEntry,
			ExitPrice:     exitPrice,
			PnL:           pnl,
			ExitReason:    reason,
			OpenedAt:      pos.OpenedAt,
			ClosedAt:      time.Now().UTC(),
		})
	}
	return nil
}

// pnlFor computes signed PnL for a closed position.
func pnlFor(side types.Side, entry, exit, size decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(size)
}
