package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/guardrail/internal/broker"
	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER MONITOR - Background reconciliation of non-terminal orders
// ═══════════════════════════════════════════════════════════════════════════════

// minMonitorInterval keeps a misconfigured interval from busy-polling.
const minMonitorInterval = time.Second

// OrderMonitor periodically scans non-terminal orders, retries pending
// submissions and reconciles submitted orders against broker status.
type OrderMonitor struct {
	engine   *Engine
	interval time.Duration
}

// NewOrderMonitor creates the monitor loop. Intervals under one second
// are raised to the floor.
func NewOrderMonitor(engine *Engine, interval time.Duration) *OrderMonitor {
	if interval < minMonitorInterval {
		interval = minMonitorInterval
	}
	return &OrderMonitor{engine: engine, interval: interval}
}

// Run blocks until ctx is cancelled.
func (m *OrderMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", m.interval).Msg("Order monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Order monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep reconciles every non-terminal order once. Orders are locked
// individually so sweeps may overlap engine calls safely.
func (m *OrderMonitor) Sweep(ctx context.Context) {
	orders, err := m.engine.store.ListNonTerminalOrders("")
	if err != nil {
		log.Error().Err(err).Msg("Order sweep listing failed")
		return
	}
	for i := range orders {
		m.reconcile(ctx, &orders[i])
	}
}

func (m *OrderMonitor) reconcile(ctx context.Context, order *types.ExecutionOrder) {
	lock := m.engine.orderLock(order.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; another path may have advanced it.
	fresh, err := m.engine.store.GetOrder(order.UserID, order.ID)
	if err != nil || fresh.IsTerminal() {
		return
	}
	order = fresh

	a := m.engine.adapter(order.BrokerType)
	if a == nil {
		return
	}

	switch order.Status {
	case types.OrderPending:
		m.retryPending(ctx, order, a)
	case types.OrderSubmitted, types.OrderPartiallyFilled:
		m.pollStatus(ctx, order, a)
	}
}

// retryPending re-submits a pending order. When retries run out the
// order fails terminally after a best-effort broker cancel.
func (m *OrderMonitor) retryPending(ctx context.Context, order *types.ExecutionOrder, a broker.Adapter) {
	if order.RetryCount >= m.engine.cfg.MaxRetries {
		if order.BrokerOrderID != "" {
			if _, cerr := a.Cancel(ctx, order.BrokerOrderID); cerr != nil {
				log.Debug().Err(cerr).Str("order", order.ID).Msg("Best-effort cancel before fail")
			}
		}
		if terr := m.engine.transition(order, types.OrderFailed, "retries_exhausted", nil); terr != nil {
			log.Warn().Err(terr).Str("order", order.ID).Msg("Fail transition rejected")
		}
		return
	}

	if _, err := m.engine.submit(ctx, a, order, nil); err != nil && guarderr.Retriable(err) {
		log.Debug().
			Str("order", order.ID).
			Int("retry_count", order.RetryCount).
			Msg("Pending order retry failed, will try again")
	}
}

// pollStatus asks the broker where the order stands and applies the
// resulting transition.
func (m *OrderMonitor) pollStatus(ctx context.Context, order *types.ExecutionOrder, a broker.Adapter) {
	res, err := a.Status(ctx, order.BrokerOrderID)
	if err != nil {
		if guarderr.Is(err, guarderr.CodeUnknownOrder) {
			// The broker forgot the order: treat as expired.
			if terr := m.engine.transition(order, types.OrderExpired, "broker_lost_order", nil); terr != nil {
				log.Warn().Err(terr).Str("order", order.ID).Msg("Expire transition rejected")
			}
		}
		return
	}

	switch res.Status {
	case types.OrderFilled:
		now := time.Now().UTC()
		order.FilledQty = res.FilledQty
		order.AvgFillPrice = res.AvgFillPrice
		order.FilledAt = &now
		if terr := m.engine.transition(order, types.OrderFilled, "status_filled", map[string]any{
			"fill_price": res.AvgFillPrice.String(),
		}); terr == nil {
			m.engine.onFilled(ctx, order, nil)
		}
	case types.OrderPartiallyFilled:
		if order.Status == types.OrderPartiallyFilled {
			return
		}
		order.FilledQty = res.FilledQty
		order.AvgFillPrice = res.AvgFillPrice
		if terr := m.engine.transition(order, types.OrderPartiallyFilled, "status_partial", nil); terr != nil {
			log.Warn().Err(terr).Str("order", order.ID).Msg("Partial transition rejected")
		}
	case types.OrderCancelled:
		if terr := m.engine.transition(order, types.OrderCancelled, "status_cancelled", nil); terr != nil {
			log.Warn().Err(terr).Str("order", order.ID).Msg("Cancel transition rejected")
		}
	case types.OrderExpired:
		if terr := m.engine.transition(order, types.OrderExpired, "status_expired", nil); terr != nil {
			log.Warn().Err(terr).Str("order", order.ID).Msg("Expire transition rejected")
		}
	}
}
