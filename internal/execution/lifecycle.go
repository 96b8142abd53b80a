package execution

import "github.com/web3guy0/guardrail/internal/types"

// Order lifecycle: pending is initial; filled, cancelled, rejected,
// expired and failed are terminal. pending → cancelled and
// pending → failed are engine-side transitions (mode-switch cancel and
// retry exhaustion); everything else mirrors broker events.
var legalTransitions = map[types.OrderStatus]map[types.OrderStatus]bool{
	types.OrderPending: {
		types.OrderSubmitted: true,
		types.OrderFilled:    true,
		types.OrderRejected:  true,
		types.OrderCancelled: true,
		types.OrderFailed:    true,
	},
	types.OrderSubmitted: {
		types.OrderPartiallyFilled: true,
		types.OrderFilled:          true,
		types.OrderCancelled:       true,
		types.OrderExpired:         true,
	},
	types.OrderPartiallyFilled: {
		types.OrderFilled:    true,
		types.OrderCancelled: true,
		types.OrderExpired:   true,
	},
}

// canTransition reports whether from → to is a legal lifecycle step.
// Nothing leaves a terminal state.
func canTransition(from, to types.OrderStatus) bool {
	return legalTransitions[from][to]
}
