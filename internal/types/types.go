package types

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Domain entities and enums, avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Mode governs whether trades may execute without per-trade approval.
type Mode string

const (
	ModeGuide      Mode = "guide"
	ModeAutonomous Mode = "autonomous"
)

// ExecMode selects the broker adapter and the real-money gate.
type ExecMode string

const (
	ExecModeSimulation ExecMode = "simulation"
	ExecModePaper      ExecMode = "paper"
	ExecModeLive       ExecMode = "live"
)

// Side of a proposed trade.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SignalStatus advances monotonically; a signal is immutable otherwise.
type SignalStatus string

const (
	SignalPending   SignalStatus = "pending"
	SignalApproved  SignalStatus = "approved"
	SignalRejected  SignalStatus = "rejected"
	SignalExecuted  SignalStatus = "executed"
	SignalCancelled SignalStatus = "cancelled"
	SignalExpired   SignalStatus = "expired"
)

// OrderStatus is the execution order lifecycle state.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderSubmitted       OrderStatus = "submitted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
	OrderFailed          OrderStatus = "failed"
)

// PositionStatus for aggregate positions.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// DecisionKind classifies a recorded risk decision.
type DecisionKind string

const (
	DecisionApproval      DecisionKind = "approval"
	DecisionRejection     DecisionKind = "rejection"
	DecisionShutdown      DecisionKind = "shutdown"
	DecisionBudgetDisable DecisionKind = "budget_disable"
)

// Severity of a risk decision.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarn      Severity = "warn"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// JournalSource tags where a journaled trade was executed.
type JournalSource string

const (
	SourceBacktest   JournalSource = "backtest"
	SourcePaper      JournalSource = "paper"
	SourceSimulation JournalSource = "simulation"
	SourceLive       JournalSource = "live"
)

// BrokerType names a registered broker adapter.
type BrokerType string

const (
	BrokerPaper      BrokerType = "paper"
	BrokerSimulation BrokerType = "simulation"
)

// FeedbackAction is the outcome of one feedback cycle.
type FeedbackAction string

const (
	ActionMonitor             FeedbackAction = "monitor"
	ActionDisableStrategy     FeedbackAction = "disable_strategy"
	ActionTriggerOptimization FeedbackAction = "trigger_optimization"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ═══════════════════════════════════════════════════════════════════════════════

// User is the opaque tenant identity; auth resolves bearer tokens to User.ID.
type User struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex"`
	PasswordHash string
	CreatedAt    time.Time
}

// Settings is the versioned per-user soft-limit record. Every mutation bumps
// Version and writes exactly one SettingsAudit row in the same transaction.
type Settings struct {
	UserID   string   `gorm:"primaryKey" json:"user_id"`
	Version  int      `json:"version"`
	Mode     Mode     `json:"mode"`
	ExecMode ExecMode `json:"exec_mode"`

	BrokerType BrokerType `json:"broker_type"`

	MaxRiskPerTradePct  decimal.Decimal `gorm:"type:decimal(10,4)" json:"max_risk_per_trade_pct"`
	MaxDailyLossPct     decimal.Decimal `gorm:"type:decimal(10,4)" json:"max_daily_loss_pct"`
	MaxOpenPositions    int             `json:"max_open_positions"`
	MaxTradesPerDay     int             `json:"max_trades_per_day"`
	MaxTradesPerHour    int             `json:"max_trades_per_hour"`
	MinRiskRewardRatio  decimal.Decimal `gorm:"type:decimal(10,4)" json:"min_risk_reward_ratio"`
	MaxPositionSizeLots decimal.Decimal `gorm:"type:decimal(10,4)" json:"max_position_size_lots"`
	MaxPositionSizePct  decimal.Decimal `gorm:"type:decimal(10,4)" json:"max_position_size_pct"`

	AutoDisableStrategies            bool `json:"auto_disable_strategies"`
	StrategyDisableThreshold         int  `json:"strategy_disable_threshold"`
	CancelOrdersOnModeSwitch         bool `json:"cancel_orders_on_mode_switch"`
	RequireConfirmationForAutonomous bool `json:"require_confirmation_for_autonomous"`

	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// SettingsAudit is the append-only change log for Settings.
type SettingsAudit struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string `gorm:"index" json:"user_id"`
	Version    int    `json:"version"`
	ChangedBy  string `json:"changed_by"`
	ChangedAt  time.Time `json:"changed_at"`
	ChangeType string `json:"change_type"`
	OldValues  string `json:"old_values"` // JSON subset of changed fields
	NewValues  string `json:"new_values"` // JSON subset of changed fields
	Reason     string `json:"reason"`
}

// Signal is a strategy's proposed trade. Immutable except Status.
type Signal struct {
	ID           string          `gorm:"primaryKey" json:"id"`
	StrategyName string          `gorm:"index" json:"strategy_name"`
	UserID       string          `gorm:"index" json:"user_id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Entry        decimal.Decimal `gorm:"type:decimal(20,8)" json:"entry"`
	StopLoss     decimal.Decimal `gorm:"type:decimal(20,8)" json:"stop_loss"`
	TakeProfit   decimal.Decimal `gorm:"type:decimal(20,8)" json:"take_profit"`
	RiskPct      decimal.Decimal `gorm:"type:decimal(10,4)" json:"risk_pct"`
	Confidence   decimal.Decimal `gorm:"type:decimal(10,4)" json:"confidence"`
	RiskReward   decimal.Decimal `gorm:"type:decimal(10,4)" json:"risk_reward"`
	Status       SignalStatus    `gorm:"index" json:"status"`
	SignalTime   time.Time       `json:"signal_time"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ComputeRiskReward returns |tp-entry| / |entry-sl|, zero when undefined.
func (s *Signal) ComputeRiskReward() decimal.Decimal {
	risk := s.Entry.Sub(s.StopLoss).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return s.TakeProfit.Sub(s.Entry).Abs().Div(risk)
}

// Position owns no orders; orders link back by PositionID.
type Position struct {
	ID         string          `gorm:"primaryKey" json:"id"`
	SignalID   string          `gorm:"index" json:"signal_id"`
	UserID     string          `gorm:"index" json:"user_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Size       decimal.Decimal `gorm:"type:decimal(20,8)" json:"size"`
	AvgEntry   decimal.Decimal `gorm:"type:decimal(20,8)" json:"avg_entry"`
	StopLoss   decimal.Decimal `gorm:"type:decimal(20,8)" json:"stop_loss"`
	TakeProfit decimal.Decimal `gorm:"type:decimal(20,8)" json:"take_profit"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
	Status     PositionStatus  `gorm:"index" json:"status"`
}

// AccountRiskState is the per-user risk snapshot the validator reads.
type AccountRiskState struct {
	UserID             string          `gorm:"primaryKey" json:"user_id"`
	Balance            decimal.Decimal `gorm:"type:decimal(20,8)" json:"balance"`
	Equity             decimal.Decimal `gorm:"type:decimal(20,8)" json:"equity"`
	PeakEquity         decimal.Decimal `gorm:"type:decimal(20,8)" json:"peak_equity"`
	CurrentDrawdownPct decimal.Decimal `gorm:"type:decimal(10,4)" json:"current_drawdown_pct"`
	DailyPnL           decimal.Decimal `gorm:"type:decimal(20,8)" json:"daily_pnl"`
	DailyPnLResetAt    time.Time       `json:"daily_pnl_reset_at"`
	OpenPositionsCount int             `json:"open_positions_count"`
	TradesToday        int             `json:"trades_today"`
	TradesThisHour     int             `json:"trades_this_hour"`
	EmergencyShutdown  bool            `json:"emergency_shutdown"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// StrategyBudget is per (user, strategy, symbol) bookkeeping used to
// auto-disable chronic underperformers.
type StrategyBudget struct {
	ID                uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string          `gorm:"uniqueIndex:idx_budget_key" json:"user_id"`
	StrategyName      string          `gorm:"uniqueIndex:idx_budget_key" json:"strategy_name"`
	Symbol            string          `gorm:"uniqueIndex:idx_budget_key" json:"symbol"`
	Enabled           bool            `json:"enabled"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	TotalTrades       int             `json:"total_trades"`
	WinningTrades     int             `json:"winning_trades"`
	GrossProfit       decimal.Decimal `gorm:"type:decimal(20,8)" json:"gross_profit"`
	GrossLoss         decimal.Decimal `gorm:"type:decimal(20,8)" json:"gross_loss"`
	LastTradeAt       *time.Time      `json:"last_trade_at,omitempty"`
	DisabledReason    string          `json:"disabled_reason,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RiskDecision is the append-only record of one validation attempt.
type RiskDecision struct {
	ID            string       `gorm:"primaryKey" json:"id"`
	SignalID      string       `gorm:"index" json:"signal_id"`
	UserID        string       `gorm:"index" json:"user_id"`
	Kind          DecisionKind `json:"kind"`
	ReasonCode    string       `json:"reason_code"`
	Severity      Severity     `json:"severity"`
	ChecksPassed  string       `json:"checks_passed"` // JSON array
	ChecksFailed  string       `json:"checks_failed"` // JSON array
	SnapshotState string       `json:"snapshot_state"` // JSON of AccountRiskState
	CreatedAt     time.Time    `json:"created_at"`
}

// ExecutionOrder is a broker submission. ClientOrderID is the idempotency key.
type ExecutionOrder struct {
	ID            string          `gorm:"primaryKey" json:"id"`
	ClientOrderID string          `gorm:"uniqueIndex" json:"client_order_id"`
	BrokerOrderID string          `gorm:"index" json:"broker_order_id,omitempty"`
	BrokerType    BrokerType      `json:"broker_type"`
	Symbol        string          `json:"symbol"`
	OrderType     string          `json:"order_type"`
	Side          Side            `json:"side"`
	Qty           decimal.Decimal `gorm:"type:decimal(20,8)" json:"qty"`
	Price         decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	StopPrice     decimal.Decimal `gorm:"type:decimal(20,8)" json:"stop_price"`
	StopLoss      decimal.Decimal `gorm:"type:decimal(20,8)" json:"stop_loss"`
	TakeProfit    decimal.Decimal `gorm:"type:decimal(20,8)" json:"take_profit"`
	Status        OrderStatus     `gorm:"index" json:"status"`
	FilledQty     decimal.Decimal `gorm:"type:decimal(20,8)" json:"filled_qty"`
	AvgFillPrice  decimal.Decimal `gorm:"type:decimal(20,8)" json:"avg_fill_price"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
	FilledAt      *time.Time      `json:"filled_at,omitempty"`
	SignalID      string          `gorm:"index" json:"signal_id"`
	PositionID    string          `json:"position_id,omitempty"`
	StrategyName  string          `json:"strategy_name"`
	ErrorMsg      string          `json:"error_msg,omitempty"`
	RetryCount    int             `json:"retry_count"`
	UserID        string          `gorm:"index" json:"user_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the order can never transition again.
func (o *ExecutionOrder) IsTerminal() bool {
	switch o.Status {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired, OrderFailed:
		return true
	}
	return false
}

// ExecutionLog is the append-only order event trail.
type ExecutionLog struct {
	ID        uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   string      `gorm:"index" json:"order_id"`
	EventType string      `json:"event_type"`
	EventData string      `json:"event_data"`
	OldStatus OrderStatus `json:"old_status,omitempty"`
	NewStatus OrderStatus `json:"new_status,omitempty"`
	EventTime time.Time   `json:"event_time"`
}

// JournalEntry is the immutable post-close record of a trade. The hooks
// below make gorm refuse updates and deletes; the store exposes no
// mutation path either.
type JournalEntry struct {
	ID           uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryUID     string          `gorm:"uniqueIndex" json:"entry_uid"`
	StrategyName string          `gorm:"index" json:"strategy_name"`
	Symbol       string          `gorm:"index" json:"symbol"`
	UserID       string          `gorm:"index" json:"user_id"`
	Source       JournalSource   `json:"source"`
	Side         Side            `json:"side"`
	Entry        decimal.Decimal `gorm:"type:decimal(20,8)" json:"entry"`
	Exit         decimal.Decimal `gorm:"type:decimal(20,8)" json:"exit"`
	Size         decimal.Decimal `gorm:"type:decimal(20,8)" json:"size"`
	PnL          decimal.Decimal `gorm:"type:decimal(20,8)" json:"pnl"`
	DurationSecs int64           `json:"duration_secs"`
	ExitReason   string          `json:"exit_reason"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     time.Time       `gorm:"index" json:"closed_at"`
	SignalID     string          `json:"signal_id"`
	OrderID      string          `json:"order_id"`
}

// ErrJournalImmutable is returned on any attempt to mutate a journal row.
var ErrJournalImmutable = errors.New("journal entries are immutable")

// BeforeUpdate blocks journal mutation at the ORM layer.
func (JournalEntry) BeforeUpdate(*gorm.DB) error { return ErrJournalImmutable }

// BeforeDelete blocks journal deletion at the ORM layer.
func (JournalEntry) BeforeDelete(*gorm.DB) error { return ErrJournalImmutable }

// SimulationAccount backs the simulation broker adapter.
type SimulationAccount struct {
	UserID           string          `gorm:"primaryKey" json:"user_id"`
	Balance          decimal.Decimal `gorm:"type:decimal(20,8)" json:"balance"`
	Equity           decimal.Decimal `gorm:"type:decimal(20,8)" json:"equity"`
	InitialBalance   decimal.Decimal `gorm:"type:decimal(20,8)" json:"initial_balance"`
	SlippagePips     decimal.Decimal `gorm:"type:decimal(10,4)" json:"slippage_pips"`
	CommissionPerLot decimal.Decimal `gorm:"type:decimal(10,4)" json:"commission_per_lot"`
	LatencyMs        int             `json:"latency_ms"`
	FillProbability  float64         `json:"fill_probability"`
	TotalTrades      int             `json:"total_trades"`
	WinningTrades    int             `json:"winning_trades"`
	TotalPnL         decimal.Decimal `gorm:"type:decimal(20,8)" json:"total_pnl"`
	LastResetAt      time.Time       `json:"last_reset_at"`
}

// BrokerConnection tracks adapter connectivity per user.
type BrokerConnection struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          string     `gorm:"uniqueIndex:idx_broker_conn" json:"user_id"`
	BrokerType      BrokerType `gorm:"uniqueIndex:idx_broker_conn" json:"broker_type"`
	Connected       bool       `json:"connected"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FeedbackDecision is the immutable record of one feedback cycle.
type FeedbackDecision struct {
	ID                uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string         `gorm:"index" json:"user_id"`
	StrategyName      string         `gorm:"index" json:"strategy_name"`
	Symbol            string         `json:"symbol"`
	Action            FeedbackAction `json:"action"`
	WinRate           float64        `json:"win_rate"`
	ProfitFactor      float64        `json:"profit_factor"`
	Expectancy        float64        `json:"expectancy"`
	SampleSize        int            `json:"sample_size"`
	ConsecutiveLosses int            `json:"consecutive_losses"`
	Reason            string         `json:"reason"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Candle is one OHLCV bar, timestamps UTC.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
}
