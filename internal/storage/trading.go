package storage

import (
	"time"

	"github.com/web3guy0/guardrail/internal/types"
)

// Signals, positions, execution orders and the order event log.

func (s *Store) CreateSignal(sig *types.Signal) error {
	return s.db.Create(sig).Error
}

func (s *Store) GetSignal(userID, id string) (*types.Signal, error) {
	var sig types.Signal
	if err := s.db.First(&sig, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, err
	}
	return &sig, nil
}

func (s *Store) UpdateSignalStatus(id string, status types.SignalStatus) error {
	return s.db.Model(&types.Signal{}).Where("id = ?", id).
		Update("status", status).Error
}

func (s *Store) CreatePosition(p *types.Position) error {
	return s.db.Create(p).Error
}

func (s *Store) GetPosition(userID, id string) (*types.Position, error) {
	var p types.Position
	if err := s.db.First(&p, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ClosePosition(id string, closedAt time.Time) error {
	return s.db.Model(&types.Position{}).Where("id = ?", id).
		Updates(map[string]any{"status": types.PositionClosed, "closed_at": closedAt}).Error
}

func (s *Store) CountOpenPositions(userID string) (int64, error) {
	var n int64
	err := s.db.Model(&types.Position{}).
		Where("user_id = ? AND status = ?", userID, types.PositionOpen).Count(&n).Error
	return n, err
}

// Orders

func (s *Store) CreateOrder(o *types.ExecutionOrder) error {
	return s.db.Create(o).Error
}

func (s *Store) SaveOrder(o *types.ExecutionOrder) error {
	return s.db.Save(o).Error
}

func (s *Store) GetOrder(userID, id string) (*types.ExecutionOrder, error) {
	var o types.ExecutionOrder
	if err := s.db.First(&o, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetOrderByBrokerID(brokerOrderID string) (*types.ExecutionOrder, error) {
	var o types.ExecutionOrder
	if err := s.db.First(&o, "broker_order_id = ?", brokerOrderID).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetOrderByClientID(clientOrderID string) (*types.ExecutionOrder, error) {
	var o types.ExecutionOrder
	if err := s.db.First(&o, "client_order_id = ?", clientOrderID).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListOrders(userID string, status types.OrderStatus, limit int) ([]types.ExecutionOrder, error) {
	q := s.db.Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var orders []types.ExecutionOrder
	err := q.Order("created_at DESC").Limit(limit).Find(&orders).Error
	return orders, err
}

var nonTerminalStatuses = []types.OrderStatus{
	types.OrderPending, types.OrderSubmitted, types.OrderPartiallyFilled,
}

// ListNonTerminalOrders returns open-lifecycle orders; userID "" means all
// users (engine monitor loop).
func (s *Store) ListNonTerminalOrders(userID string) ([]types.ExecutionOrder, error) {
	q := s.db.Where("status IN ?", nonTerminalStatuses)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var orders []types.ExecutionOrder
	err := q.Order("created_at ASC").Find(&orders).Error
	return orders, err
}

// Execution log

func (s *Store) CreateExecutionLog(l *types.ExecutionLog) error {
	return s.db.Create(l).Error
}

func (s *Store) ListExecutionLogs(orderID string) ([]types.ExecutionLog, error) {
	var logs []types.ExecutionLog
	err := s.db.Where("order_id = ?", orderID).Order("id ASC").Find(&logs).Error
	return logs, err
}

// Broker connections

func (s *Store) UpsertBrokerConnection(userID string, broker types.BrokerType, connected bool) error {
	var conn types.BrokerConnection
	err := s.db.Where("user_id = ? AND broker_type = ?", userID, broker).First(&conn).Error
	now := time.Now().UTC()
	if IsNotFound(err) {
		conn = types.BrokerConnection{UserID: userID, BrokerType: broker}
	} else if err != nil {
		return err
	}
	conn.Connected = connected
	if connected {
		conn.LastConnectedAt = &now
	}
	conn.UpdatedAt = now
	return s.db.Save(&conn).Error
}
