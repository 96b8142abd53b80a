package storage

import (
	"time"

	"github.com/web3guy0/guardrail/internal/types"
)

// Risk state, strategy budgets and the decision audit trail.

func (s *Store) GetAccountRiskState(userID string) (*types.AccountRiskState, error) {
	var st types.AccountRiskState
	if err := s.db.First(&st, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) SaveAccountRiskState(st *types.AccountRiskState) error {
	st.UpdatedAt = time.Now().UTC()
	return s.db.Save(st).Error
}

func (s *Store) GetStrategyBudget(userID, strategy, symbol string) (*types.StrategyBudget, error) {
	var b types.StrategyBudget
	err := s.db.First(&b,
		"user_id = ? AND strategy_name = ? AND symbol = ?", userID, strategy, symbol).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) SaveStrategyBudget(b *types.StrategyBudget) error {
	b.UpdatedAt = time.Now().UTC()
	return s.db.Save(b).Error
}

func (s *Store) ListStrategyBudgets(userID string) ([]types.StrategyBudget, error) {
	var budgets []types.StrategyBudget
	err := s.db.Where("user_id = ?", userID).Find(&budgets).Error
	return budgets, err
}

func (s *Store) CreateRiskDecision(d *types.RiskDecision) error {
	return s.db.Create(d).Error
}

func (s *Store) ListRiskDecisions(userID string, limit int) ([]types.RiskDecision, error) {
	var rows []types.RiskDecision
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// CountApprovalsSince counts trade approvals in the window, the sliding
// hourly trade limit reads this inside the validation transaction. Manual
// override decisions carry no signal id and are excluded.
func (s *Store) CountApprovalsSince(userID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.Model(&types.RiskDecision{}).
		Where("user_id = ? AND kind = ? AND signal_id <> '' AND created_at >= ?",
			userID, types.DecisionApproval, since).
		Count(&n).Error
	return n, err
}
