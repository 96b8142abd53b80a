package storage

import (
	"time"

	"github.com/web3guy0/guardrail/internal/types"
)

// Journal entries are append-only: the store exposes create and read, the
// model hooks reject ORM-level mutation, and on Postgres UPDATE/DELETE
// grants on journal_entries are revoked by the deploy migration.

func (s *Store) CreateJournalEntry(e *types.JournalEntry) error {
	return s.db.Create(e).Error
}

func (s *Store) ListJournalEntries(userID string, strategy, symbol string, limit int) ([]types.JournalEntry, error) {
	q := s.db.Where("user_id = ?", userID)
	if strategy != "" {
		q = q.Where("strategy_name = ?", strategy)
	}
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var rows []types.JournalEntry
	err := q.Order("closed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// JournalEntriesSince returns entries closed inside the window, oldest
// first, for the performance analyzer.
func (s *Store) JournalEntriesSince(userID, strategy, symbol string, since time.Time) ([]types.JournalEntry, error) {
	var rows []types.JournalEntry
	err := s.db.Where(
		"user_id = ? AND strategy_name = ? AND symbol = ? AND closed_at >= ?",
		userID, strategy, symbol, since).
		Order("closed_at ASC").Find(&rows).Error
	return rows, err
}

// Feedback decisions

func (s *Store) CreateFeedbackDecision(d *types.FeedbackDecision) error {
	return s.db.Create(d).Error
}

func (s *Store) ListFeedbackDecisions(userID string, limit int) ([]types.FeedbackDecision, error) {
	var rows []types.FeedbackDecision
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Simulation accounts

func (s *Store) GetSimulationAccount(userID string) (*types.SimulationAccount, error) {
	var acc types.SimulationAccount
	if err := s.db.First(&acc, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Store) SaveSimulationAccount(acc *types.SimulationAccount) error {
	return s.db.Save(acc).Error
}

// Users

func (s *Store) CreateUser(u *types.User) error {
	return s.db.Create(u).Error
}

func (s *Store) GetUser(id string) (*types.User, error) {
	var u types.User
	if err := s.db.First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(email string) (*types.User, error) {
	var u types.User
	if err := s.db.First(&u, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
