package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORAGE - Transactional persistence port for all control-plane entities
// ═══════════════════════════════════════════════════════════════════════════════

// Store wraps the gorm handle. All component packages talk to the database
// through it; inside Transaction the same methods run on the tx handle.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres when the DSN has a postgres scheme, otherwise
// falls back to a local SQLite file, then migrates the schema.
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("Database initialized (SQLite)")
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenForTest returns an in-memory store, used by package tests.
func OpenForTest() (*Store, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&types.User{},
		&types.Settings{},
		&types.SettingsAudit{},
		&types.Signal{},
		&types.Position{},
		&types.AccountRiskState{},
		&types.StrategyBudget{},
		&types.RiskDecision{},
		&types.ExecutionOrder{},
		&types.ExecutionLog{},
		&types.JournalEntry{},
		&types.SimulationAccount{},
		&types.BrokerConnection{},
		&types.FeedbackDecision{},
	)
}

// Transaction runs fn atomically; fn receives a Store bound to the tx.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicateKey reports whether err came from a unique constraint. Gorm
// normalizes this for Postgres; the SQLite driver surfaces the raw message.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
