package settings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/web3guy0/guardrail/internal/guarderr"
	"github.com/web3guy0/guardrail/internal/limits"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SETTINGS STORE - Versioned soft limits + mode, append-only audit trail
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every mutation bumps Version and writes exactly one audit row in the
// same transaction. Writers use version compare-and-swap and retry;
// readers never lock.
//
// ═══════════════════════════════════════════════════════════════════════════════

const casRetries = 3

// ModeGuard is implemented by the execution engine. BeforeModeSwitch
// blocks new executions for the user (and cancels non-terminal orders
// when asked) until the returned release func runs. The guard is invoked
// before the new version commits, so the cancel sequence is observable
// strictly before the new mode.
type ModeGuard interface {
	BeforeModeSwitch(ctx context.Context, userID string, cancelOrders bool) (release func(), err error)
}

// HealthChecker gates guide → autonomous on coordinator health.
type HealthChecker interface {
	HealthOK(userID string) error
}

// ConnectivityChecker reports broker adapter connectivity.
type ConnectivityChecker interface {
	BrokerConnected(broker types.BrokerType) bool
}

// Service is the settings store.
type Service struct {
	store  *storage.Store
	caps   limits.Limits
	guard  ModeGuard
	health HealthChecker
	conn   ConnectivityChecker
}

// New creates the settings service.
func New(store *storage.Store) *Service {
	return &Service{store: store, caps: limits.Get()}
}

// SetModeGuard wires the execution engine's cancel-on-switch hook.
func (s *Service) SetModeGuard(g ModeGuard) { s.guard = g }

// SetHealthChecker wires the coordinator health gate.
func (s *Service) SetHealthChecker(h HealthChecker) { s.health = h }

// SetConnectivityChecker wires broker connectivity checks.
func (s *Service) SetConnectivityChecker(c ConnectivityChecker) { s.conn = c }

// Defaults returns the boot settings: guide mode, simulation routing and
// soft limits pinned at the hard caps.
func (s *Service) Defaults(userID string) *types.Settings {
	return &types.Settings{
		UserID:     userID,
		Version:    1,
		Mode:       types.ModeGuide,
		ExecMode:   types.ExecModeSimulation,
		BrokerType: types.BrokerSimulation,

		MaxRiskPerTradePct:  s.caps.MaxRiskPerTradePct,
		MaxDailyLossPct:     s.caps.MaxDailyLossPct,
		MaxOpenPositions:    s.caps.MaxOpenPositions,
		MaxTradesPerDay:     s.caps.MaxTradesPerDay,
		MaxTradesPerHour:    s.caps.MaxTradesPerHour,
		MinRiskRewardRatio:  s.caps.MinRiskRewardRatio,
		MaxPositionSizeLots: s.caps.MaxPositionSizeLots,
		MaxPositionSizePct:  s.caps.MaxPositionSizePct,

		AutoDisableStrategies:            true,
		StrategyDisableThreshold:         s.caps.StrategyAutoDisableThreshold,
		CancelOrdersOnModeSwitch:         true,
		RequireConfirmationForAutonomous: true,

		UpdatedAt: time.Now().UTC(),
		UpdatedBy: "system",
	}
}

// Get always returns a settings row, creating defaults inside a single
// transaction when none exists.
func (s *Service) Get(ctx context.Context, userID string) (*types.Settings, error) {
	st, err := s.store.GetSettings(userID)
	if err == nil {
		return st, nil
	}
	if !storage.IsNotFound(err) {
		return nil, err
	}

	st = s.Defaults(userID)
	err = s.store.Transaction(func(tx *storage.Store) error {
		if existing, gerr := tx.GetSettings(userID); gerr == nil {
			st = existing
			return nil
		}
		return tx.CreateSettings(st)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("user", userID).Msg("Settings initialized with defaults")
	return st, nil
}

// Update applies a field-wise patch under CAS, validates the result
// against the hard caps and logical consistency, bumps the version and
// writes one audit row atomically. An identity patch is a data-level
// no-op: no version bump, no audit row.
func (s *Service) Update(ctx context.Context, userID string, patch Patch, changedBy, reason string) (*types.Settings, error) {
	return s.update(ctx, userID, patch, changedBy, reason, "update")
}

func (s *Service) update(ctx context.Context, userID string, patch Patch, changedBy, reason, changeType string) (*types.Settings, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		cur, err := s.Get(ctx, userID)
		if err != nil {
			return nil, err
		}

		next := *cur
		oldVals, newVals := patch.apply(&next)
		if len(newVals) == 0 {
			return cur, nil
		}

		if err := s.validate(&next); err != nil {
			return nil, err
		}

		modeSwitch := next.Mode != cur.Mode || next.ExecMode != cur.ExecMode

		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now().UTC()
		next.UpdatedBy = changedBy

		var release func()
		if modeSwitch && s.guard != nil {
			release, err = s.guard.BeforeModeSwitch(ctx, userID, next.CancelOrdersOnModeSwitch)
			if err != nil {
				return nil, err
			}
		}

		swapped := false
		err = s.store.Transaction(func(tx *storage.Store) error {
			ok, cerr := tx.UpdateSettingsCAS(&next, cur.Version)
			if cerr != nil {
				return cerr
			}
			if !ok {
				return nil
			}
			swapped = true
			oldJSON, _ := json.Marshal(oldVals)
			newJSON, _ := json.Marshal(newVals)
			return tx.CreateSettingsAudit(&types.SettingsAudit{
				UserID:     userID,
				Version:    next.Version,
				ChangedBy:  changedBy,
				ChangedAt:  next.UpdatedAt,
				ChangeType: changeType,
				OldValues:  string(oldJSON),
				NewValues:  string(newJSON),
				Reason:     reason,
			})
		})
		if release != nil {
			release()
		}
		if err != nil {
			return nil, guarderr.Newf(guarderr.CodePersistence, "settings update: %v", err)
		}
		if swapped {
			log.Info().
				Str("user", userID).
				Int("version", next.Version).
				Str("change_type", changeType).
				Msg("Settings updated")
			return &next, nil
		}
		lastErr = guarderr.New(guarderr.CodeVersionConflict, "settings changed concurrently")
	}
	return nil, lastErr
}

// SetMode switches guide/autonomous with the transition guards of the
// control plane: autonomous requires coordinator health, broker
// connectivity (outside simulation) and no active emergency shutdown.
func (s *Service) SetMode(ctx context.Context, userID string, mode types.Mode, confirmed bool, changedBy, reason string) (*types.Settings, error) {
	if mode != types.ModeGuide && mode != types.ModeAutonomous {
		return nil, guarderr.Newf(guarderr.CodeValidationFailed, "unknown mode %q", mode)
	}

	cur, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if mode == types.ModeAutonomous && cur.Mode != types.ModeAutonomous {
		if cur.RequireConfirmationForAutonomous && !confirmed {
			return nil, guarderr.New(guarderr.CodeExecLiveUnconfirmed, "autonomous mode requires explicit confirmation")
		}
		if s.health != nil {
			if herr := s.health.HealthOK(userID); herr != nil {
				return nil, guarderr.Newf(guarderr.CodeHealthCheckFailed, "health check failed: %v", herr)
			}
		}
		if cur.ExecMode != types.ExecModeSimulation && s.conn != nil && !s.conn.BrokerConnected(cur.BrokerType) {
			return nil, guarderr.New(guarderr.CodeNotConnected, "broker not connected")
		}
		if state, serr := s.store.GetAccountRiskState(userID); serr == nil && state.EmergencyShutdown {
			return nil, guarderr.New(guarderr.CodeEmergencyShutdown, "emergency shutdown active")
		}
	}

	return s.update(ctx, userID, Patch{Mode: &mode}, changedBy, reason, "mode_change")
}

// SetExecMode switches simulation/paper/live. Live demands a re-verified
// password, an explicit confirmation and a non-empty reason.
func (s *Service) SetExecMode(ctx context.Context, userID string, mode types.ExecMode, password string, confirmed bool, changedBy, reason string) (*types.Settings, error) {
	switch mode {
	case types.ExecModeSimulation, types.ExecModePaper, types.ExecModeLive:
	default:
		return nil, guarderr.Newf(guarderr.CodeValidationFailed, "unknown execution mode %q", mode)
	}

	if mode == types.ExecModeLive {
		if !confirmed {
			return nil, guarderr.New(guarderr.CodeExecLiveUnconfirmed, "live mode requires confirmed=true")
		}
		if reason == "" {
			return nil, guarderr.New(guarderr.CodeExecLiveUnconfirmed, "live mode requires a reason")
		}
		user, err := s.store.GetUser(userID)
		if err != nil {
			return nil, guarderr.New(guarderr.CodeUnauthorized, "unknown user")
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			return nil, guarderr.New(guarderr.CodeBadPassword, "password verification failed")
		}
	}

	return s.update(ctx, userID, Patch{ExecMode: &mode}, changedBy, reason, "mode_change")
}

// GetAudit returns the audit trail, newest first.
func (s *Service) GetAudit(ctx context.Context, userID string, limit int) ([]types.SettingsAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListSettingsAudit(userID, limit)
}

// validate enforces hard caps and logical consistency on a candidate.
func (s *Service) validate(st *types.Settings) error {
	fail := func(field string) error {
		return guarderr.Newf(guarderr.CodeSettingsOutOfBounds, "%s exceeds hard limit", field).
			WithDetails(map[string]any{"field": field})
	}

	if st.MaxRiskPerTradePct.LessThanOrEqual(decimal.Zero) || st.MaxRiskPerTradePct.GreaterThan(s.caps.MaxRiskPerTradePct) {
		return fail("max_risk_per_trade_pct")
	}
	if st.MaxDailyLossPct.LessThanOrEqual(decimal.Zero) || st.MaxDailyLossPct.GreaterThan(s.caps.MaxDailyLossPct) {
		return fail("max_daily_loss_pct")
	}
	if st.MaxOpenPositions <= 0 || st.MaxOpenPositions > s.caps.MaxOpenPositions {
		return fail("max_open_positions")
	}
	if st.MaxTradesPerDay <= 0 || st.MaxTradesPerDay > s.caps.MaxTradesPerDay {
		return fail("max_trades_per_day")
	}
	if st.MaxTradesPerHour <= 0 || st.MaxTradesPerHour > s.caps.MaxTradesPerHour {
		return fail("max_trades_per_hour")
	}
	if st.MinRiskRewardRatio.LessThan(s.caps.MinRiskRewardRatio) {
		return fail("min_risk_reward_ratio")
	}
	if st.MaxPositionSizeLots.LessThanOrEqual(decimal.Zero) || st.MaxPositionSizeLots.GreaterThan(s.caps.MaxPositionSizeLots) {
		return fail("max_position_size_lots")
	}
	if st.MaxPositionSizePct.LessThanOrEqual(decimal.Zero) || st.MaxPositionSizePct.GreaterThan(s.caps.MaxPositionSizePct) {
		return fail("max_position_size_pct")
	}
	if st.StrategyDisableThreshold <= 0 || st.StrategyDisableThreshold > s.caps.StrategyAutoDisableThreshold {
		return fail("strategy_disable_threshold")
	}

	// Logical consistency: the daily loss budget must cover at least one
	// max-risk trade.
	if st.MaxDailyLossPct.LessThan(st.MaxRiskPerTradePct) {
		return guarderr.New(guarderr.CodeValidationFailed,
			"max_daily_loss_pct must be >= max_risk_per_trade_pct")
	}

	switch st.Mode {
	case types.ModeGuide, types.ModeAutonomous:
	default:
		return guarderr.Newf(guarderr.CodeValidationFailed, "unknown mode %q", st.Mode)
	}
	switch st.ExecMode {
	case types.ExecModeSimulation, types.ExecModePaper, types.ExecModeLive:
	default:
		return guarderr.Newf(guarderr.CodeValidationFailed, "unknown execution mode %q", st.ExecMode)
	}
	return nil
}
