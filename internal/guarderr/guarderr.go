// Package guarderr defines the stable machine-readable error codes shared
// by the control plane. Risk rejections and mode blocks are first-class
// outcomes; this package carries their codes when they must travel as
// errors (API layer, broker adapters).
package guarderr

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code.
type Code string

const (
	// validation
	CodeValidationFailed    Code = "validation_failed"
	CodeSettingsOutOfBounds Code = "settings_out_of_bounds"
	CodeSignalNotExecutable Code = "signal_not_executable"
	CodeInvalidTransition   Code = "invalid_transition"

	// risk_reject
	CodeEmergencyShutdown Code = "emergency_shutdown"
	CodeDrawdownExceeded  Code = "drawdown_exceeded"
	CodeDailyLimit        Code = "daily_limit"
	CodeHourlyLimit       Code = "hourly_limit"
	CodePositionSize      Code = "position_size"
	CodeRRTooLow          Code = "rr_too_low"
	CodeBudgetDisabled    Code = "budget_disabled"
	CodeDailyLoss         Code = "daily_loss"

	// mode_blocked
	CodeModeRequiresAutonomous Code = "mode_requires_autonomous"
	CodeExecLiveUnconfirmed    Code = "exec_live_unconfirmed"
	CodeBadPassword            Code = "bad_password"
	CodeHealthCheckFailed      Code = "health_check_failed"

	// broker
	CodeNotConnected   Code = "not_connected"
	CodeBrokerRejected Code = "broker_rejected"
	CodeTransport      Code = "transport"
	CodeTimeout        Code = "timeout"
	CodeUnknownOrder   Code = "unknown_order"

	// persistence
	CodeVersionConflict     Code = "version_conflict"
	CodeConstraintViolation Code = "constraint_violation"
	CodePersistence         Code = "persistence"

	// generic surface
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeRateLimited  Code = "rate_limited"
	CodeInternal     Code = "internal"
)

// Error carries a stable code alongside a human message.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with the given code.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured context and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the stable code from err, CodeInternal when untyped.
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retriable reports whether the engine monitor may retry the operation.
// Only transient broker failures qualify.
func Retriable(err error) bool {
	switch CodeOf(err) {
	case CodeTransport, CodeTimeout:
		return true
	}
	return false
}
