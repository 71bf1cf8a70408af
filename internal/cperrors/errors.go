// Package cperrors defines the closed error taxonomy shared across the
// control plane pipeline. Every error the pipeline raises carries one of
// these kinds, never a bespoke type.
package cperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed enum of control-plane error kinds.
type Kind string

const (
	KillSwitchActive   Kind = "kill_switch_active"
	AgentNotFound      Kind = "agent_not_found"
	PolicyViolation    Kind = "policy_violation"
	ApprovalRequired   Kind = "approval_required"
	NotAuthorized      Kind = "not_authorized"
	MissingRationale   Kind = "missing_rationale"
	AuditTamperDetected Kind = "audit_tamper_detected"
	CircuitOpen        Kind = "circuit_open"
	FailClosed         Kind = "fail_closed"
	ExecutionFailed    Kind = "execution_failed"
	InvalidScope       Kind = "invalid_scope"
	MissingAgentId     Kind = "missing_agent_id"
	InvalidRiskLevel   Kind = "invalid_risk_level"
	DuplicateAgent     Kind = "duplicate_agent"
)

// httpStatus maps each kind to its §7 HTTP status. ApprovalRequired is not
// an error at the HTTP layer (200 pending_approval) and is never raised as
// a Go error by the Executor; it is listed here only for completeness.
var httpStatus = map[Kind]int{
	KillSwitchActive:    http.StatusForbidden,
	AgentNotFound:       http.StatusNotFound,
	PolicyViolation:     http.StatusForbidden,
	ApprovalRequired:    http.StatusOK,
	NotAuthorized:       http.StatusForbidden,
	MissingRationale:    http.StatusBadRequest,
	AuditTamperDetected: http.StatusServiceUnavailable,
	CircuitOpen:         http.StatusServiceUnavailable,
	FailClosed:          http.StatusServiceUnavailable,
	ExecutionFailed:     http.StatusInternalServerError,
	InvalidScope:        http.StatusBadRequest,
	MissingAgentId:      http.StatusBadRequest,
	InvalidRiskLevel:    http.StatusBadRequest,
	DuplicateAgent:      http.StatusBadRequest,
}

// Error is the single structured error type carrying a Kind, a message and
// arbitrary structured details (e.g. policy id, scope, reason).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code §7 assigns to this error's kind.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error with the given kind and message.
func New(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap builds an Error that chains an underlying cause via %w semantics.
func Wrap(kind Kind, message string, cause error, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details, cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var cpe *Error
	if errors.As(err, &cpe) {
		return cpe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, ok=false if err is not a *Error.
func KindOf(err error) (Kind, bool) {
	var cpe *Error
	if errors.As(err, &cpe) {
		return cpe.Kind, true
	}
	return "", false
}
