// Package util provides logging, the error taxonomy, and name helpers shared
// by every vlanhop component.
package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors. Every typed error below unwraps to exactly one of these.
var (
	ErrConnection         = errors.New("connection failed")
	ErrNotFound           = errors.New("not found")
	ErrTopology           = errors.New("topology walk failed")
	ErrConfigPush         = errors.New("configuration push failed")
	ErrVerification       = errors.New("verification mismatch")
	ErrRollback           = errors.New("rollback failed")
	ErrTimeout            = errors.New("command timed out")
	ErrDeviceLocked       = errors.New("device locked by another holder")
	ErrPreconditionFailed = errors.New("precondition not met")
	ErrValidationFailed   = errors.New("validation failed")
)

// CredentialFailure records why one credential set was rejected. Only the
// set's name is kept.
type CredentialFailure struct {
	Credential string
	Reason     string
}

// ConnectionError is returned when no credential set could open a session.
type ConnectionError struct {
	Device   string
	Attempts []CredentialFailure
}

func (e *ConnectionError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("connect %s: no credential sets configured", e.Device)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Credential, a.Reason))
	}
	return fmt.Sprintf("connect %s: all credential sets failed (%s)", e.Device, strings.Join(parts, "; "))
}

func (e *ConnectionError) Unwrap() error { return ErrConnection }

// Tried returns the credential names attempted, in order.
func (e *ConnectionError) Tried() []string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Credential)
	}
	return names
}

// NotFoundError reports an identifier absent from a lookup table.
type NotFoundError struct {
	What   string // "ip", "mac"
	Value  string
	Device string
}

func (e *NotFoundError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("%s %s not found on %s", e.What, e.Value, e.Device)
	}
	return fmt.Sprintf("%s %s not found", e.What, e.Value)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a not-found error
func NewNotFoundError(what, value, device string) *NotFoundError {
	return &NotFoundError{What: what, Value: value, Device: device}
}

// TopologyError reports a walk that cannot make progress: a loop, the hop
// limit, or a neighbour that maps to no known device.
type TopologyError struct {
	MAC    string
	Device string
	Reason string
	Path   []string
}

func (e *TopologyError) Error() string {
	msg := fmt.Sprintf("locate %s: %s at %s", e.MAC, e.Reason, e.Device)
	if len(e.Path) > 0 {
		msg += " (path: " + strings.Join(e.Path, " -> ") + ")"
	}
	return msg
}

func (e *TopologyError) Unwrap() error { return ErrTopology }

// ConfigPushError reports a command the device rejected, or a save that
// did not complete.
type ConfigPushError struct {
	Device  string
	Command string
	Output  string
	Err     error
}

func (e *ConfigPushError) Error() string {
	msg := fmt.Sprintf("push to %s rejected", e.Device)
	if e.Command != "" {
		msg += fmt.Sprintf(" at %q", e.Command)
	}
	if e.Output != "" {
		msg += ": " + strings.TrimSpace(e.Output)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the transport cause.
func (e *ConfigPushError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfigPush, e.Err}
	}
	return []error{ErrConfigPush}
}

// FieldMismatch is one expected/actual pair from a read-back.
type FieldMismatch struct {
	Field    string
	Expected string
	Actual   string
}

// VerificationMismatch reports a read-back that disagrees with the request.
type VerificationMismatch struct {
	Device     string
	Interface  string
	Mismatches []FieldMismatch
}

func (e *VerificationMismatch) Error() string {
	parts := make([]string, 0, len(e.Mismatches))
	for _, m := range e.Mismatches {
		parts = append(parts, fmt.Sprintf("%s expected %s, got %s", m.Field, m.Expected, m.Actual))
	}
	return fmt.Sprintf("verify %s %s: %s", e.Device, e.Interface, strings.Join(parts, "; "))
}

func (e *VerificationMismatch) Unwrap() error { return ErrVerification }

// RollbackFailure is a failed restore. Original is the failure that caused
// the rollback and is reported alongside, never replaced.
type RollbackFailure struct {
	Device    string
	Interface string
	Original  error
	Err       error
}

func (e *RollbackFailure) Error() string {
	msg := fmt.Sprintf("rollback of %s %s failed", e.Device, e.Interface)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Original != nil {
		msg += " (after: " + e.Original.Error() + ")"
	}
	return msg
}

func (e *RollbackFailure) Unwrap() error { return ErrRollback }

// PreconditionError is returned when a port or device is not in a state
// the operation may touch, before anything is pushed.
type PreconditionError struct {
	Operation    string
	Resource     string
	Precondition string
	Details      string
}

func (e *PreconditionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s refused on %s: %s", e.Operation, e.Resource, e.Precondition)
	if e.Details != "" {
		fmt.Fprintf(&sb, " (%s)", e.Details)
	}
	return sb.String()
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

func NewPreconditionError(operation, resource, precondition, details string) *PreconditionError {
	return &PreconditionError{operation, resource, precondition, details}
}

// ValidationError lists every problem found in an inventory or request.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid: " + e.Errors[0]
	}
	return "invalid:\n  - " + strings.Join(e.Errors, "\n  - ")
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// ValidationBuilder collects problems so they are reported together.
// Add records message when ok is false.
type ValidationBuilder struct {
	problems []string
}

func (v *ValidationBuilder) Add(ok bool, message string) *ValidationBuilder {
	if !ok {
		v.problems = append(v.problems, message)
	}
	return v
}

func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
	return v
}

func (v *ValidationBuilder) HasErrors() bool { return len(v.problems) > 0 }

// Build returns a *ValidationError, or nil when nothing was recorded.
func (v *ValidationBuilder) Build() error {
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.problems}
}

// IsRetryable reports whether err is transient: a command timeout, a
// network timeout, or a rejected push. Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConfigPush) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
