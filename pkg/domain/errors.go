package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModuleNotFound is returned when no factory is registered for a type name.
	ErrModuleNotFound = errors.New("module type not found")
	// ErrInstanceNotFound is returned when an instance id is unknown.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrRouteNotFound is returned when a route id is unknown.
	ErrRouteNotFound = errors.New("route not found")
	// ErrInteractionNotFound is returned when an interaction id is unknown.
	ErrInteractionNotFound = errors.New("interaction not found")
	// ErrInstanceDestroyed is returned by any call on a destroyed instance.
	ErrInstanceDestroyed = errors.New("instance destroyed")
	// ErrInvalidState is returned when an operation is not allowed in the current lifecycle state.
	ErrInvalidState = errors.New("invalid lifecycle state")
	// ErrNotRunning is returned when an input is delivered to an instance that is not running.
	ErrNotRunning = errors.New("instance not running")
	// ErrStateNotFound is returned by a backend that has never been written.
	ErrStateNotFound = errors.New("state not found")
	// ErrStateCorrupt is returned by a backend whose persisted document cannot be decoded.
	ErrStateCorrupt = errors.New("state corrupt")
)

// ValidationError reports caller input that was rejected. Nothing was mutated.
type ValidationError struct {
	Subject string // "manifest", "config", "route", "interaction"
	ID      string
	Reason  string
	Fields  []error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	b.WriteString(e.Subject)
	if e.ID != "" {
		fmt.Fprintf(&b, " %q", e.ID)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Fields) > 0 {
		msgs := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			msgs[i] = f.Error()
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(msgs, "; "))
	}
	return b.String()
}

// Unwrap exposes field errors to errors.Is/As.
func (e *ValidationError) Unwrap() []error {
	return e.Fields
}

// NewValidationError is a shorthand for a ValidationError without field details.
func NewValidationError(subject, id, format string, args ...any) *ValidationError {
	return &ValidationError{Subject: subject, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// ResourceError reports a failure acquiring or releasing an external resource.
// The instance that raised it transitions to failed.
type ResourceError struct {
	InstanceID string
	Op         string
	Err        error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("instance %s: %s: %v", e.InstanceID, e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// RoutingError reports a failed delivery along one route.
type RoutingError struct {
	RouteID  string
	SourceID string
	TargetID string
	Err      error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("route %s (%s -> %s): %v", e.RouteID, e.SourceID, e.TargetID, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// PersistenceError reports a failed read or write of the application state.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsResource reports whether err carries a ResourceError.
func IsResource(err error) bool {
	var r *ResourceError
	return errors.As(err, &r)
}

// IsNotFound reports whether err wraps one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrModuleNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrRouteNotFound) ||
		errors.Is(err, ErrInteractionNotFound)
}

// ErrorKind classifies err for edge responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation"
	case IsNotFound(err):
		return "not_found"
	case IsResource(err):
		return "resource"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInstanceDestroyed), errors.Is(err, ErrNotRunning):
		return "conflict"
	default:
		var p *PersistenceError
		if errors.As(err, &p) {
			return "persistence"
		}
		return "internal"
	}
}
