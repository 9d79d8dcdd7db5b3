/*
errors.go - Error kinds for the stock ledger and everything built on it

PURPOSE:
  Callers need to tell "you sent bad data" from "the database is down"
  from "the email did not go out". Every error this module surfaces wraps
  exactly one of the sentinel kinds below, so errors.Is works at any layer.

ERROR KINDS:
  ErrValidation   missing/malformed day, unknown item, negative counts
  ErrConflict     creating an item whose name is already active
  ErrUnauthorized mutation without a sufficient role
  ErrPersistence  storage unavailable or transaction failed
  ErrDelivery     rendering or dispatching a report failed

NOT FOUND:
  ErrItemNotFound / ErrReportNotFound are returned by lookups. Inside
  RecordEntry an unknown item is a validation failure instead.

RETRIES:
  Nothing in this module retries. Persistence and delivery errors are
  reported verbatim and the caller decides.
*/
package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("not authorized")
	ErrPersistence  = errors.New("persistence failure")
	ErrDelivery     = errors.New("delivery failure")

	ErrItemNotFound   = errors.New("item not found")
	ErrReportNotFound = errors.New("report not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError is returned when an item name is already taken by an active
// item. Callers can offer to edit that item instead.
type ConflictError struct {
	Name   string
	ItemID ItemID
}

func (e *ConflictError) Error() string {
	if e.ItemID != 0 {
		return fmt.Sprintf("an item named %q already exists (id %d)", e.Name, e.ItemID)
	}
	return fmt.Sprintf("an item named %q already exists", e.Name)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// AuthorizationError names the action the actor was not allowed to take.
type AuthorizationError struct {
	Actor  string
	Role   Role
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s (%s) is not allowed to %s", e.Actor, e.Role, e.Action)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

// PersistenceError wraps a backend failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// DeliveryError is returned when a report could not be rendered or sent.
// The report itself is already persisted when this happens.
type DeliveryError struct {
	Stage    string // "render", "archive", "snapshot", "dispatch"
	ReportID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("report %s: %s failed: %v", e.ReportID, e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDelivery, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps err unless it already carries a kind callers act on.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrReportNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "authorization"
	KindNotFound     Kind = "not_found"
	KindPersistence  Kind = "persistence"
	KindDelivery     Kind = "delivery"
	KindInternal     Kind = "internal"
)

// KindOf returns the discriminated kind of err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrReportNotFound):
		return KindNotFound
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	default:
		return KindInternal
	}
}
