package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionNotLive  = errors.New("session is not live")

	// ErrInvalidTransaction rejects malformed Apply input before any storage
	// round trip.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrStorageConflict marks a transient serialization or lock failure.
	// The Transaction Engine retries these with backoff before giving up.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrServiceUnavailable is surfaced once bounded retries are exhausted.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// InsufficientBalanceError rejects a spend that would drive the balance
// negative. Recoverable; the shortfall is reported to the caller.
type InsufficientBalanceError struct {
	Required int64 `json:"required"`
	Current  int64 `json:"current"`
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, current %d", e.Required, e.Current)
}

// PartialSettlementError means some but not all participants were paid.
// The session stays ended with credits_calculated=false, so re-invoking
// settle pays only the remaining participants.
type PartialSettlementError struct {
	SessionID uuid.UUID
	Paid      int
	Failed    int
	Err       error
}

func (e *PartialSettlementError) Error() string {
	return fmt.Sprintf("settlement of session %s incomplete: %d paid, %d failed: %v",
		e.SessionID, e.Paid, e.Failed, e.Err)
}

func (e *PartialSettlementError) Unwrap() error { return e.Err }
