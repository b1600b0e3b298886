package trading

import (
	"errors"
	"fmt"

	"github.com/Aidin1998/barterex/internal/bookkeeper"
	"github.com/Aidin1998/barterex/internal/orderbook"
	"github.com/Aidin1998/barterex/internal/store"
)

var (
	// ErrInvalidOrder rejects a malformed request. Nothing was written.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrConcurrencyConflict means another submission changed the same rows
	// first. Nothing was written and the request may be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrStorageFailure means the store could not complete the unit of work.
	// Nothing was written and the request may be retried.
	ErrStorageFailure = errors.New("storage failure")
)

// Kind classifies SubmitOrder errors for callers.
type Kind string

const (
	KindNone                Kind = ""
	KindInvalidOrder        Kind = "invalid_order"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindStorageFailure      Kind = "storage_failure"
	KindUnknown             Kind = "unknown"
)

// KindOf reports which failure kind err belongs to.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, bookkeeper.ErrInvalidAmount), errors.Is(err, bookkeeper.ErrInvalidKey):
		return KindInvalidOrder
	case errors.Is(err, bookkeeper.ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	case errors.Is(err, ErrStorageFailure):
		return KindStorageFailure
	default:
		return KindUnknown
	}
}

// Retryable reports whether the same request may succeed if sent again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrencyConflict, KindStorageFailure:
		return true
	}
	return false
}

// translate maps a failed unit of work onto the engine error kinds.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidOrder),
		errors.Is(err, bookkeeper.ErrInsufficientFunds),
		errors.Is(err, bookkeeper.ErrInvalidAmount),
		errors.Is(err, bookkeeper.ErrInvalidKey):
		return err
	case errors.Is(err, store.ErrConflict), errors.Is(err, orderbook.ErrOverfill):
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	default:
		// unavailable store, timeouts and anything unexpected
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
}
