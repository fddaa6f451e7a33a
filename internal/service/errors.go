package service

import (
	"errors"
	"fmt"

	"github.com/richardliu001/prediction-tournament/internal/repo"
)

var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrWalletNotActive         = errors.New("wallet is not active")
	ErrInvalidAmount           = errors.New("amount must be positive with at most 2 decimals")
	ErrDuplicateRequest        = errors.New("duplicate request")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key reused with a different payload")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrCapacityExceeded        = errors.New("tournament is full")
	ErrDepositExpired          = errors.New("deposit request expired")
	ErrInvalidInput            = errors.New("invalid input")

	// ErrAlreadyEntered is the duplicate request of joining a tournament twice.
	ErrAlreadyEntered = fmt.Errorf("already entered: %w", ErrDuplicateRequest)

	ErrNotFound = repo.ErrNotFound
	ErrTryLater = repo.ErrTryLater
)

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func invalidTransition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidStateTransition, fmt.Sprintf(format, args...))
}

// isStale reports a guarded update that lost a race with another writer.
func isStale(err error) bool { return errors.Is(err, repo.ErrStaleState) }
