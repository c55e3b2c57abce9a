package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Command errors
	ErrValidation          = errors.New("validation failed")
	ErrUnknownAction       = errors.New("unknown action")
	ErrUnknownToken        = errors.New("unknown token")
	ErrEmptyBundle         = errors.New("conversion bundle is empty")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrInsufficientFunds   = errors.New("insufficient funds")

	// Ledger errors
	ErrEntryNotFound   = errors.New("ledger entry not found")
	ErrAlreadyReversed = errors.New("ledger entry already reversed")
	ErrNotReversible   = errors.New("ledger entry cannot be reversed")
	ErrConflict        = errors.New("ledger head moved during append")
	ErrPersistence     = errors.New("ledger store unavailable")
)

// ValidationError is a malformed command, rejected before any ledger access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// BalanceError reports which token could not cover a debit.
// It matches ErrInsufficientBalance, or ErrInsufficientFunds for the currency.
type BalanceError struct {
	Token     Token
	Requested int64
	Available int64
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("%s: %s requested %d, available %d", e.sentinel(), e.Token, e.Requested, e.Available)
}

func (e *BalanceError) sentinel() error {
	if e.Token == Currency {
		return ErrInsufficientFunds
	}
	return ErrInsufficientBalance
}

// Is matches the sentinel for the token class.
func (e *BalanceError) Is(target error) bool { return target == e.sentinel() }

// PersistenceError means the store could not durably record or read entries.
// Callers must treat the operation as failed; it is safe to retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) match.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
