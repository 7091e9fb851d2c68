package obscura

import (
	"fmt"
)

type ErrorCode string

const (
	BadRequest    ErrorCode = "bad-request"
	NotAvailable  ErrorCode = "not-available"
	NotFound      ErrorCode = "not-found"
	AlreadyExists ErrorCode = "already-exists"
	DBConflict    ErrorCode = "db-conflict"
	Unauthorized  ErrorCode = "unauthorized"
	UnknownError  ErrorCode = "unknown-error"

	// Txo lookups distinguish "no such output" from "output exists, but
	// this account has no status row for it"; CreateReceivedTxo branches
	// on exactly that distinction.
	TxoForAnotherAccount ErrorCode = "txo-for-another-account"

	// Coin selection failures, all recoverable and user-facing.
	NoSpendableFunds            ErrorCode = "no-spendable-funds"
	InsufficientFunds           ErrorCode = "insufficient-funds"
	InsufficientFundsFragmented ErrorCode = "insufficient-funds-fragmented"
	InsufficientFundsUnderCap   ErrorCode = "insufficient-funds-under-cap"

	// A Txo can never be promoted to spendable without both a subaddress
	// index and a key image.
	MissingSpendabilityData ErrorCode = "missing-spendability-data"

	// A state combination the Txo state machine does not cover. The
	// enclosing store transaction must be rolled back before this is
	// surfaced.
	InvariantViolation ErrorCode = "invariant-violation"
)

type ErrorInfo struct {
	Code    ErrorCode // machine-readble ErrorCode enumeration
	Message string    // human-readable debug message (in production, logged on the server only)
}

func (e *ErrorInfo) Error() string {
	return string(e.Message)
}

func NewErr(code ErrorCode, format string, args ...any) error {
	return &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)}
}

func IsNotFoundError(err error) bool {
	return IsError(err, NotFound)
}

func IsTxoForAnotherAccountError(err error) bool {
	return IsError(err, TxoForAnotherAccount)
}

func IsAlreadyExistsError(err error) bool {
	return IsError(err, AlreadyExists)
}

func IsDBConflictError(err error) bool {
	return IsError(err, DBConflict)
}

func IsInvariantViolation(err error) bool {
	return IsError(err, InvariantViolation)
}

func IsError(err error, ofType ErrorCode) bool {
	if e, ok := err.(*ErrorInfo); ok {
		return e.Code == ofType
	}
	return false
}
