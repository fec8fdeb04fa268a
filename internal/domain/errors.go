package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")
	ErrFlowActive    = errors.New("flow already in progress")
	ErrFlowDismissed = errors.New("flow dismissed")
	ErrNotConnected  = errors.New("wallet not connected")
	ErrUnknownChain  = errors.New("unknown chain")
	ErrShapeMismatch = errors.New("unexpected contract response shape")
	ErrReverted      = errors.New("transaction reverted")
)

// ValidationError reports malformed user input. It never reaches the network.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// Invalid is shorthand for constructing a *ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// GatewayReadError wraps a failed snapshot, allowance or vote-status read.
// Reads are idempotent, so callers may simply retry.
type GatewayReadError struct {
	Op  string
	Err error
}

func (e *GatewayReadError) Error() string {
	return fmt.Sprintf("gateway read %s: %v", e.Op, e.Err)
}

func (e *GatewayReadError) Unwrap() error { return e.Err }

// PublishError means the metadata document could not be pinned.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("metadata publish: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// TransactionError is a failed write (rejected, reverted, or dropped) tagged
// with the stage that submitted it.
type TransactionError struct {
	Stage  string
	TxHash string
	Err    error
}

func (e *TransactionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s: tx %s: %v", e.Stage, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// IdentifierExtractionError is returned when a creation transaction confirmed
// but its receipt carries no decodable BetCreated event. TxHash is the only
// handle left for recovering the bet out of band.
type IdentifierExtractionError struct {
	TxHash string
	Err    error
}

func (e *IdentifierExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bet id not found in receipt of %s: %v", e.TxHash, e.Err)
	}
	return fmt.Sprintf("bet id not found in receipt of %s", e.TxHash)
}

func (e *IdentifierExtractionError) Unwrap() error { return e.Err }
