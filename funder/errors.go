package funder

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// ProtocolError means the peer sent a malformed, unsigned, or unchained
// move-token, or one of its operations was rejected by the ledger (spec
// §7). The caller must transition channel_status to Inconsistent and emit
// an InconsistencyError; no mutation from the offending batch applies.
type ProtocolError struct{ Err error }

func (e *ProtocolError) Error() string { return fmt.Sprintf("funder: protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// RouteError means a request's route is malformed, we are not in it, or
// the next hop is unknown (spec §7). The handler emits a signed failure
// upstream; the channel itself is unaffected.
type RouteError struct{ Err error }

func (e *RouteError) Error() string { return fmt.Sprintf("funder: route error: %v", e.Err) }
func (e *RouteError) Unwrap() error { return e.Err }

// FreezeViolation gets the same treatment as RouteError (spec §7).
type FreezeViolation struct{ Err error }

func (e *FreezeViolation) Error() string { return fmt.Sprintf("funder: freeze violation: %v", e.Err) }
func (e *FreezeViolation) Unwrap() error { return e.Err }

// FatalError means the signer closed, persistence failed, or the self key
// became unavailable (spec §7): the loop must exit and the supervising
// process is expected to restart after operator intervention. It carries a
// stack trace (go-errors/errors) the way the teacher's funder-loop
// boundary captures FatalError for its crash logs.
type FatalError struct {
	*goerrors.Error
}

// NewFatalError wraps err with a captured stack, skipping NewFatalError's
// own frame.
func NewFatalError(err error) *FatalError {
	return &FatalError{Error: goerrors.Wrap(err, 1)}
}

var (
	// ErrSignerUnavailable means the request/response channel to C8 was
	// closed underneath the loop.
	ErrSignerUnavailable = errors.New("funder: signer unavailable")
	// ErrPersistenceFailed means C11 rejected a mutation batch.
	ErrPersistenceFailed = errors.New("funder: persistence failed")
)
