package mifare

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuthDenied is a wrong key for one attempt. Recoverable, drives the trial loop.
	KindAuthDenied
	// KindAuthExhausted means every candidate key failed for a sector.
	KindAuthExhausted
	// KindBlockAccessDenied means the access bits forbid the operation under the current key.
	KindBlockAccessDenied
	// KindTransceiverLost means the card or reader went away. Fatal to the current operation.
	KindTransceiverLost
	// KindMalformedResponse is an unexpected response length/shape or status word.
	KindMalformedResponse
	// KindPrecondition is caller misuse, detected before anything is transmitted.
	KindPrecondition
	// KindOverflow is int32 overflow in value block arithmetic.
	KindOverflow
)

func (k Kind) String() string {
	switch k {
	case KindAuthDenied:
		return "auth_denied"
	case KindAuthExhausted:
		return "auth_exhausted"
	case KindBlockAccessDenied:
		return "block_access_denied"
	case KindTransceiverLost:
		return "transceiver_lost"
	case KindMalformedResponse:
		return "malformed_response"
	case KindPrecondition:
		return "precondition_violation"
	case KindOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrAuthDenied        = &Error{Kind: KindAuthDenied}
	ErrAuthExhausted     = &Error{Kind: KindAuthExhausted}
	ErrBlockAccessDenied = &Error{Kind: KindBlockAccessDenied}
	ErrTransceiverLost   = &Error{Kind: KindTransceiverLost}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrPrecondition      = &Error{Kind: KindPrecondition}
	ErrOverflow          = &Error{Kind: KindOverflow}
)

// ErrNotAValueBlock is a classification outcome: the block does not satisfy the
// value block redundancy format and must be treated as plain data.
var ErrNotAValueBlock = errors.New("mifare: not a value block")

// Error is the typed error returned by every Session operation.
type Error struct {
	Kind  Kind
	Op    string // "authenticate", "read", "write", ...
	Block int    // -1 when not block specific
	SW    uint16 // status word, 0 when none was received
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" && e.Msg == "" && e.Err == nil {
		return "mifare: " + e.Kind.String()
	}
	s := "mifare: " + e.Op
	if e.Block >= 0 {
		s += fmt.Sprintf(" block %d", e.Block)
	}
	s += ": " + e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.SW != 0 {
		s += fmt.Sprintf(" (SW=%04X %s)", e.SW, SWDescription(e.SW))
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

func newError(kind Kind, op string, block int, msg string) *Error {
	return &Error{Kind: kind, Op: op, Block: block, Msg: msg}
}

func precondition(op string, block int, format string, args ...any) *Error {
	return newError(KindPrecondition, op, block, fmt.Sprintf(format, args...))
}

// AuthFailure is returned by Authenticate when every candidate failed.
// It is an expected outcome, not a defect, and matches ErrAuthExhausted.
type AuthFailure struct {
	Sector   int
	Attempts int
}

func (f *AuthFailure) Error() string {
	return fmt.Sprintf("mifare: authentication failed for sector %d after %d attempts - no valid key found", f.Sector, f.Attempts)
}

func (f *AuthFailure) Is(target error) bool {
	return target == ErrAuthExhausted
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var f *AuthFailure
	if errors.As(err, &f) {
		return KindAuthExhausted
	}
	return KindUnknown
}

// IsFatal reports whether err must abort a multi-step operation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransceiverLost)
}
