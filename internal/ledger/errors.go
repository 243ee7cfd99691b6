package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger failure so callers can render a message or pick a
// status code without parsing error strings.
type Kind int

const (
	KindUnknown Kind = iota
	InvalidInput
	UnknownSymbol
	InsufficientFunds
	OversoldAttempt
	DuplicateUsername
	AuthenticationFailed
	ConfirmationMismatch
	NoOpChange
	TransientProviderFailure
	StorageFailure
	NotFound
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	InvalidInput:             "invalid input",
	UnknownSymbol:            "unknown symbol",
	InsufficientFunds:        "insufficient funds",
	OversoldAttempt:          "oversold attempt",
	DuplicateUsername:        "duplicate username",
	AuthenticationFailed:     "authentication failed",
	ConfirmationMismatch:     "confirmation mismatch",
	NoOpChange:               "no-op change",
	TransientProviderFailure: "quote provider unavailable",
	StorageFailure:           "storage failure",
	NotFound:                 "not found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether repeating the same request may succeed.
// Every other kind is a deterministic rejection.
func (k Kind) Retryable() bool {
	return k == StorageFailure || k == TransientProviderFailure
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput             = &Error{Kind: InvalidInput}
	ErrUnknownSymbol            = &Error{Kind: UnknownSymbol}
	ErrInsufficientFunds        = &Error{Kind: InsufficientFunds}
	ErrOversoldAttempt          = &Error{Kind: OversoldAttempt}
	ErrDuplicateUsername        = &Error{Kind: DuplicateUsername}
	ErrAuthenticationFailed     = &Error{Kind: AuthenticationFailed}
	ErrConfirmationMismatch     = &Error{Kind: ConfirmationMismatch}
	ErrNoOpChange               = &Error{Kind: NoOpChange}
	ErrTransientProviderFailure = &Error{Kind: TransientProviderFailure}
	ErrStorageFailure           = &Error{Kind: StorageFailure}
	ErrNotFound                 = &Error{Kind: NotFound}
)

// Error is the typed failure returned by every core operation.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "buy"
	Msg  string // user-facing detail
	Err  error  // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrOversoldAttempt)
// works regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an *Error with a formatted message.
func E(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. If err already carries a kind
// it is returned unchanged.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}
