package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures into the categories the gateway reacts to
// differently: connection and crypto errors disable the whole system,
// response errors mean "not currently authorized", validation errors are
// reported to the submitting caller only.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindResponse   ErrorKind = "response"
	KindCrypto     ErrorKind = "crypto"
	KindValidation ErrorKind = "validation"
)

// Fatal reports whether errors of this kind must disable the gateway.
func (k ErrorKind) Fatal() bool {
	return k == KindConnection || k == KindCrypto
}

// Error is the typed error propagated across service layers instead of
// exceptions-as-control-flow. Op names the failing operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and operation name.
func E(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef is E with a formatted message instead of a wrapped cause.
func Ef(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

var (
	// ErrNoCredential signals that no refresh token has been stored yet.
	ErrNoCredential = errors.New("credential: not authorized")
	// ErrNotFound signals a missing record in any of the local stores.
	ErrNotFound = errors.New("record not found")
	// ErrSyncRunning signals that a reconcile cycle is already in flight.
	ErrSyncRunning = errors.New("sync: reconcile already running")
	// ErrSystemDisabled signals that a fatal error has disabled the gateway.
	ErrSystemDisabled = errors.New("system disabled")
)
