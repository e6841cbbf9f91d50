package auth

import (
	"errors"
	"net/http"
)

// Kind classifies why a credential was not accepted.
type Kind int

// Verification failure kinds. The first three are caller faults (401); the
// last is an infrastructure fault (503).
const (
	KindNoCredential Kind = iota + 1
	KindInvalidCredential
	KindExpiredCredential
	KindKeyUnavailable
)

// Code returns the machine readable code used in error responses.
func (k Kind) Code() string {
	switch k {
	case KindNoCredential:
		return "no_credential"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindExpiredCredential:
		return "expired_credential"
	case KindKeyUnavailable:
		return "key_unavailable"
	default:
		return "unknown"
	}
}

// Message returns a human readable description for error responses.
func (k Kind) Message() string {
	switch k {
	case KindNoCredential:
		return "Authentication required"
	case KindInvalidCredential:
		return "The access token is invalid"
	case KindExpiredCredential:
		return "The access token has expired"
	case KindKeyUnavailable:
		return "Token verification is temporarily unavailable"
	default:
		return "Unknown authentication error"
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return k.Code() }

// Error is returned by Verifier.Verify.
type Error struct {
	Kind Kind
	Err  error
}

// Sentinels for errors.Is comparisons.
var (
	ErrNoCredential      = &Error{Kind: KindNoCredential}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrExpiredCredential = &Error{Kind: KindExpiredCredential}
	ErrKeyUnavailable    = &Error{Kind: KindKeyUnavailable}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.Code() + ": " + e.Err.Error()
	}
	return e.Kind.Code()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Unauthenticated reports whether the failure is the caller's fault.
func (e *Error) Unauthenticated() bool {
	return e.Kind != KindKeyUnavailable
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	if e.Kind == KindKeyUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

// KindOf extracts the Kind from err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
