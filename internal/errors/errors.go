// Package errors defines the error-kind hierarchy the daemon uses to decide
// how a failure propagates: request handlers convert a kind into an HTTP/pipe
// status code, background loops decide whether to log-and-continue or treat
// the failure as fatal.
package errors

import (
	"errors"
	"fmt"
)

// Code mirrors the operator-pipe response codes from the external interface.
type Code int

const (
	CodeOK                  Code = 200
	CodeBadRequest          Code = 400
	CodeNotAuthorized       Code = 401
	CodeNotFound            Code = 404
	CodeInternalServerError Code = 500
)

// Kind classifies an error for propagation-policy purposes.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuthz        Kind = "authorization"
	KindNotFound     Kind = "not_found"
	KindDomain       Kind = "domain"
	KindTransport    Kind = "transport"
	KindTermination  Kind = "termination"
	KindBackend      Kind = "backend"
)

// Error is the concrete type every constructor in this package returns. It
// wraps an optional cause so errors.Is/errors.As walk the chain normally.
type Error struct {
	Kind    Kind
	Message string
	Path    string // offending request field, for ValidationError
	Err     error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Code maps the error's kind to an operator-pipe response code. Unknown kinds
// (including plain, non-*Error causes) map to INTERNAL_SERVER_ERROR.
func (e *Error) Code() Code {
	switch e.Kind {
	case KindValidation:
		return CodeBadRequest
	case KindAuthz:
		return CodeNotAuthorized
	case KindNotFound:
		return CodeNotFound
	default:
		return CodeInternalServerError
	}
}

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validation wraps a malformed request body/param or invalid detail JSON.
func Validation(path, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Path: path}
}

// Authorization wraps a requester that is known but not permitted.
func Authorization(message string) *Error { return newErr(KindAuthz, message, nil) }

// NotFound wraps a missing resource/agreement/provider lookup.
func NotFound(message string) *Error { return newErr(KindNotFound, message, nil) }

// Domain wraps an internal inconsistency (e.g. update against an unknown protocol).
func Domain(message string, cause error) *Error { return newErr(KindDomain, message, cause) }

// Transport wraps a chain/indexer network failure. Reconciler and sweeper
// treat this kind specially: it trips the degradation-discipline health
// probe and does not advance the processing cursor for the affected window.
func Transport(message string, cause error) *Error { return newErr(KindTransport, message, cause) }

// Backend wraps a ServiceBackend.Create/GetDetails/Delete failure.
func Backend(op, message string, cause error) *Error {
	return newErr(KindBackend, fmt.Sprintf("%s: %s", op, message), cause)
}

// terminationSentinel is the cause Termination wraps; IsTermination walks the
// chain looking for it rather than comparing *Error values directly, since a
// TerminationError may itself be wrapped by intermediate callers.
var terminationSentinel = errors.New("operation cancelled")

// Termination wraps ctx.Err() (or an equivalent) when a cancellation token
// fires mid-operation. Loops detect it and exit quietly instead of logging
// it as a failure.
func Termination(cause error) *Error {
	if cause == nil {
		cause = terminationSentinel
	}
	return &Error{Kind: KindTermination, Message: "operation cancelled", Err: cause}
}

// IsTermination walks the error chain looking for a Kind of KindTermination.
func IsTermination(err error) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) && e.Kind == KindTermination {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// KindOf extracts the Kind of err, walking the chain; returns "" if err is
// nil or does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As is a convenience re-export so callers need only import this package.
func As(err error, target any) bool { return errors.As(err, target) }

// Is is a convenience re-export so callers need only import this package.
func Is(err, target error) bool { return errors.Is(err, target) }
