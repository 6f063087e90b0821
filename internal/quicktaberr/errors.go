// Package quicktaberr collects the error taxonomy shared by the domain,
// persistence, bus, and router layers so callers can branch on kind with
// errors.Is/errors.As instead of matching strings.
package quicktaberr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the taxonomy entries from the error handling design.
type Kind string

const (
	KindInvalidArgument  Kind = "InvalidArgument"
	KindQuotaExceeded    Kind = "QuotaExceeded"
	KindStorageCorrupt   Kind = "StorageCorruption"
	KindNotFound         Kind = "NotFound"
	KindUnauthorized     Kind = "Unauthorized"
	KindTransportFailure Kind = "TransportFailure"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, quicktaberr.NotFound) style sentinel checks by
// comparing Kind, not identity.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind && te.Message == ""
	}
	return false
}

func newKind(kind Kind) error {
	return &Error{Kind: kind}
}

// Sentinel values for errors.Is comparisons where no extra context is needed.
var (
	NotFound         = newKind(KindNotFound)
	Unauthorized     = newKind(KindUnauthorized)
	QuotaExceeded    = newKind(KindQuotaExceeded)
	TransportFailure = newKind(KindTransportFailure)
)

// InvalidArgument builds a validation error with a field-specific message.
func InvalidArgument(msg string) error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

// InvalidArgumentf builds a validation error with a formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// StorageCorruption wraps a parse failure that the migrator recovered from.
func StorageCorruption(msg string, cause error) error {
	return &Error{Kind: KindStorageCorrupt, Message: msg, Cause: cause}
}

// NotFoundf builds a not-found error naming the missing identifier.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unauthorizedf builds an authorization failure with context.
func Unauthorizedf(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// TransportFailuref wraps a publish failure; never retried per §7.
func TransportFailuref(cause error, format string, args ...any) error {
	return &Error{Kind: KindTransportFailure, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// QuotaExceededf wraps a storage quota rejection.
func QuotaExceededf(format string, args ...any) error {
	return &Error{Kind: KindQuotaExceeded, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or "" if err is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Code returns a short machine-readable code for router responses.
func Code(err error) string {
	switch KindOf(err) {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case KindStorageCorrupt:
		return "STORAGE_CORRUPTION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindTransportFailure:
		return "TRANSPORT_FAILURE"
	default:
		return "UNKNOWN"
	}
}
