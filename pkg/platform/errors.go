package platform

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed platform call for per-item outcome reporting.
type ErrorKind string

const (
	// KindNotFound means the platform denies knowledge of the entity.
	KindNotFound ErrorKind = "not_found"
	// KindConflict means the mutation was redundant (e.g. already attached).
	// Callers generally treat this as success.
	KindConflict ErrorKind = "conflict"
	// KindTransport covers timeouts, connection failures, and 5xx responses
	// that survived the retry budget.
	KindTransport ErrorKind = "transport"
	// KindInput covers terminal 4xx responses other than 404/409.
	KindInput ErrorKind = "input"
	// KindUnknown is everything else.
	KindUnknown ErrorKind = "unknown"
)

// APIError is a failed platform request with enough context to build a
// per-item outcome.
type APIError struct {
	Kind   ErrorKind
	Op     string // e.g. "attach tool", "register mcp tool"
	Status int    // HTTP status, 0 for transport-level failures
	Msg    string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// KindOf extracts the error kind; non-API errors are KindTransport when they
// wrap a network failure and KindUnknown otherwise.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if err != nil {
		return KindUnknown
	}
	return ""
}

// IsNotFound reports whether err is a platform 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}

// IsConflict reports whether err is a platform 409.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindConflict
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == 404:
		return KindNotFound
	case status == 409:
		return KindConflict
	case status >= 500:
		return KindTransport
	case status >= 400:
		return KindInput
	default:
		return KindUnknown
	}
}
