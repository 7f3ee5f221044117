package record

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind buckets gateway failures by how the caller must react.
type Kind int

const (
	// KindTransient covers network and backend failures worth retrying.
	KindTransient Kind = iota
	// KindConflict covers identity/ownership rejections; fatal for the call.
	KindConflict
	// KindValidation covers malformed calls; a programming error, never retried.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified failure from the system-of-record boundary.
type Error struct {
	Kind    Kind
	Fn      string
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("record rpc %s failed (%s, status %d): %s", e.Fn, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("record rpc %s failed (%s): %s", e.Fn, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewValidationError flags a locally detected caller contract violation.
func NewValidationError(fn, message string) *Error {
	return &Error{Kind: KindValidation, Fn: fn, Message: message}
}

func classifyStatus(status int) Kind {
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return KindTransient
	case status == http.StatusConflict,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden:
		return KindConflict
	default:
		return KindValidation
	}
}

func kindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err should be retried with backoff. Unknown
// errors (e.g. raw transport failures that escaped classification) count as
// transient so the bounded retry path still applies.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	k, ok := kindOf(err)
	return !ok || k == KindTransient
}

func IsConflict(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConflict
}

func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}
