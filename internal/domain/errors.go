package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable, serializable classification of orchestrator errors.
// Callers receive the kind string, never a raw internal error payload.
type ErrorKind string

const (
	KindConfig                ErrorKind = "ConfigError"
	KindNotFound              ErrorKind = "NotFoundError"
	KindDuplicateTask         ErrorKind = "DuplicateTaskId"
	KindUnknownWorkflow       ErrorKind = "UnknownWorkflow"
	KindInvalidTransition     ErrorKind = "InvalidTransitionError"
	KindTimeout               ErrorKind = "TimeoutError"
	KindCapabilityUnavailable ErrorKind = "CapabilityUnavailableError"
	KindResourceNotFound      ErrorKind = "ResourceNotFoundError"
	KindCollaboration         ErrorKind = "CollaborationError"
	KindDegradationFailure    ErrorKind = "DegradationFailure"
	KindInternal              ErrorKind = "InternalError"
)

// MaxErrorMessageLength caps user-visible error messages so results stay
// transportable through storage and the API.
const MaxErrorMessageLength = 500

// Error is a classified orchestrator error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error.
func E(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a classified error around a cause.
func Wrap(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the classification of err, or KindInternal for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether a step failure of this kind is subject to the
// per-step retry policy.
func IsRetryable(kind ErrorKind) bool {
	switch kind {
	case KindTimeout, KindCapabilityUnavailable, KindResourceNotFound, KindCollaboration:
		return true
	default:
		return false
	}
}

// TriggersDegradation reports whether a terminal failure of this kind on a
// required step hands the task to the degradation controller instead of
// failing it outright.
func TriggersDegradation(kind ErrorKind) bool {
	return kind == KindResourceNotFound || kind == KindCollaboration
}

// TruncateMessage bounds a message to MaxErrorMessageLength bytes.
func TruncateMessage(msg string) string {
	if len(msg) <= MaxErrorMessageLength {
		return msg
	}
	return msg[:MaxErrorMessageLength]
}
