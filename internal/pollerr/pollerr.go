// Package pollerr defines the error taxonomy shared by every poll lifecycle
// service. Handlers and background loops classify failures by Kind rather
// than by concrete type, so a single switch at the boundary decides retry,
// rollback, and owner-notification behavior.
package pollerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure the way the lifecycle services need to react to
// it, independent of which subsystem raised it.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindPermission    Kind = "permission"
	KindRateLimit     Kind = "rate_limit"
	KindTransport     Kind = "transport"
	KindDataIntegrity Kind = "data_integrity"
	KindUnexpected    Kind = "unexpected"
)

// HumanMessages surfaces a stable, user-facing message per Kind. Individual
// errors may override this with a more specific Message.
var HumanMessages = map[Kind]string{
	KindValidation:    "That value isn't valid.",
	KindNotFound:      "Not found.",
	KindPermission:    "Bot lacks permission.",
	KindRateLimit:     "The chat platform is rate-limiting us; retrying shortly.",
	KindTransport:     "A transient error occurred talking to the chat platform.",
	KindDataIntegrity: "Something went wrong saving that. The team has been notified.",
	KindUnexpected:    "An unexpected error occurred.",
}

// Error is the structured error every lifecycle service returns instead of
// raising bare errors, per the propagation policy: services render {success,
// error_kind, message} rather than panicking.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// HumanMessage returns the field-identifying message for validation errors,
// or the stable per-Kind message otherwise.
func (e *Error) HumanMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if msg, ok := HumanMessages[e.Kind]; ok {
		return msg
	}
	return "An unexpected error occurred."
}

// New builds a classified error with an explicit human message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error, preserving it for errors.Is/As.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validationf builds a KindValidation error identifying the offending field.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindUnexpected when err
// isn't a *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if err == nil {
		return ""
	}
	return KindUnexpected
}

// IsRetryable reports whether the classified error kind is worth retrying
// with backoff (rate limits and transient transport failures), matching the
// chat-platform adapter's retry contract.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTransport:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether err (or a wrapped cause) is a not-found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsPermission reports whether err is a chat-platform permission failure.
func IsPermission(err error) bool {
	return KindOf(err) == KindPermission
}
