package workflow

import "fmt"

// Kind classifies workflow errors so callers can map them to a response
// without string matching.
type Kind int

const (
	// KindValidation indicates bad input shape, size, or format. Never
	// retried; the user must correct the input.
	KindValidation Kind = iota
	// KindPreconditionNotMet indicates an operation attempted before its
	// required upstream state exists.
	KindPreconditionNotMet
	// KindAlreadyInProgress indicates the concurrency guard rejected a
	// second in-flight request.
	KindAlreadyInProgress
	// KindNotFound indicates a reference to a non-existent rule or item id.
	KindNotFound
	// KindRemoteFailure indicates the remote collaborator reported an error
	// or was unreachable.
	KindRemoteFailure
	// KindEmptyResult indicates a valid but empty identification outcome.
	// It is a reported condition, not a failure.
	KindEmptyResult
)

// String returns the machine-readable code for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindPreconditionNotMet:
		return "precondition_not_met"
	case KindAlreadyInProgress:
		return "already_in_progress"
	case KindNotFound:
		return "not_found"
	case KindRemoteFailure:
		return "remote_failure"
	case KindEmptyResult:
		return "empty_result"
	default:
		return "unknown"
	}
}

// Fixed user-facing messages. Only RemoteFailure carries a verbatim message
// from the remote service; every other kind maps to a stable string.
const (
	msgValidation         = "invalid input"
	msgPreconditionNotMet = "operation requires upstream state that does not exist yet"
	msgAlreadyInProgress  = "another request is already in flight for this document"
	msgNotFound           = "referenced id does not exist"
	msgRemoteFailure      = "remote desensitization service failed"
	msgEmptyResult        = "no sensitive data found"
)

// Error is the workflow error type. It carries a Kind, a user-facing
// message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// ErrValidation returns a validation error with a caller-supplied detail.
func ErrValidation(detail string) *Error {
	if detail == "" {
		detail = msgValidation
	}
	return &Error{Kind: KindValidation, Message: detail}
}

// ErrPreconditionNotMet returns the fixed precondition error.
func ErrPreconditionNotMet() *Error {
	return &Error{Kind: KindPreconditionNotMet, Message: msgPreconditionNotMet}
}

// ErrAlreadyInProgress returns the fixed concurrency-guard error.
func ErrAlreadyInProgress() *Error {
	return &Error{Kind: KindAlreadyInProgress, Message: msgAlreadyInProgress}
}

// ErrNotFound returns the fixed not-found error.
func ErrNotFound() *Error {
	return &Error{Kind: KindNotFound, Message: msgNotFound}
}

// ErrRemoteFailure wraps a failed remote call. The remote's own message is
// used verbatim when present, otherwise the generic message.
func ErrRemoteFailure(message string, cause error) *Error {
	if message == "" {
		message = msgRemoteFailure
	}
	return &Error{Kind: KindRemoteFailure, Message: message, cause: cause}
}

// ErrEmptyResult returns the fixed empty-identification condition.
func ErrEmptyResult() *Error {
	return &Error{Kind: KindEmptyResult, Message: msgEmptyResult}
}

// KindOf extracts the Kind from err. The second return is false when err is
// nil or not a workflow error.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return 0, false
	}
	if we, ok := err.(*Error); ok {
		return we.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a workflow error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
