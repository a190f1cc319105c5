// Package errors provides the error taxonomy shared by the project assistant.
//
// Business failures (authorization, missing project, unmet preconditions) are
// returned as *UserError values whose message is safe to show in chat. Remote
// failures against other conversations are wrapped in *RemoteError so the
// retry layer can classify them.
package errors

import (
	"errors"
	"fmt"
)

// Kinds of business failure. Match them with errors.Is.
var (
	ErrNoProject         = errors.New("no project associated")
	ErrAlreadyAssociated = errors.New("conversation already associated")
	ErrDenied            = errors.New("access denied")
	ErrNotFound          = errors.New("resource not found")
	ErrPrecondition      = errors.New("precondition not met")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrUnsupported       = errors.New("not available for this template")
	ErrNoContent         = errors.New("no content extracted")
	ErrAmbiguous         = errors.New("ambiguous identifier")
)

// Transport failures.
var (
	ErrTimeout     = errors.New("operation timed out")
	ErrRateLimit   = errors.New("rate limit exceeded")
	ErrUnavailable = errors.New("service unavailable")
)

// UserError is a business failure carrying a human-readable message.
type UserError struct {
	Kind    error
	Message string
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Kind }

// New creates a UserError of the given kind.
func New(kind error, format string, args ...any) *UserError {
	return &UserError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err carries a message meant for the user.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// Message returns the user-facing text of err. Unexpected errors collapse to
// a generic sentence so internals never leak into chat.
func Message(err error) string {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return "Something went wrong while processing that. Please try again."
}

// RemoteError represents a failed call against another conversation or an
// external service.
type RemoteError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (status %d): %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// NewRemoteError wraps err as a failure of op against service.
func NewRemoteError(service, op string, statusCode int, err error) *RemoteError {
	return &RemoteError{Service: service, Op: op, StatusCode: statusCode, Err: err}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		switch remote.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}
