package checklist

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/syncengine"
)

// Error kinds. Every error returned by the Orchestrator matches exactly one
// of them with errors.Is. "No checklist applicable" is not an error.
var (
	// ErrValidation: the request is invalid for the current state and was
	// rejected before any network call.
	ErrValidation = errors.New("validation")

	// ErrTransient: the remote API could not be reached. Retrying later
	// may succeed.
	ErrTransient = errors.New("transient")

	// ErrRejected: the remote API answered and refused the request.
	ErrRejected = errors.New("rejected")

	// ErrIntegrity: a response or stored record is unusable; retrying the
	// same operation will not help.
	ErrIntegrity = errors.New("integrity")

	// ErrTemplateMissing: an instance exists but its template could not be
	// resolved. The instance is still adopted.
	ErrTemplateMissing = errors.New("template missing")
)

var kinds = []error{ErrValidation, ErrTransient, ErrRejected, ErrIntegrity, ErrTemplateMissing}

// Error is an orchestrator failure tagged with its kind.
type Error struct {
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Kind returns the name of err's kind, or "" for nil and unknown errors.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ""
}

func validationErr(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func localErr(op string, err error) error {
	return &Error{Op: op, Kind: ErrIntegrity, Message: "local store failure", Err: err}
}

// classify maps remote and sync errors onto the error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var rej *remote.RejectedError
	switch {
	case errors.As(err, &rej):
		return &Error{Op: op, Kind: ErrRejected, Message: rej.Message, Err: err}
	case errors.Is(err, remote.ErrUnauthorized):
		return &Error{Op: op, Kind: ErrRejected, Message: "credentials refused", Err: err}
	case errors.Is(err, remote.ErrNotFound):
		return &Error{Op: op, Kind: ErrRejected, Message: "not found", Err: err}
	case errors.Is(err, syncengine.ErrIntegrity):
		return &Error{Op: op, Kind: ErrIntegrity, Err: err}
	case remote.IsTransient(err), errors.Is(err, syncengine.ErrNotReady),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Op: op, Kind: ErrTransient, Err: err}
	default:
		return &Error{Op: op, Kind: ErrIntegrity, Err: err}
	}
}
