package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the server answered and the resource is explicitly
	// absent (404, or a success envelope carrying no data).
	ErrNotFound = errors.New("remote: not found")

	// ErrUnauthorized means the server refused the credentials (401/403),
	// or no usable credentials were available to send.
	ErrUnauthorized = errors.New("remote: unauthorized")
)

// TransportError reports a call that did not complete: network failure,
// timeout, or a 5xx/408/429 response. Retrying later may succeed.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: server error (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError reports a call that completed but that the server refused.
// Message carries the server's explanation verbatim.
type RejectedError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected (status %d): %s", e.Op, e.Status, e.Message)
}

// IsTransient reports whether err may succeed on a later retry.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, ErrUnauthorized)
}

// IsRejected reports whether the server refused the request outright.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
