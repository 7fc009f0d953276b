package shared

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Task lifecycle errors
	ErrPrecondition = errors.New("precondition failed")
	ErrTaskActive   = errors.New("a task is already in flight or displayed; reset first")
	ErrControlPlane = errors.New("control plane request failed")
	ErrTransport    = errors.New("upload failed")
	ErrChannel      = errors.New("progress channel error")
	ErrTaskFailed   = errors.New("task failed on the server")
	ErrTaskNotFound = errors.New("task not found")
	ErrSuperseded   = errors.New("session was reset while the operation was in flight")
	ErrAbandoned    = errors.New("task abandoned before completion")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// PreconditionError reports an operation invoked before its inputs exist
// (no file, no credential, no container/object identifiers). No network call is made.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// NewPreconditionError is the constructor for [PreconditionError]
func NewPreconditionError(op, reason string) *PreconditionError {
	return &PreconditionError{Op: op, Reason: reason}
}

// ControlPlaneError reports a non-success response or transport failure from a control-plane call.
//
// StatusCode is zero when the request never produced a response.
type ControlPlaneError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *ControlPlaneError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Detail)
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": " + ErrControlPlane.Error()
	}
}

func (e *ControlPlaneError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrControlPlane, e.Err}
	}
	return []error{ErrControlPlane}
}

// TransportError reports a rejected upload or a dropped connection while streaming bytes.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: destination returned status %d", ErrTransport, e.StatusCode)
	}
	return fmt.Sprintf("%v: %v", ErrTransport, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTransport, e.Err}
	}
	return []error{ErrTransport}
}

// ChannelError reports a push-channel connection drop. It is a warning, never a task failure.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%v: %v", ErrChannel, e.Err)
}

func (e *ChannelError) Unwrap() []error {
	return []error{ErrChannel, e.Err}
}
