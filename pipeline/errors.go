package pipeline

import "errors"

// ErrorKind classifies pipeline errors for outcome determination.
type ErrorKind int

const (
	// ErrorUpstream indicates the producer failed mid-stream.
	ErrorUpstream ErrorKind = iota
	// ErrorCanceled indicates context cancellation (client disconnect).
	ErrorCanceled
	// ErrorEmit indicates the client event channel rejected a write,
	// typically because the client went away.
	ErrorEmit
)

// Error wraps a pipeline failure with its classification.
// Persistence failures are never represented here: the sink sits behind a
// failure boundary and its errors are logged and swallowed.
type Error struct {
	// Kind indicates the failure class.
	Kind ErrorKind
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUpstreamError returns true if the error is a producer failure.
func IsUpstreamError(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == ErrorUpstream
	}
	return false
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == ErrorCanceled
	}
	return false
}

// IsEmitError returns true if the error came from the client event channel.
func IsEmitError(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == ErrorEmit
	}
	return false
}
