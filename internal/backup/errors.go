package backup

import "errors"

// Failure kinds. Errors returned by this package match one of these with
// errors.Is and unwrap to the underlying cause.
var (
	ErrNotFound         = errors.New("backup not found")
	ErrCorrupt          = errors.New("backup is corrupt")
	ErrInvalidFormat    = errors.New("invalid backup format")
	ErrCaptureFailed    = errors.New("capture failed")
	ErrRestoreFailed    = errors.New("restore failed")
	ErrWriteFailed      = errors.New("backup write failed")
	ErrValidationFailed = errors.New("backup validation failed")
	ErrBusy             = errors.New("another backup operation is in progress")
)

// Error is a typed engine failure.
type Error struct {
	Kind     error
	Filename string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Filename != "" {
		msg += ": " + e.Filename
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the failure kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, filename string, err error) *Error {
	return &Error{Kind: kind, Filename: filename, Err: err}
}
