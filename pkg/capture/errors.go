package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureFailure means the frame source returned no usable frame.
	ErrCaptureFailure = errors.New("camera capture failed")
	// ErrServiceUnready leaves the trigger pending for a later attempt.
	ErrServiceUnready = errors.New("upload service not ready")
	ErrBusy           = errors.New("capture cycle already in flight")
	ErrNoTrigger      = errors.New("no pending trigger")
)

type UploadError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed: %s", e.Filename, e.Reason)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
