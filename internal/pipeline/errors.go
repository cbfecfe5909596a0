package pipeline

import "errors"

// Recoverable error kinds. They are absorbed by the session and surface
// only in logs, status and error events.
var (
	ErrSensorRead  = errors.New("sensor read failed")
	ErrClassifier  = errors.New("classifier failed")
	ErrExport      = errors.New("media export failed")
	ErrRemoteSend  = errors.New("remote send failed")
	ErrPersistence = errors.New("persistence failed")
)

// CameraReadError is fatal to a running session.
type CameraReadError struct {
	Err error
}

func (e *CameraReadError) Error() string {
	return "camera read failed: " + e.Err.Error()
}

func (e *CameraReadError) Unwrap() error {
	return e.Err
}
