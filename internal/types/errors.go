package types

import (
	"errors"
	"fmt"
)

// Code identifies why a stage failed. Terminal failures always carry one;
// a bare "something went wrong" never reaches the operator.
type Code string

const (
	CodeAssetUnavailable       Code = "asset_unavailable"
	CodeTimingMismatch         Code = "timing_mismatch"
	CodeRenderFailure          Code = "render_failure"
	CodeAuthenticationRequired Code = "authentication_required"
	CodeUploadTimeout          Code = "upload_timeout"
	CodeUploadRejected         Code = "upload_rejected"
	CodeStaleLockDetected      Code = "stale_lock_detected"
	CodeSessionBusy            Code = "session_busy"
)

// StageError wraps a failure with the pipeline stage it occurred in and a
// reason code.
type StageError struct {
	Stage string
	Code  Code
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %s: %s", e.Stage, e.Code)
	}
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Code, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError tags err with a stage name and reason code.
func NewStageError(stage string, code Code, err error) *StageError {
	return &StageError{Stage: stage, Code: code, Err: err}
}

// CodeOf extracts the reason code from err, or "" if it carries none.
func CodeOf(err error) Code {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether err carries the given reason code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
