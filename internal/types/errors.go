package types

import (
	"errors"
	"fmt"
)

// Error kinds of the telemetry pipeline. Range violations are not errors,
// they only clear Measurement.Valid.
var (
	// Connect failure: fatal to the cycle, retried on the next schedule.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// Per block / register: downgrades to null measurements, the cycle continues.
	ErrRegisterReadFailed = errors.New("register read failed")

	// Configuration error, never retried.
	ErrUnknownRegister = errors.New("unknown register")

	ErrSchemaMutationFailed   = errors.New("schema mutation failed")
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
)

// RegisterReadError describes a failed block read.
type RegisterReadError struct {
	Start uint16
	Count uint16
	Err   error
}

func (e *RegisterReadError) Error() string {
	return fmt.Sprintf("read of %d registers at %d failed: %v", e.Count, e.Start, e.Err)
}

func (e *RegisterReadError) Unwrap() []error {
	return []error{ErrRegisterReadFailed, e.Err}
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
