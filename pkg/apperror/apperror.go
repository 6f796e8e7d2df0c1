package apperror

import (
	"errors"
	"net/http"
)

// Machine-readable failure codes returned to clients.
const (
	CodeValidation     = "validation_error"
	CodeAuthorization  = "authorization_error"
	CodeRateLimited    = "rate_limited"
	CodeTimeout        = "compilation_timeout"
	CodeCompilation    = "compilation_failure"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal_error"
	CodePayloadTooBig  = "payload_too_large"
	CodeMethodNotAllow = "method_not_allowed"
)

// AppError is a failure that carries its HTTP status class and the job it
// belongs to. The wrapped cause is for logs only and never serialized.
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	JobID   string `json:"jobId,omitempty"`
	Field   string `json:"field,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// WithJob returns a copy of e tagged with the job id.
func (e *AppError) WithJob(id string) *AppError {
	clone := *e
	clone.JobID = id
	return &clone
}

func New(status int, code, message string) *AppError {
	return &AppError{Status: status, Code: code, Message: message}
}

func Wrap(err error, status int, code, message string) *AppError {
	return &AppError{Status: status, Code: code, Message: message, cause: err}
}

func Validation(field, message string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeValidation, Message: message, Field: field}
}

func Unauthorized(message string) *AppError {
	return New(http.StatusUnauthorized, CodeAuthorization, message)
}

func Timeout(jobID string, cause error) *AppError {
	return &AppError{
		Status:  http.StatusGatewayTimeout,
		Code:    CodeTimeout,
		Message: "document compilation timed out",
		JobID:   jobID,
		cause:   cause,
	}
}

func Compilation(jobID string, cause error) *AppError {
	return &AppError{
		Status:  http.StatusInternalServerError,
		Code:    CodeCompilation,
		Message: "document compilation failed",
		JobID:   jobID,
		cause:   cause,
	}
}

func NotFound(message string) *AppError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Internal(cause error) *AppError {
	return Wrap(cause, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries an AppError with the given code.
func IsCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
