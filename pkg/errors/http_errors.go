package errors

import (
	"net/http"
)

// FromError converts a standard error to an AppError
// If the error already carries an AppError, it is returned as-is
// Otherwise it becomes a generic internal error so no internal detail leaks
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := As(err); ok {
		return appErr
	}

	appErr := NewInternalServerError(CodeInternal, "An unexpected error occurred")
	appErr.Err = err
	return appErr
}

// BadRequestWithDetails creates a 400 Bad Request error with details
func BadRequestWithDetails(code string, message string, details any) *AppError {
	return NewBadRequestError(code, message).WithDetails(details)
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code from an AppError, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// PublicMessage is the message safe to show a client: AppError messages as-is,
// a generic text for anything else
func PublicMessage(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Message
	}
	return "An unexpected error occurred"
}
