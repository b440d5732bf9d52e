package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to command
// callers and API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError with a caller-facing message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrPermissionCap is returned when an owner already stores the maximum
	// number of permission rows and the new row cannot evict anything.
	ErrPermissionCap = &AppError{
		Code:       "permission.cap_exceeded",
		Message:    "You have reached the maximum number of stored channel permissions",
		StatusCode: http.StatusConflict,
	}

	// ErrModeratorLimit is returned when granting another moderator would
	// exceed the caller's tier limit.
	ErrModeratorLimit = &AppError{
		Code:       "permission.moderator_limit",
		Message:    "Your subscription tier does not allow more moderators on this channel",
		StatusCode: http.StatusConflict,
	}

	// ErrEveryoneModerator rejects moderator grants aimed at the everyone target.
	ErrEveryoneModerator = &AppError{
		Code:       "permission.everyone_moderator",
		Message:    "The moderator permission cannot be granted to everyone",
		StatusCode: http.StatusBadRequest,
	}

	// ErrAutoKickLimit is returned when an owner's autokick list is full for
	// their tier, or their tier allows no autokicks at all.
	ErrAutoKickLimit = &AppError{
		Code:       "autokick.limit",
		Message:    "Your subscription tier does not allow more autokick entries",
		StatusCode: http.StatusConflict,
	}

	// ErrAutoKickExists rejects duplicate autokick pairs.
	ErrAutoKickExists = &AppError{
		Code:       "autokick.exists",
		Message:    "That member is already on your autokick list",
		StatusCode: http.StatusConflict,
	}

	// ErrAutoKickMissing rejects removal of a pair that is not stored.
	ErrAutoKickMissing = &AppError{
		Code:       "autokick.missing",
		Message:    "That member is not on your autokick list",
		StatusCode: http.StatusNotFound,
	}

	// ErrPlatformFailure is the generic "failed, try again" surfaced to users
	// when the chat platform rejects or drops an operation.
	ErrPlatformFailure = &AppError{
		Code:       "platform.failure",
		Message:    "The operation failed, please try again",
		StatusCode: http.StatusBadGateway,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
