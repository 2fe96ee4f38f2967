package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the sync engine failure taxonomy.
var (
	ErrNetwork               = errors.New("network failure")
	ErrValidation            = errors.New("validation failure")
	ErrRejected              = errors.New("rejected by server")
	ErrVerificationFailed    = errors.New("payment verification failed")
	ErrVerificationAmbiguous = errors.New("payment verification ambiguous")
	ErrMigrationTimeout      = errors.New("cart migration timed out")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInternal              = errors.New("internal error")
)

// AppError represents a structured error carrying a machine-readable code,
// a user-facing message and the sidecar HTTP status it maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NetworkFailure wraps a transport-level failure. No remote state change is
// assumed, so optimistic writes are rolled back.
func NetworkFailure(op string, err error) *AppError {
	return &AppError{
		Code:    "NETWORK_FAILURE",
		Message: fmt.Sprintf("%s: remote service unreachable", op),
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrNetwork, err),
	}
}

// ValidationFailure is raised before any remote call is issued.
func ValidationFailure(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILURE",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrValidation,
	}
}

// ServerRejection reports a business error returned by the remote service.
// A zero status maps to 422.
func ServerRejection(code, message string, status int) *AppError {
	if code == "" {
		code = "SERVER_REJECTION"
	}
	if status == 0 {
		status = http.StatusUnprocessableEntity
	}
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     ErrRejected,
	}
}

// VerificationFailed reports that the backend checked the payment assertion
// and rejected it. This is not a declined payment.
func VerificationFailed(message string) *AppError {
	return &AppError{
		Code:    "VERIFICATION_FAILED",
		Message: message,
		Status:  http.StatusPaymentRequired,
		Err:     ErrVerificationFailed,
	}
}

// VerificationAmbiguous reports that payment may have gone through but the
// verification call did not complete. It must never be retried silently.
func VerificationAmbiguous(err error) *AppError {
	return &AppError{
		Code:    "VERIFICATION_AMBIGUOUS",
		Message: "payment could not be confirmed; contact support before paying again",
		Status:  http.StatusConflict,
		Err:     errors.Join(ErrVerificationAmbiguous, err),
	}
}

// MigrationTimeout is a soft condition: the guest cart merge was not visible
// within the polling window and the user should be offered a manual refresh.
func MigrationTimeout(attempts int) *AppError {
	return &AppError{
		Code:    "MIGRATION_TIMEOUT",
		Message: fmt.Sprintf("cart merge not visible after %d attempts, refresh to retry", attempts),
		Status:  http.StatusAccepted,
		Err:     ErrMigrationTimeout,
	}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     errors.Join(ErrInternal, err),
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// IsSoft reports whether err should be shown as a warning rather than a
// failure.
func IsSoft(err error) bool {
	return errors.Is(err, ErrMigrationTimeout)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrVerificationFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrVerificationAmbiguous):
		return http.StatusConflict
	case errors.Is(err, ErrMigrationTimeout):
		return http.StatusAccepted
	case errors.Is(err, ErrNetwork):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRejection reports whether the remote service processed the request and
// refused it.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsNetwork reports whether err is a transient transport failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
