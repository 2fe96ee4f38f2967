package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
	"github.com/utafrali/storefront-sync/pkg/logger"
	"github.com/utafrali/storefront-sync/pkg/validator"
)

// Response is the JSON envelope shared by the sidecar and the commerce API.
type Response struct {
	Data    any            `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Warning *ErrorResponse `json:"warning,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes v inside the data envelope.
func WriteData(w http.ResponseWriter, status int, v any) {
	WriteJSON(w, status, Response{Data: v})
}

// WriteError writes the error envelope for err. AppErrors keep their code and
// status; soft errors are reported as a warning next to the optional data.
// It prefers the request-scoped logger from context over fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	writeError(w, r, err, nil, fallback)
}

// WriteSoft writes data with err attached as a warning when err is soft,
// and falls back to WriteError otherwise. A nil err writes data with 200.
func WriteSoft(w http.ResponseWriter, r *http.Request, data any, err error, fallback *slog.Logger) {
	if err == nil {
		WriteData(w, http.StatusOK, data)
		return
	}
	writeError(w, r, err, data, fallback)
}

func writeError(w http.ResponseWriter, r *http.Request, err error, data any, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}
	requestID := logger.RequestIDFromContext(r.Context())

	body := &ErrorResponse{
		Code:      "INTERNAL_ERROR",
		Message:   "an internal error occurred",
		RequestID: requestID,
	}
	status := apperrors.HTTPStatus(err)

	var appErr *apperrors.AppError
	var valErr *validator.ValidationError
	switch {
	case errors.As(err, &appErr):
		body.Code = appErr.Code
		body.Message = appErr.Message
	case errors.As(err, &valErr):
		body.Code = "VALIDATION_FAILURE"
		body.Message = "request validation failed"
		body.Fields = valErr.Fields()
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		body.Code = "NOT_FOUND"
		body.Message = "resource not found"
	}

	if apperrors.IsSoft(err) {
		WriteJSON(w, status, Response{Data: data, Warning: body})
		return
	}

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, Response{Error: body})
}
