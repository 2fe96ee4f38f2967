package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
)

// RemoteErrorResponse mirrors the httputil.ErrorResponse envelope returned by
// the commerce API.
type RemoteErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an AppError. 4xx responses are business rejections and keep the
// remote code and message; anything at or above 500 is a network failure.
//
// The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, op string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.NetworkFailure(op, fmt.Errorf("read error body (status %d): %w", resp.StatusCode, err))
	}

	if resp.StatusCode >= 500 {
		return apperrors.NetworkFailure(op, &ServerError{StatusCode: resp.StatusCode, Body: string(bodyBytes)})
	}

	code, message := "", http.StatusText(resp.StatusCode)
	var remote RemoteErrorResponse
	if json.Unmarshal(bodyBytes, &remote) == nil && remote.Error != nil {
		code = remote.Error.Code
		if remote.Error.Message != "" {
			message = remote.Error.Message
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(fmt.Sprintf("%s: %s", op, message))
	case http.StatusNotFound:
		if code == "" {
			return apperrors.NotFound(op, message)
		}
	}
	return apperrors.ServerRejection(code, message, resp.StatusCode)
}

// Classify converts a transport-level error returned by Client or
// CircuitBreakerClient into the failure taxonomy. Errors that are already
// AppErrors pass through. A canceled context is returned unchanged so callers
// can tell "user went away" from "backend unreachable".
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.NetworkFailure(op, err)
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
