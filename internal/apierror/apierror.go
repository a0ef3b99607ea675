/*
Copyright 2024 QZD Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// ErrorCode is the machine-readable error identifier returned to clients.
type ErrorCode string

const (
	ErrBadRequest                ErrorCode = "BAD_REQUEST"
	ErrUnauthorized              ErrorCode = "UNAUTHORIZED"
	ErrReplayDetected            ErrorCode = "REPLAY_DETECTED"
	ErrConflict                  ErrorCode = "CONFLICT"
	ErrInvalidInput              ErrorCode = "INVALID_INPUT"
	ErrAccountFrozen             ErrorCode = "ACCOUNT_FROZEN"
	ErrLimitExceeded             ErrorCode = "LIMIT_EXCEEDED"
	ErrNotFound                  ErrorCode = "NOT_FOUND"
	ErrInvalidIssuanceSignatures ErrorCode = "INVALID_ISSUANCE_SIGNATURES"
	ErrPayloadTooLarge           ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrInternalServer            ErrorCode = "INTERNAL_SERVER_ERROR"
)

// APIError is a client-visible error. Cause is kept for logs and errors.Is but never serialized.
type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Cause   error       `json:"-"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e APIError) Unwrap() error {
	return e.Cause
}

// NewAPIError creates an APIError without a cause.
//
// Parameters:
// - code ErrorCode: The error code.
// - message string: A human-readable message.
// - details interface{}: Optional structured details returned to the client.
//
// Returns:
// - APIError: The constructed error.
func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.Debug(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap builds an APIError that keeps err reachable through errors.Unwrap.
func Wrap(code ErrorCode, message string, err error) APIError {
	return APIError{Code: code, Message: message, Cause: err}
}

// CodeOf returns the code of the first APIError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return "", false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsClientError reports whether err is a request-time failure that retrying cannot fix.
func IsClientError(err error) bool {
	c, ok := CodeOf(err)
	if !ok {
		return false
	}
	return MapCodeToHTTPStatus(c) < http.StatusInternalServerError
}

// MapCodeToHTTPStatus returns the HTTP status for code. Unknown codes map to 500.
func MapCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrReplayDetected, ErrConflict:
		return http.StatusConflict
	case ErrInvalidInput, ErrInvalidIssuanceSignatures:
		return http.StatusUnprocessableEntity
	case ErrAccountFrozen:
		return http.StatusLocked
	case ErrLimitExceeded:
		return http.StatusTooManyRequests
	case ErrNotFound:
		return http.StatusNotFound
	case ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// MapErrorToHTTPStatus returns the HTTP status for err. Errors without a code map to 500.
func MapErrorToHTTPStatus(err error) int {
	if code, ok := CodeOf(err); ok {
		return MapCodeToHTTPStatus(code)
	}
	return http.StatusInternalServerError
}
