package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches any *APIError with status 401 via errors.Is.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotAuthenticated is returned when there are no stored credentials.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrTokenInvalidated is returned when a refresh failed for good and the
	// stored credentials were cleared.
	ErrTokenInvalidated = errors.New("token invalidated")

	// ErrSessionReset is the cancellation cause of requests aborted by Logout or Reset.
	ErrSessionReset = errors.New("session reset")

	// ErrForeignURL is returned by Service.URL for paths that name another host.
	ErrForeignURL = errors.New("path must be relative to the server url")

	errNotReplayable = errors.New("request body cannot be replayed")
)

// APIErrorCode is the server's machine-readable error code.
type APIErrorCode string

const (
	CodeInvalidValue            APIErrorCode = "F0101"
	CodeInvalidLength           APIErrorCode = "F0102"
	CodeInvalidAuthHeader       APIErrorCode = "F0103"
	CodeInvalidUserAgentHeader  APIErrorCode = "F0104"
	CodeValueMustDiffer         APIErrorCode = "F0105"
	CodeValueOverLimit          APIErrorCode = "F0106"
	CodeInvalidCount            APIErrorCode = "F0107"
	CodeInvalidAccessToken      APIErrorCode = "F0110"
	CodeInvalidRefreshToken     APIErrorCode = "F0111"
	CodeInvalidUsernamePassword APIErrorCode = "F0112"
	CodeSuspendedUser           APIErrorCode = "F0113"
	CodeSuspendedDevice         APIErrorCode = "F0114"
	CodeAccountLocked           APIErrorCode = "F0115"
	CodeUnauthorised            APIErrorCode = "F0200"
	CodeNotAllowed              APIErrorCode = "F0201"
	CodeNotImplemented          APIErrorCode = "F0300"
	CodeNotFound                APIErrorCode = "F0400"
	CodeAlreadyExists           APIErrorCode = "F0501"
	CodeInternalException       APIErrorCode = "F9000"
)

// endsSession reports whether a 401 with this code means refreshing cannot help.
func (c APIErrorCode) endsSession() bool {
	switch c {
	case CodeInvalidRefreshToken, CodeSuspendedUser, CodeSuspendedDevice, CodeAccountLocked:
		return true
	}
	return false
}

// APIErrorType is a coarse classification derived from status and code.
type APIErrorType string

const (
	TypeBadRequest          APIErrorType = "bad_request"
	TypeUnauthorised        APIErrorType = "unauthorised"
	TypeInvalidAccessToken  APIErrorType = "invalid_access_token"
	TypeInvalidRefreshToken APIErrorType = "invalid_refresh_token"
	TypeInvalidCredentials  APIErrorType = "invalid_username_password"
	TypeSuspendedUser       APIErrorType = "suspended_user"
	TypeSuspendedDevice     APIErrorType = "suspended_device"
	TypeAccountLocked       APIErrorType = "account_locked"
	TypeForbidden           APIErrorType = "forbidden"
	TypeNotFound            APIErrorType = "not_found"
	TypeAlreadyExists       APIErrorType = "already_exists"
	TypeDeprecated          APIErrorType = "deprecated"
	TypeRateLimit           APIErrorType = "rate_limit"
	TypeServerError         APIErrorType = "server_error"
	TypeNotImplemented      APIErrorType = "not_implemented"
	TypeMaintenance         APIErrorType = "maintenance"
	TypeUnknown             APIErrorType = "unknown"
)

// APIError is a non-2xx reply from the resource server.
type APIError struct {
	StatusCode int
	Code       APIErrorCode
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Type classifies the error.
func (e *APIError) Type() APIErrorType {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return TypeBadRequest
	case http.StatusUnauthorized:
		switch e.Code {
		case CodeInvalidAccessToken:
			return TypeInvalidAccessToken
		case CodeInvalidRefreshToken:
			return TypeInvalidRefreshToken
		case CodeInvalidUsernamePassword:
			return TypeInvalidCredentials
		case CodeSuspendedUser:
			return TypeSuspendedUser
		case CodeSuspendedDevice:
			return TypeSuspendedDevice
		case CodeAccountLocked:
			return TypeAccountLocked
		}
		return TypeUnauthorised
	case http.StatusForbidden:
		return TypeForbidden
	case http.StatusNotFound:
		return TypeNotFound
	case http.StatusConflict:
		return TypeAlreadyExists
	case http.StatusGone:
		return TypeDeprecated
	case http.StatusTooManyRequests:
		return TypeRateLimit
	case http.StatusNotImplemented:
		return TypeNotImplemented
	case http.StatusServiceUnavailable:
		return TypeMaintenance
	}
	if e.StatusCode >= 500 {
		return TypeServerError
	}
	return TypeUnknown
}

type apiErrorBody struct {
	Error struct {
		Code    APIErrorCode `json:"error_code"`
		Message string       `json:"error_message"`
	} `json:"error"`
}

// ParseAPIError decodes the server's error envelope. Unparseable bodies keep
// only the status and a short preview of the body.
func ParseAPIError(status int, body []byte) *APIError {
	var env apiErrorBody
	if err := json.Unmarshal(body, &env); err == nil && (env.Error.Code != "" || env.Error.Message != "") {
		return &APIError{StatusCode: status, Code: env.Error.Code, Message: env.Error.Message}
	}

	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

// NetworkError is a transport-level failure: DNS, TLS, timeouts, resets.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// unauthorizedError is what a caller sees when its request could not be
// authorized before sending. It never says why.
func unauthorizedError() *APIError {
	return &APIError{StatusCode: http.StatusUnauthorized, Code: CodeInvalidAccessToken, Message: "Invalid access token"}
}
