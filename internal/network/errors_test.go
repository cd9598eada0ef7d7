package network

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAPIError(t *testing.T) {
	e := ParseAPIError(http.StatusUnauthorized, []byte(`{"error":{"error_code":"F0111","error_message":"Invalid refresh token"}}`))
	assert.Equal(t, CodeInvalidRefreshToken, e.Code)
	assert.Equal(t, "Invalid refresh token", e.Message)
	assert.Equal(t, TypeInvalidRefreshToken, e.Type())
	assert.True(t, e.Code.endsSession())
	assert.ErrorIs(t, e, ErrUnauthorized)

	e = ParseAPIError(http.StatusBadGateway, []byte("<html>upstream down</html>"))
	assert.Empty(t, e.Code)
	assert.Equal(t, "<html>upstream down</html>", e.Message)
	assert.Equal(t, TypeServerError, e.Type())
	assert.False(t, errors.Is(e, ErrUnauthorized))

	e = ParseAPIError(http.StatusNotFound, nil)
	assert.Equal(t, "Not Found", e.Message)
	assert.Equal(t, TypeNotFound, e.Type())
}

func TestAPIError_Type(t *testing.T) {
	tests := []struct {
		status int
		code   APIErrorCode
		want   APIErrorType
	}{
		{http.StatusBadRequest, CodeInvalidValue, TypeBadRequest},
		{http.StatusUnauthorized, CodeInvalidAccessToken, TypeInvalidAccessToken},
		{http.StatusUnauthorized, CodeInvalidUsernamePassword, TypeInvalidCredentials},
		{http.StatusUnauthorized, CodeSuspendedDevice, TypeSuspendedDevice},
		{http.StatusUnauthorized, CodeAccountLocked, TypeAccountLocked},
		{http.StatusUnauthorized, "", TypeUnauthorised},
		{http.StatusForbidden, CodeNotAllowed, TypeForbidden},
		{http.StatusConflict, CodeAlreadyExists, TypeAlreadyExists},
		{http.StatusGone, "", TypeDeprecated},
		{http.StatusTooManyRequests, "", TypeRateLimit},
		{http.StatusNotImplemented, CodeNotImplemented, TypeNotImplemented},
		{http.StatusServiceUnavailable, "", TypeMaintenance},
		{http.StatusInternalServerError, CodeInternalException, TypeServerError},
		{http.StatusTeapot, "", TypeUnknown},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d_%s", tc.status, tc.code), func(t *testing.T) {
			e := &APIError{StatusCode: tc.status, Code: tc.code}
			assert.Equal(t, tc.want, e.Type())
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("wrapped: %w", &NetworkError{Op: "GET /x", Err: cause})

	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "GET /x")
}
