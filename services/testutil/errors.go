package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeValidation         = "VALIDATION_ERROR"
	ErrorCodeUnauthorized       = "UNAUTHORIZED"
	ErrorCodeEmailTaken         = "EMAIL_TAKEN"
	ErrorCodeUsernameTaken      = "USERNAME_TAKEN"
	ErrorCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrorCodeAccountInactive    = "ACCOUNT_INACTIVE"
	ErrorCodeTokenExpired       = "TOKEN_EXPIRED"
	ErrorCodeTokenInvalid       = "TOKEN_INVALID"
	ErrorCodeInvalidTokenType   = "INVALID_TOKEN_TYPE"
	ErrorCodeTokenRevoked       = "TOKEN_REVOKED"
	ErrorCodeRateLimited        = "RATE_LIMITED"
	ErrorCodeInternalError      = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if env.Success {
		t.Fatalf("expected success=false, body %s", resp.Body.String())
	}
	return env.Error
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if want := StatusForErrorCode(expectedCode); resp.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.Code, resp.Body.String())
	}
	if got := decodeError(t, resp).Code; got != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, got)
	}
}

func AssertErrorMessage(t *testing.T, resp *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	if got := decodeError(t, resp).Message; got != expectedMessage {
		t.Fatalf("expected error message %q, got %q", expectedMessage, got)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.Code, resp.Body.String())
	}
}

func StatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeValidation:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized, ErrorCodeInvalidCredentials, ErrorCodeTokenExpired,
		ErrorCodeTokenInvalid, ErrorCodeInvalidTokenType, ErrorCodeTokenRevoked:
		return http.StatusUnauthorized
	case ErrorCodeAccountInactive:
		return http.StatusForbidden
	case ErrorCodeEmailTaken, ErrorCodeUsernameTaken:
		return http.StatusConflict
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
