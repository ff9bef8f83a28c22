package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/aksharshruti/platform/libs/httpmiddleware"
	"github.com/aksharshruti/platform/services/auth/internal/session"
	"github.com/gin-gonic/gin"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []fieldDetail `json:"details,omitempty"`
}

type fieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, envelope{Error: &errorBody{Code: code, Message: message}})
}

func invalidPayload(c *gin.Context) {
	respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid payload")
}

// sessionErrors maps expected session outcomes to status and code. Anything
// not listed is an internal error.
var sessionErrors = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{session.ErrEmailTaken, http.StatusConflict, "EMAIL_TAKEN", "email already registered"},
	{session.ErrUsernameTaken, http.StatusConflict, "USERNAME_TAKEN", "username already taken"},
	{session.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password"},
	{session.ErrAccountInactive, http.StatusForbidden, "ACCOUNT_INACTIVE", "account is not active"},
	{session.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "token expired"},
	{session.ErrInvalidTokenType, http.StatusUnauthorized, "INVALID_TOKEN_TYPE", "invalid token type"},
	{session.ErrTokenRevoked, http.StatusUnauthorized, "TOKEN_REVOKED", "token revoked"},
	{session.ErrTokenInvalid, http.StatusUnauthorized, "TOKEN_INVALID", "invalid token"},
}

func writeSessionError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *session.ValidationError
	if errors.As(err, &verr) {
		body := &errorBody{Code: "VALIDATION_ERROR", Message: "Invalid input data"}
		fields := make([]string, 0, len(verr.Fields))
		for f := range verr.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			for _, msg := range verr.Fields[f] {
				body.Details = append(body.Details, fieldDetail{Field: f, Message: msg})
			}
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, envelope{Error: body})
		return
	}

	for _, m := range sessionErrors {
		if errors.Is(err, m.err) {
			respondError(c, m.status, m.code, m.message)
			return
		}
	}

	logger.Error("request failed",
		slog.String("path", c.FullPath()),
		slog.String("request_id", httpmiddleware.GetRequestID(c)),
		slog.String("error", err.Error()),
	)
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
}
