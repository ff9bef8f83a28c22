package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserIDKey      = "user_id"
	ContextUserEmailKey   = "user_email"
	ContextUserRoleKey    = "user_role"
	ContextAccessTokenKey = "access_token"
)

// AccessVerifier is the part of Codec the middleware needs.
type AccessVerifier interface {
	VerifyAccess(token string) (*Claims, error)
}

func RequireAuth(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			abortUnauthorized(c, "UNAUTHORIZED", "missing token")
			return
		}

		claims, err := verifier.VerifyAccess(token)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				abortUnauthorized(c, "TOKEN_EXPIRED", "token expired")
			case errors.Is(err, ErrInvalidTokenType):
				abortUnauthorized(c, "INVALID_TOKEN_TYPE", "invalid token type")
			default:
				abortUnauthorized(c, "TOKEN_INVALID", "invalid token")
			}
			return
		}

		setIdentity(c, claims, token)
		c.Next()
	}
}

// OptionalAuth populates the identity when a valid access token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(verifier AccessVerifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := ExtractBearer(c.GetHeader("Authorization")); token != "" {
			claims, err := verifier.VerifyAccess(token)
			if err == nil {
				setIdentity(c, claims, token)
			} else if logger != nil {
				logger.Debug("optional auth ignored token", "error", err)
			}
		}
		c.Next()
	}
}

func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func setIdentity(c *gin.Context, claims *Claims, token string) {
	c.Set(ContextUserIDKey, claims.UserID)
	c.Set(ContextUserEmailKey, claims.Email)
	c.Set(ContextUserRoleKey, claims.Role)
	c.Set(ContextAccessTokenKey, token)
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	})
}
