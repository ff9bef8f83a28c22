package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aksharshruti/platform/libs/auth"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is not active")
	ErrTokenRevoked       = errors.New("refresh token revoked")

	ErrTokenExpired     = auth.ErrTokenExpired
	ErrTokenInvalid     = auth.ErrTokenInvalid
	ErrInvalidTokenType = auth.ErrInvalidTokenType

	// ErrSessionOperationFailed wraps unexpected store or codec failures. The
	// cause is logged; callers should not expose it.
	ErrSessionOperationFailed = errors.New("session operation failed")
)

// ValidationError lists field problems found before any state was touched.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(e.Fields[field], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, problem string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], problem)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func failed(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSessionOperationFailed, op, err)
}
