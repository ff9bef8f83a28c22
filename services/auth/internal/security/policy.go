package security

import (
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// ValidatePasswordStrength returns one message per unmet rule; an empty slice
// means the password is acceptable.
func ValidatePasswordStrength(password string) []string {
	var problems []string

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		problems = append(problems, "password must be at least 8 characters long")
	}
	if n > MaxPasswordLength {
		problems = append(problems, "password must be at most 128 characters long")
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !lower {
		problems = append(problems, "password must contain at least one lowercase letter")
	}
	if !upper {
		problems = append(problems, "password must contain at least one uppercase letter")
	}
	if !digit {
		problems = append(problems, "password must contain at least one number")
	}
	if !special {
		problems = append(problems, "password must contain at least one special character")
	}
	return problems
}
