// Package validate implements the credential validation rules for
// usernames, passwords and emails. The checks run in a fixed order so the
// reported message is deterministic for any given input.
package validate

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spadeshq/accounts/internal/common"
	"github.com/spadeshq/accounts/internal/security"
)

// PasswordSpecials is the set of special characters a password may (and
// must, at least once) contain.
const PasswordSpecials = "!@#$%^&*()-_=+[{]}\\|;:'\",<."

func invalid(msg string) error {
	return &common.ValidationError{Msg: msg}
}

// Username checks length (4..32) and charset (letters, digits,
// underscore) and returns the value unchanged.
func Username(v string) (string, error) {
	if utf8.RuneCountInString(v) < 4 {
		return "", invalid("Username must be at least 4 characters long")
	}
	if utf8.RuneCountInString(v) > 32 {
		return "", invalid("Username must be at most 32 characters long")
	}
	for _, c := range v {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
			return "", invalid("Username must contain only letters, numbers and underscores")
		}
	}
	return v, nil
}

// Password checks length (8..32), required character classes and the
// allowed charset, in that order, and returns the SHA-256 hex digest of
// the raw password. The raw value is never stored or logged.
func Password(v string) (string, error) {
	if utf8.RuneCountInString(v) < 8 {
		return "", invalid("Password must be at least 8 characters long")
	}
	if utf8.RuneCountInString(v) > 32 {
		return "", invalid("Password must be at most 32 characters long")
	}

	var digit, upper, lower, special bool
	allAllowed := true
	for _, c := range v {
		switch {
		case unicode.IsDigit(c):
			digit = true
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		}
		if strings.ContainsRune(PasswordSpecials, c) {
			special = true
		} else if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			allAllowed = false
		}
	}

	if !digit {
		return "", invalid("Password must contain at least 1 digit")
	}
	if !upper {
		return "", invalid("Password must contain at least 1 uppercase letter")
	}
	if !lower {
		return "", invalid("Password must contain at least 1 lowercase letter")
	}
	if !special {
		return "", invalid("Password must contain at least 1 special character")
	}
	if !allAllowed {
		return "", invalid("Special characters allowed are: " + PasswordSpecials)
	}

	return security.HashValue(v), nil
}

// Email checks the address shape (exactly one @, non-empty local part, a
// domain with an inner period) and returns the normalized form with the
// domain lower-cased. Deliverability is deliberately not checked.
func Email(v string) (string, error) {
	at := strings.Count(v, "@")
	if at != 1 {
		return "", invalid("Email must contain exactly one @ character")
	}
	local, domain, _ := strings.Cut(v, "@")
	if local == "" {
		return "", invalid("Email must have a part before the @ character")
	}
	if domain == "" {
		return "", invalid("Email must have a domain after the @ character")
	}
	if !strings.Contains(domain, ".") {
		return "", invalid("Email domain must contain a period")
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", invalid("Email domain must not start or end with a period")
	}
	return local + "@" + strings.ToLower(domain), nil
}
