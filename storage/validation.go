package storage

import (
	"regexp"
	"strings"
)

const (
	MinNameLength     = 2
	MaxNameLength     = 20
	MinPasswordLength = 4
)

var (
	// validNameRE matches letters, digits, spaces, hyphens and underscores.
	validNameRE = regexp.MustCompile(`^[A-Za-z0-9 _-]+$`)
	hasLetterRE = regexp.MustCompile(`[A-Za-z]`)
)

// ValidationError carries the message shown to the player.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string {
	return e.Msg
}

// ValidateName checks a new account name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) < MinNameLength || len(name) > MaxNameLength {
		return ValidationError{"Username must be 2-20 characters."}
	}
	if !validNameRE.MatchString(name) || !hasLetterRE.MatchString(name) {
		return ValidationError{"Username may only contain letters, numbers, spaces, hyphens and underscores."}
	}
	return nil
}

// ValidatePassword checks a new password.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ValidationError{"Password must be at least 4 characters."}
	}
	if strings.Contains(password, ":") {
		return ValidationError{"Password may not contain ':'."}
	}
	return nil
}
