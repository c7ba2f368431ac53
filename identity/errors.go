package identity

import (
	"errors"
	"strings"
)

var (
	// ErrRolesNotEnabled is returned by role operations when role support was not added
	ErrRolesNotEnabled = errors.New("role support is not enabled")

	// ErrInvalidToken is returned when a user token is unknown, expired or does not match
	ErrInvalidToken = errors.New("invalid token")

	// ErrPasswordMismatch is returned when the current password does not verify
	ErrPasswordMismatch = errors.New("incorrect password")
)

// IdentityError describes one validation failure
type IdentityError struct {
	Code        string
	Description string
}

// ValidationError collects every failure found while validating a user, role or password
type ValidationError struct {
	Errors []IdentityError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ie := range e.Errors {
		msgs = append(msgs, ie.Description)
	}
	return "identity validation failed: " + strings.Join(msgs, " ")
}

// HasCode reports whether a failure with the given code is present
func (e *ValidationError) HasCode(code string) bool {
	for _, ie := range e.Errors {
		if ie.Code == code {
			return true
		}
	}
	return false
}

// Descriptions returns the human readable messages, in order
func (e *ValidationError) Descriptions() []string {
	out := make([]string, 0, len(e.Errors))
	for _, ie := range e.Errors {
		out = append(out, ie.Description)
	}
	return out
}

// Validation error codes
const (
	CodeInvalidUserName             = "InvalidUserName"
	CodeInvalidEmail                = "InvalidEmail"
	CodeDuplicateUserName           = "DuplicateUserName"
	CodeDuplicateEmail              = "DuplicateEmail"
	CodeInvalidRoleName             = "InvalidRoleName"
	CodeDuplicateRoleName           = "DuplicateRoleName"
	CodePasswordTooShort            = "PasswordTooShort"
	CodePasswordRequiresUniqueChars = "PasswordRequiresUniqueChars"
	CodePasswordRequiresNonAlphanum = "PasswordRequiresNonAlphanumeric"
	CodePasswordRequiresDigit       = "PasswordRequiresDigit"
	CodePasswordRequiresLower       = "PasswordRequiresLower"
	CodePasswordRequiresUpper       = "PasswordRequiresUpper"
)

func validationError(errs []IdentityError) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}
