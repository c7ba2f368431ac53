package storage

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Storage error constants
var (
	// ErrMissingConnectionString is returned when the session factory has no connection string
	ErrMissingConnectionString = errors.New("connection string is missing")

	// ErrUnsupportedProvider is returned for a database provider with no registered driver
	ErrUnsupportedProvider = errors.New("unsupported database provider")

	// ErrDatabaseClosed is returned when a session is requested from a closed or unopened factory
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrRoleNotFound is returned when a role is not found
	ErrRoleNotFound = errors.New("role not found")

	// ErrTokenNotFound is returned when a user token does not exist for the requested purpose
	ErrTokenNotFound = errors.New("user token not found")

	// ErrDuplicateUserName is returned when the normalized user name is already taken
	ErrDuplicateUserName = errors.New("user name is already taken")

	// ErrDuplicateEmail is returned when the normalized email is already taken
	ErrDuplicateEmail = errors.New("email is already taken")

	// ErrDuplicateRole is returned when the normalized role name is already taken
	ErrDuplicateRole = errors.New("role already exists")

	// ErrUserAlreadyInRole is returned when adding a role the user already holds
	ErrUserAlreadyInRole = errors.New("user is already in role")

	// ErrUserNotInRole is returned when removing a role the user does not hold
	ErrUserNotInRole = errors.New("user is not in role")

	// ErrConcurrencyFailure is returned when a row changed since it was read
	ErrConcurrencyFailure = errors.New("optimistic concurrency failure, object has been modified")
)

// isUniqueViolation reports whether err is a unique constraint failure from any supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
