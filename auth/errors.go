package auth

import "errors"

// Messages are shown to the user verbatim.
var (
	ErrMissingFields      = errors.New("Please fill in all fields")
	ErrPasswordMismatch   = errors.New("Passwords do not match")
	ErrWeakPassword       = errors.New("Password must be at least 8 characters long and contain both letters and numbers")
	ErrEmailTaken         = errors.New("Email already exists")
	ErrUserNotFound       = errors.New("No user found with this email")
	ErrInvalidCredentials = errors.New("Invalid credentials")

	// ErrUnauthenticated is returned for a missing, unknown or expired session.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrSessionNotFound is the store-level miss behind ErrUnauthenticated.
	ErrSessionNotFound = errors.New("session not found")
)

// IsInvalidInput reports a signup form the user must correct.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrPasswordMismatch) ||
		errors.Is(err, ErrWeakPassword)
}

// IsLoginFailure reports a rejected email/password pair.
func IsLoginFailure(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidCredentials)
}
