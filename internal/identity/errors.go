package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSignedIn is returned when no session is stored locally
	ErrNotSignedIn = errors.New("no authenticated user")

	// ErrInvalidCredentials covers unknown emails and wrong passwords
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserDisabled is returned for accounts disabled by the provider
	ErrUserDisabled = errors.New("user account is disabled")
)

// ProviderError is an identity provider failure that has no sentinel
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider error (status %d): %s", e.Status, e.Message)
}

// mapProviderError turns the provider's error code into a sentinel where one exists
func mapProviderError(status int, message string) error {
	switch message {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL":
		return ErrInvalidCredentials
	case "USER_DISABLED":
		return ErrUserDisabled
	}
	return &ProviderError{Status: status, Message: message}
}
