package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means the identity token was missing, invalid or expired.
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound means the referenced message or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransport means a live connection closed unexpectedly.
	ErrTransport = errors.New("transport closed")
	// ErrSendFailure means the durable persist of a message failed.
	ErrSendFailure = errors.New("send failed")
	// ErrInvalidPayload means a message payload failed validation.
	ErrInvalidPayload = errors.New("invalid payload")

	ErrUserExists         = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
)

// WrapInvalidPayload tags a validation error so callers can match ErrInvalidPayload.
func WrapInvalidPayload(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
}
