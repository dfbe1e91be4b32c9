package fusionsolar

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when the credentials are rejected or the
	// session expired and cannot be used anymore.
	ErrAuthentication = errors.New("fusionsolar: authentication failed")
	ErrNotLoggedIn    = errors.New("fusionsolar: not logged in")
	ErrInvalidPayload = errors.New("fusionsolar: invalid payload")
)

type APIError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("fusionsolar: %s returned %d: %s", e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fusionsolar: %s returned %d", e.Path, e.StatusCode)
}
