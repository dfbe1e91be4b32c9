package service

import (
	"errors"
	"fmt"
)

var (
	ErrAuthRequired = errors.New("authentication required")
	ErrUpdateFailed = errors.New("update failed")
	ErrPollInFlight = errors.New("poll already in flight")
)

// AuthRequiredError halts polling until new credentials are provided.
type AuthRequiredError struct {
	Err error
}

func (e *AuthRequiredError) Error() string {
	if e.Err == nil {
		return ErrAuthRequired.Error()
	}
	return fmt.Sprintf("%s: %v", ErrAuthRequired, e.Err)
}

func (e *AuthRequiredError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAuthRequired}
	}
	return []error{ErrAuthRequired, e.Err}
}

// UpdateFailedError is a transient failure of one poll cycle.
type UpdateFailedError struct {
	Err                 error
	ConsecutiveFailures int
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("error communicating with API (failure %d): %v", e.ConsecutiveFailures, e.Err)
}

func (e *UpdateFailedError) Unwrap() []error {
	return []error{ErrUpdateFailed, e.Err}
}
