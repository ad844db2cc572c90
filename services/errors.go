package services

import (
	"errors"
	"fmt"
)

var (
	// ErrPushNotConfigured is returned for every device when VAPID keys are missing.
	ErrPushNotConfigured = errors.New("push delivery is not configured")
	// ErrEmailNotConfigured is returned when no email API key is set.
	ErrEmailNotConfigured = errors.New("email delivery is not configured")
	// ErrRecipientNotFound means no profile or user matches the requested recipient.
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrInvalidChannel    = errors.New("invalid channel")
	ErrInvalidEvent      = errors.New("invalid notification event")
	ErrNotFound          = errors.New("not found")
)

// PushFailureKind classifies a failed push delivery.
type PushFailureKind string

const (
	// PushTransient may succeed if tried again (network error, 429, 5xx).
	PushTransient PushFailureKind = "transient"
	// PushPermanent means the endpoint is gone for good (404, 410).
	PushPermanent PushFailureKind = "permanent"
	// PushRejected is any other 4xx: the request is wrong, retrying won't help
	// but the subscription itself may still be valid.
	PushRejected PushFailureKind = "rejected"
)

// PushError is a classified push delivery failure.
type PushError struct {
	StatusCode int
	Kind       PushFailureKind
	Err        error
}

func (e *PushError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("push %s failure: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("push %s failure: status %d", e.Kind, e.StatusCode)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// IsPermanentPushFailure reports whether err says the push endpoint no longer exists.
func IsPermanentPushFailure(err error) bool {
	var pushErr *PushError
	return errors.As(err, &pushErr) && pushErr.Kind == PushPermanent
}

func isTransientPushFailure(err error) bool {
	var pushErr *PushError
	return errors.As(err, &pushErr) && pushErr.Kind == PushTransient
}
