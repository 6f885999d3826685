package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")

	// ErrEventSourceNotFound is returned when a trigger names a source that
	// does not exist or is inactive.
	ErrEventSourceNotFound = errors.New("event source not found or inactive")
	// ErrUnknownChannel is a configuration error: no driver is registered
	// for the channel. Never retried.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrTemplateMissing is a configuration error: the rule behind a
	// delivery no longer resolves to a template.
	ErrTemplateMissing = errors.New("template missing")
	// ErrNoRecipient is returned by drivers when the record carries an empty
	// destination.
	ErrNoRecipient = errors.New("no recipient")
	// ErrStaleTransition is returned when a status transition's precondition
	// no longer holds (another worker moved the record first).
	ErrStaleTransition = errors.New("stale status transition")
)

// IsConfigError reports whether err is a configuration problem that no
// amount of retrying will fix.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownChannel) || errors.Is(err, ErrTemplateMissing)
}
