package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrAuth means no backend credential is available; the notification
	// feature is suppressed rather than failed.
	ErrAuth = errors.New("no credential available")
	// ErrFetch means at least one record source could not be fetched.
	ErrFetch = errors.New("record fetch failed")
	// ErrInvalidID means a notification id is not of the form <kind>-<primaryKey>.
	ErrInvalidID = errors.New("invalid notification id")
	// ErrDeleteFailed means the backend rejected a source-record delete.
	ErrDeleteFailed = errors.New("source delete failed")
	// ErrSessionEnded means the user's session ended while a pass was in flight.
	ErrSessionEnded = errors.New("session ended")
)
