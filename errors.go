package console

import "errors"

// Sentinel errors returned by the session and dashboard services. They are
// wrapped with additional context, so test with errors.Is.
var (
	// ErrSystemRole is returned when a mutation targets a system role.
	// The rejection happens locally, before any network call.
	ErrSystemRole = errors.New("console: system roles cannot be modified")

	// ErrRefreshFailed is observed by every waiter of a failed token
	// renewal. The session has already been cleared when it surfaces.
	ErrRefreshFailed = errors.New("console: token refresh failed")

	// ErrSessionClosed is returned when a renewal outcome was discarded
	// because the session was replaced or destroyed while the call was in
	// flight.
	ErrSessionClosed = errors.New("console: session closed")
)
