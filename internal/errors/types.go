// Package errors defines the error taxonomy shared by the store, the API
// client and the sync engine, together with the recoverability
// classification that drives retry and dead-letter decisions.
package errors

import "fmt"

// Category determines how the sync engine treats a failed submission.
type Category int

const (
	// Recoverable errors leave the record queued for a later attempt.
	// Examples: 5xx responses, timeouts, connection failures.
	Recoverable Category = iota

	// Irrecoverable errors will not succeed on retry and send the record
	// to the dead-letter collection. Examples: 400 Bad Request, 403.
	Irrecoverable
)

func (c Category) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// StorageError wraps a local persistence failure. Never fatal: callers treat
// the affected records as "not yet synced, retry later."
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// NetworkError is a transport-level failure, including client-side timeouts.
// Always retryable.
type NetworkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}
func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a non-401 non-2xx response. Detail carries the server-provided
// message when the body was parseable.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Detail)
}

// AuthError signals an invalid session (HTTP 401). The API client has
// already triggered the sign-out side effect by the time callers see it.
type AuthError struct {
	Op string
}

func (e *AuthError) Error() string { return fmt.Sprintf("%s: session expired", e.Op) }
