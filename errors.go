package mindsync

import (
	interrors "github.com/mindsentry/mindsync/internal/errors"
)

// Re-export the error taxonomy so callers compare against a single set of
// symbols without importing internal packages.
type (
	// StorageError wraps a local persistence failure.
	StorageError = interrors.StorageError
	// NetworkError is a transport failure, including client-side timeouts.
	NetworkError = interrors.NetworkError
	// APIError is a non-401 non-2xx response with the server's detail.
	APIError = interrors.APIError
	// AuthError signals an expired session; re-login is required.
	AuthError = interrors.AuthError
)

// IsRecoverable reports whether a failed submission should stay queued for
// retry rather than be dead-lettered.
func IsRecoverable(err error) bool { return interrors.IsRecoverable(err) }

// IsAuth reports whether err is a session-expiry error.
func IsAuth(err error) bool { return interrors.IsAuth(err) }
