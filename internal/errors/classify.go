package errors

import "errors"

// CategoryOf classifies an error for retry purposes:
//   - 4xx client errors (except 408 and 429) are irrecoverable
//   - 5xx server errors are recoverable
//   - network-level errors and timeouts are recoverable
//   - auth errors are irrecoverable (re-login is required first)
//   - storage errors are recoverable (the record is simply still queued)
func CategoryOf(err error) Category {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return categoryForStatus(apiErr.StatusCode)
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return Irrecoverable
	}
	// NetworkError, StorageError, anything unrecognized: be conservative
	// and retry.
	return Recoverable
}

func categoryForStatus(statusCode int) Category {
	switch {
	case statusCode >= 400 && statusCode < 500:
		switch statusCode {
		case 408, 429: // timeout / throttling clear up on their own
			return Recoverable
		default:
			return Irrecoverable
		}
	default:
		return Recoverable
	}
}

// IsRecoverable reports whether the record should stay queued for retry.
func IsRecoverable(err error) bool { return CategoryOf(err) == Recoverable }

// IsAuth reports whether err is a session-expiry error, which aborts the
// remainder of a sync run.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
