package apperr

import "errors"

// Error taxonomy for the verification service. Store and cipher internals
// are always translated into one of these before reaching a handler; the
// HTTP layer maps them to non-specific messages.
var (
	// ErrInvalidInput covers malformed ids, roll numbers and passwords,
	// rejected before any store access.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthentication is reported identically whether the verifier id
	// exists or not, to avoid user enumeration.
	ErrAuthentication = errors.New("invalid credentials")

	// ErrLockout is distinct from ErrAuthentication so the caller can show
	// a temporary-lock message, but both are logged as security events.
	ErrLockout = errors.New("account temporarily locked")

	// ErrEncryption indicates tamper or corruption detected on decrypt.
	// Fatal for that template; never silently returns corrupted plaintext.
	ErrEncryption = errors.New("template decryption failed")

	// ErrStoreUnavailable is a transport/connection failure. Fatal for the
	// whole operation, not retried internally.
	ErrStoreUnavailable = errors.New("data store unavailable")

	// ErrDevice is a matcher unavailable/timeout condition, downgraded by
	// the session to a FAILED step rather than aborting.
	ErrDevice = errors.New("biometric device unavailable")

	ErrNotFound         = errors.New("record not found")
	ErrPermissionDenied = errors.New("permission denied")
)
