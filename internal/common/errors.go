// Package common defines shared constants and sentinel errors used across
// the vault server and its CLI. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Cryptographic errors. ErrDecryption is deliberately uninformative:
	// wrong key, tampered ciphertext and malformed envelopes all map to it.
	ErrDecryption         = errors.New("decryption failed")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrWeakSecret         = errors.New("secret does not meet strength policy")

	// Unlock request state errors.
	ErrAlreadyOpen         = errors.New("unlock request already open")
	ErrRequestClosed       = errors.New("unlock request closed")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrShareRejected       = errors.New("share rejected")
	ErrContactsLocked      = errors.New("trusted contacts locked while an unlock request is open")
	ErrContactLimit        = errors.New("trusted contact limit reached")
	ErrContactsNotReady    = errors.New("not enough verified trusted contacts")
	ErrVaultNotInitialized = errors.New("vault not initialized")
	ErrVaultInitialized    = errors.New("vault already initialized")

	// Session errors.
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionScope    = errors.New("session scope does not permit operation")
)
