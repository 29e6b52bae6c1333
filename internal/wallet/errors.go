package wallet

import "errors"

var (
	// ErrInvalidKeyFormat is returned when imported secret material cannot be parsed.
	ErrInvalidKeyFormat = errors.New("invalid key format")

	// ErrWalletExists is returned when the public address is already in custody.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrNotFound is returned for unknown wallet IDs and addresses.
	ErrNotFound = errors.New("wallet not found")

	// ErrVaultUnavailable is returned when a stored secret cannot be decrypted
	// with the configured master passphrase. Not retryable.
	ErrVaultUnavailable = errors.New("vault unavailable")

	// ErrKeyMismatch is returned when a decrypted secret does not derive the
	// stored public address.
	ErrKeyMismatch = errors.New("stored key does not match wallet address")
)
