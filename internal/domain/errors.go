package domain

import "errors"

// Failure taxonomy. Callers match with errors.Is; producers wrap with
// context via fmt.Errorf("...: %w", err).
var (
	// ErrNotFound is the normal absence signal from every store: callers use
	// it to decide whether to generate or fetch, so it is never a panic.
	ErrNotFound = errors.New("record not found")

	// ErrNotInitialized means an operation ran before the identity exists.
	// Fatal to the caller; re-run initialization.
	ErrNotInitialized = errors.New("identity not initialized")

	// ErrBundleFetchFailed is a network or directory error. Retryable.
	ErrBundleFetchFailed = errors.New("prekey bundle fetch failed")

	// ErrNoEncryptionCapableDevices means the recipient has no
	// protocol-enabled device. Reported, not retried.
	ErrNoEncryptionCapableDevices = errors.New("no encryption-capable devices")

	// ErrInvalidSignature means the signed prekey signature did not verify.
	// Treated as a potential attack; never retried with the same bundle.
	ErrInvalidSignature = errors.New("invalid signed prekey signature")

	// ErrNoSession means decrypt was attempted with no established session.
	// Recoverable by one bundle-fetch-and-retry, not an unbounded loop.
	ErrNoSession = errors.New("no session established")

	// ErrDuplicateMessage is a replayed ciphertext. Silently droppable.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrUntrustedIdentity means the identity key changed since first trust.
	// Surfaced for explicit re-verification; encryption still proceeds
	// unless the caller opts to block.
	ErrUntrustedIdentity = errors.New("identity key changed since first trust")

	// ErrPreKeyConsumed means a prekey ciphertext referenced a one-time
	// prekey that was already used to establish a session.
	ErrPreKeyConsumed = errors.New("one-time prekey already consumed")
)
