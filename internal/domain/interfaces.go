package domain

import (
	"context"
	"time"
)

// SecureStore is the secure-tier capability: it must resist extraction even
// with filesystem access (device keystore / passphrase-encrypted blob). Only
// the long-term identity lives here.
type SecureStore interface {
	SaveIdentity(id Identity) error
	LoadIdentity() (Identity, error) // ErrNotFound when absent
}

// RegistrationStore persists the immutable 24-bit registration id.
type RegistrationStore interface {
	SaveRegistrationID(id uint32) error
	LoadRegistrationID() (uint32, error) // ErrNotFound when absent
}

// PreKeyStore manages one-time prekey pairs. TakePreKey is the consume
// operation: it must be atomic with respect to concurrent reads, so that a
// given id establishes at most one session.
type PreKeyStore interface {
	SavePreKeys(recs []OneTimePreKeyRecord) error
	LoadPreKey(id uint32) (OneTimePreKeyRecord, error) // ErrNotFound when absent
	TakePreKey(id uint32) (OneTimePreKeyRecord, error) // load+delete; ErrNotFound when absent
	ListPreKeys() ([]OneTimePreKeyRecord, error)
	CountPreKeys() (int, error)
	// AllocatePreKeyIDs reserves n consecutive fresh ids and returns the
	// first. The counter advances monotonically and survives restarts, so an
	// id is never reissued even after the record that carried it is consumed.
	AllocatePreKeyIDs(n int) (uint32, error)
	// LastOfferedPreKeyID is the highest id ever uploaded to the directory;
	// SetLastOfferedPreKeyID only moves it forward.
	LastOfferedPreKeyID() (uint32, error)
	SetLastOfferedPreKeyID(id uint32) error
}

// SignedPreKeyStore manages signed prekey records, including the retained
// superseded ones, and tracks which record is current.
type SignedPreKeyStore interface {
	SaveSignedPreKey(rec SignedPreKeyRecord) error
	LoadSignedPreKey(id uint32) (SignedPreKeyRecord, error) // ErrNotFound when absent
	CurrentSignedPreKey() (SignedPreKeyRecord, error)       // ErrNotFound when none set
	SetCurrentSignedPreKeyID(id uint32) error
	ListSignedPreKeys() ([]SignedPreKeyRecord, error)
	DeleteSignedPreKey(id uint32) error
}

// SessionStore persists per-address session records.
type SessionStore interface {
	SaveSession(rec SessionRecord) error
	LoadSession(addr ProtocolAddress) (SessionRecord, error) // ErrNotFound when absent
	HasSession(addr ProtocolAddress) (bool, error)
	DeleteSession(addr ProtocolAddress) error
}

// TrustStore keeps trust-on-first-use identity records per address.
//
// IsTrustedIdentity returns true the first time an address is seen; after
// that it returns true only while the stored fingerprint matches key. A
// mismatch does not block anything here; policy belongs to the caller.
type TrustStore interface {
	IsTrustedIdentity(addr ProtocolAddress, key X25519Public, dir Direction) (bool, error)
	SaveTrustedIdentity(addr ProtocolAddress, key X25519Public) error
	LoadTrustedIdentity(addr ProtocolAddress) (TrustedIdentityRecord, error) // ErrNotFound when absent
	MarkVerified(addr ProtocolAddress, verified bool) error
}

// Directory is the remote key directory. Bundle documents are keyed by
// (user, device); one-time prekeys are consumed server-side at most once.
type Directory interface {
	// Publish upserts this device's static bundle, appends oneTime to the
	// directory's prekey pool, and flips the device's protocol-capable flag.
	// Callers offer each prekey id at most once; the pool only ever shrinks
	// through consumption or device deletion.
	Publish(ctx context.Context, bundle PreKeyBundle, oneTime []OneTimePreKeyPublic) error
	// FetchBundle returns the peer's bundle. Any one-time prekey it carries
	// has been removed from the directory in the same call (at-most-once);
	// a bundle without one is valid, never an error.
	FetchBundle(ctx context.Context, userID string, deviceID uint32) (PreKeyBundle, error)
	ListDevices(ctx context.Context, userID string) ([]DeviceInfo, error)
	DeleteDevice(ctx context.Context, userID string, deviceID uint32) error
	CheckPreKeyStatus(ctx context.Context, userID string, deviceID uint32) (PreKeyStatus, error)
}

// KeyGenerator produces and rotates this device's key material.
type KeyGenerator interface {
	// GenerateInitialKeyBundle is idempotent: an existing identity is reused.
	GenerateInitialKeyBundle(ctx context.Context) (PreKeyBundle, []OneTimePreKeyPublic, error)
	ShouldRotateSignedPreKey(maxAge time.Duration) (bool, error)
	RotateSignedPreKey(ctx context.Context) (SignedPreKeyRecord, error)
	// ReplenishPreKeys generates fresh prekeys (ids are never reused) so that
	// remaining plus the not-yet-offered local surplus returns to the full
	// pool size; a no-op while remaining is at or above threshold. remaining
	// is the directory's count for this device. Returns how many were made.
	ReplenishPreKeys(ctx context.Context, remaining, threshold int) (int, error)
	DeleteExpiredSignedPreKeys(grace time.Duration) (int, error)
	// MarkPreKeysOffered records that every id up to and including through
	// has been uploaded; later bundle generations exclude them so the
	// directory is never offered the same id twice.
	MarkPreKeysOffered(through uint32) error
}

// SessionManager owns the NoSession -> Established state machine per address
// and all message-level crypto for established sessions.
type SessionManager interface {
	EnsureSession(ctx context.Context, addr ProtocolAddress) error
	HasSession(addr ProtocolAddress) (bool, error)
	// Encrypt requires an established session (EnsureSession first).
	Encrypt(ctx context.Context, addr ProtocolAddress, plaintext []byte) (DeviceCiphertext, error)
	// Decrypt branches on the ciphertext's message type: prekey ciphertexts
	// may establish the session reactively, whisper ciphertexts require one.
	Decrypt(ctx context.Context, addr ProtocolAddress, ct DeviceCiphertext) ([]byte, error)
	SafetyNumber(addr ProtocolAddress) (string, error)
	VerifySafetyNumber(addr ProtocolAddress, number string) (bool, error)
	MarkVerified(addr ProtocolAddress, verified bool) error
}

// SendResult is one device's outcome within a fan-out send.
type SendResult struct {
	Address     ProtocolAddress
	MessageType int
	Err         error
}

// ReceiveStatus classifies envelope receipt outcomes that are expected and
// recoverable rather than failures.
type ReceiveStatus int

const (
	ReceiveDelivered ReceiveStatus = iota
	// ReceiveNotForThisDevice: the envelope has no slot for this device,
	// e.g. it was addressed before this device registered.
	ReceiveNotForThisDevice
	// ReceiveDuplicate: replayed ciphertext, silently droppable.
	ReceiveDuplicate
)

// ReceiveResult is the taxonomy-typed outcome of opening an envelope.
type ReceiveResult struct {
	Status    ReceiveStatus
	Sender    ProtocolAddress
	Plaintext []byte
}

// MessageCipher fans a logical message out to every device of every
// recipient and reverses the process on receipt.
type MessageCipher interface {
	SendToRecipients(ctx context.Context, plaintext []byte, recipients []string) (Envelope, []SendResult, error)
	Receive(ctx context.Context, env Envelope, senderUserID string) (ReceiveResult, error)
}
