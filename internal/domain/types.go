package domain

import "fmt"

// Message type tags carried on every device ciphertext. The receiver branches
// on this tag to pick the decrypt path; it must survive transport unchanged.
const (
	// MessageTypeWhisper is a ratchet-continuation ciphertext for an
	// already-established session.
	MessageTypeWhisper = 1
	// MessageTypePreKey is a bundle-initiating ciphertext: it carries the
	// X3DH handshake so the receiver can derive the session first.
	MessageTypePreKey = 3
)

// MaxRegistrationID bounds the 24-bit device registration id.
const MaxRegistrationID = 1<<24 - 1

// ProtocolAddress is the addressing unit for all session and trust
// operations. One logical user may own many addresses (multi-device).
type ProtocolAddress struct {
	UserID   string `json:"user_id"`
	DeviceID uint32 `json:"device_id"`
}

func (a ProtocolAddress) String() string {
	return fmt.Sprintf("%s.%d", a.UserID, a.DeviceID)
}

// Identity holds this device's long-term X25519 and Ed25519 key pairs.
// It is generated once per install and never leaves the device.
type Identity struct {
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`
}

// OneTimePreKeyRecord is a full one-time prekey pair stored locally.
// Each record is consumed (deleted) the first time it helps establish an
// inbound session.
type OneTimePreKeyRecord struct {
	ID   uint32        `json:"id"`
	Pub  X25519Public  `json:"pub"`
	Priv X25519Private `json:"priv"`
}

// OneTimePreKeyPublic is the public half, as published to the directory.
type OneTimePreKeyPublic struct {
	ID  uint32       `json:"id"`
	Pub X25519Public `json:"pub"`
}

// SignedPreKeyRecord is a medium-lived prekey pair whose public half is
// signed by the identity key. Rotated on a schedule; superseded records are
// retained for a grace window so in-flight handshakes still resolve.
type SignedPreKeyRecord struct {
	ID        uint32        `json:"id"`
	Pub       X25519Public  `json:"pub"`
	Priv      X25519Private `json:"priv"`
	Signature []byte        `json:"signature"`
	CreatedAt int64         `json:"created_at"` // unix seconds
}

// PreKeyBundle is what a device publishes and what a peer fetches to start a
// session. The one-time prekey is optional: the directory hands out each one
// at most once and omits the field when none remain.
type PreKeyBundle struct {
	UserID                string               `json:"user_id"`
	DeviceID              uint32               `json:"device_id"`
	RegistrationID        uint32               `json:"registration_id"`
	IdentityKey           X25519Public         `json:"identity_key"`
	SigningKey            Ed25519Public        `json:"signing_key"`
	SignedPreKeyID        uint32               `json:"signed_pre_key_id"`
	SignedPreKey          X25519Public         `json:"signed_pre_key"`
	SignedPreKeySignature []byte               `json:"signed_pre_key_signature"`
	OneTimePreKey         *OneTimePreKeyPublic `json:"one_time_pre_key,omitempty"`
}

// PreKeyMessage carries the X3DH handshake parameters inside the first
// ciphertext of a locally initiated session.
type PreKeyMessage struct {
	InitiatorIdentityKey X25519Public `json:"initiator_identity_key"`
	EphemeralKey         X25519Public `json:"ephemeral_key"`
	RegistrationID       uint32       `json:"registration_id"`
	SignedPreKeyID       uint32       `json:"signed_pre_key_id"`
	OneTimePreKeyID      uint32       `json:"one_time_pre_key_id,omitempty"` // 0 = none used
}

// RatchetHeader is sent alongside every ciphertext.
type RatchetHeader struct {
	DHPub []byte `json:"dh_pub"` // 32 bytes
	PN    uint32 `json:"pn"`
	N     uint32 `json:"n"`
}

// RatchetState holds Double Ratchet state for one session.
type RatchetState struct {
	RootKey   []byte        `json:"root_key"`
	DHPriv    X25519Private `json:"dh_priv"`
	DHPub     X25519Public  `json:"dh_pub"`
	PeerDHPub X25519Public  `json:"peer_dh_pub"`

	SendCK []byte `json:"send_ck,omitempty"`
	RecvCK []byte `json:"recv_ck,omitempty"`

	Ns uint32 `json:"ns"`
	Nr uint32 `json:"nr"`
	PN uint32 `json:"pn"`

	Skipped map[string][]byte `json:"skipped,omitempty"`
}

// SessionRecord is the full per-address session state: ratchet plus the peer
// keys it was established against. Mutated on every encrypt/decrypt; owned by
// the session store and accessed only through the session manager.
type SessionRecord struct {
	Address         ProtocolAddress `json:"address"`
	PeerIdentityKey X25519Public    `json:"peer_identity_key"`
	PeerSigningKey  Ed25519Public   `json:"peer_signing_key"`
	CreatedUTC      int64           `json:"created_utc"`
	Ratchet         RatchetState    `json:"ratchet"`

	// PendingPreKey is set on a locally initiated session until the
	// handshake has gone out with the first ciphertext.
	PendingPreKey *PreKeyMessage `json:"pending_pre_key,omitempty"`
}

// Direction qualifies a trust check: are we about to send to, or have we
// received from, the address in question.
type Direction int

const (
	DirectionSending Direction = iota
	DirectionReceiving
)

// TrustedIdentityRecord is a trust-on-first-use record for one address.
type TrustedIdentityRecord struct {
	Address     ProtocolAddress `json:"address"`
	Fingerprint string          `json:"fingerprint"`
	FirstSeen   int64           `json:"first_seen"`
	Verified    bool            `json:"verified"` // true after explicit safety-number verification
}

// DeviceCiphertext is one recipient device's slot in a wire envelope.
// EncryptedPayload is the serialized RatchetMessage.
type DeviceCiphertext struct {
	MessageType      int    `json:"message_type"`
	EncryptedPayload []byte `json:"encrypted_payload"`
}

// RatchetMessage is the structure serialized into
// DeviceCiphertext.EncryptedPayload.
type RatchetMessage struct {
	Header RatchetHeader  `json:"header"`
	Cipher []byte         `json:"cipher"`
	PreKey *PreKeyMessage `json:"pre_key,omitempty"`
}

// Envelope fans one logical message out to every device of every recipient.
type Envelope struct {
	SenderDeviceID uint32                                 `json:"sender_device_id"`
	Recipients     map[string]map[uint32]DeviceCiphertext `json:"recipients"`
}

// DeviceInfo describes one directory-registered device of a user.
type DeviceInfo struct {
	DeviceID uint32 `json:"device_id"`
	LastSeen int64  `json:"last_seen"`
	Capable  bool   `json:"capable"`
}

// PreKeyStatus reports how many one-time prekeys remain on the directory for
// this device.
type PreKeyStatus struct {
	Remaining          int  `json:"remaining"`
	NeedsReplenishment bool `json:"needs_replenishment"`
}
