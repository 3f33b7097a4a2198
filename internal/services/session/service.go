package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"keymesh/internal/crypto"
	"keymesh/internal/domain"
	"keymesh/internal/protocol/ratchet"
	"keymesh/internal/protocol/x3dh"
)

// SecurityEventFunc is invoked when a peer's identity key differs from the
// one recorded at first use. The session proceeds either way; the callback
// exists so a UI or audit log can surface the change.
type SecurityEventFunc func(addr domain.ProtocolAddress, oldFingerprint, newFingerprint string)

// Service implements domain.SessionManager.
type Service struct {
	secure    domain.SecureStore
	reg       domain.RegistrationStore
	opks      domain.PreKeyStore
	spks      domain.SignedPreKeyStore
	sessions  domain.SessionStore
	trust     domain.TrustStore
	directory domain.Directory

	userID  string
	logger  *logrus.Logger
	onAlert SecurityEventFunc

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires a Service. onAlert may be nil.
func New(
	secure domain.SecureStore,
	reg domain.RegistrationStore,
	opks domain.PreKeyStore,
	spks domain.SignedPreKeyStore,
	sessions domain.SessionStore,
	trust domain.TrustStore,
	directory domain.Directory,
	userID string,
	logger *logrus.Logger,
	onAlert SecurityEventFunc,
) *Service {
	return &Service{
		secure:    secure,
		reg:       reg,
		opks:      opks,
		spks:      spks,
		sessions:  sessions,
		trust:     trust,
		directory: directory,
		userID:    userID,
		logger:    logger,
		onAlert:   onAlert,
		locks:     make(map[string]*sync.Mutex),
	}
}

var _ domain.SessionManager = (*Service)(nil)

// lockFor serialises all work per address: concurrent encrypts to one device
// must each advance the ratchet exactly once.
func (s *Service) lockFor(addr domain.ProtocolAddress) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[addr.String()]
	if !ok {
		l = &sync.Mutex{}
		s.locks[addr.String()] = l
	}
	return l
}

// EnsureSession establishes a session with addr if none exists, fetching and
// verifying the peer's bundle and running the initiator handshake.
func (s *Service) EnsureSession(ctx context.Context, addr domain.ProtocolAddress) error {
	l := s.lockFor(addr)
	l.Lock()
	defer l.Unlock()

	ok, err := s.sessions.HasSession(addr)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	id, err := s.loadIdentity()
	if err != nil {
		return err
	}

	bundle, err := s.directory.FetchBundle(ctx, addr.UserID, addr.DeviceID)
	if err != nil {
		return err
	}
	if !x3dh.VerifyBundle(bundle) {
		return fmt.Errorf("bundle for %s: %w", addr, domain.ErrInvalidSignature)
	}

	if err := s.checkTrust(addr, bundle.IdentityKey, domain.DirectionSending); err != nil {
		return err
	}

	root, eph, opkID, err := x3dh.InitiatorRoot(id, bundle)
	if err != nil {
		return fmt.Errorf("initiator handshake with %s: %w", addr, err)
	}
	st, err := ratchet.InitAsInitiator(root, bundle.IdentityKey)
	if err != nil {
		return err
	}

	regID, err := s.reg.LoadRegistrationID()
	if err != nil {
		return err
	}

	rec := domain.SessionRecord{
		Address:         addr,
		PeerIdentityKey: bundle.IdentityKey,
		PeerSigningKey:  bundle.SigningKey,
		CreatedUTC:      time.Now().Unix(),
		Ratchet:         st,
		PendingPreKey: &domain.PreKeyMessage{
			InitiatorIdentityKey: id.XPub,
			EphemeralKey:         eph,
			RegistrationID:       regID,
			SignedPreKeyID:       bundle.SignedPreKeyID,
			OneTimePreKeyID:      opkID,
		},
	}
	if err := s.sessions.SaveSession(rec); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"peer":         addr.String(),
		"one_time_key": opkID != 0,
	}).Info("session established")
	return nil
}

func (s *Service) HasSession(addr domain.ProtocolAddress) (bool, error) {
	return s.sessions.HasSession(addr)
}

// Encrypt advances the sending ratchet one step and returns the device
// ciphertext. The first ciphertext of a locally initiated session carries the
// handshake; every later one is a plain ratchet continuation.
func (s *Service) Encrypt(_ context.Context, addr domain.ProtocolAddress, plaintext []byte) (domain.DeviceCiphertext, error) {
	l := s.lockFor(addr)
	l.Lock()
	defer l.Unlock()

	rec, err := s.sessions.LoadSession(addr)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DeviceCiphertext{}, fmt.Errorf("encrypt for %s: %w", addr, domain.ErrNoSession)
	}
	if err != nil {
		return domain.DeviceCiphertext{}, err
	}

	id, err := s.loadIdentity()
	if err != nil {
		return domain.DeviceCiphertext{}, err
	}

	ad := associatedData(id.XPub, rec.PeerIdentityKey)
	header, ct, err := ratchet.Encrypt(&rec.Ratchet, ad, plaintext)
	if err != nil {
		return domain.DeviceCiphertext{}, err
	}

	msg := domain.RatchetMessage{Header: header, Cipher: ct}
	msgType := domain.MessageTypeWhisper
	if rec.PendingPreKey != nil {
		msg.PreKey = rec.PendingPreKey
		msgType = domain.MessageTypePreKey
		rec.PendingPreKey = nil
	}

	if err := s.sessions.SaveSession(rec); err != nil {
		return domain.DeviceCiphertext{}, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return domain.DeviceCiphertext{}, err
	}
	return domain.DeviceCiphertext{MessageType: msgType, EncryptedPayload: payload}, nil
}

// Decrypt opens a device ciphertext. A prekey ciphertext may establish the
// session reactively; a whisper ciphertext requires one to exist already.
func (s *Service) Decrypt(_ context.Context, addr domain.ProtocolAddress, ct domain.DeviceCiphertext) ([]byte, error) {
	l := s.lockFor(addr)
	l.Lock()
	defer l.Unlock()

	var msg domain.RatchetMessage
	if err := json.Unmarshal(ct.EncryptedPayload, &msg); err != nil {
		return nil, fmt.Errorf("decode ciphertext from %s: %w", addr, err)
	}

	id, err := s.loadIdentity()
	if err != nil {
		return nil, err
	}

	rec, err := s.sessions.LoadSession(addr)
	switch {
	case err == nil:
		// Established: decrypt below whatever the message type claims. A
		// duplicated handshake ciphertext resolves via the skipped-key path
		// or surfaces as a duplicate.
	case errors.Is(err, domain.ErrNotFound):
		if ct.MessageType != domain.MessageTypePreKey {
			return nil, fmt.Errorf("whisper from %s: %w", addr, domain.ErrNoSession)
		}
		rec, err = s.establishFromPreKey(addr, id, msg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	ad := associatedData(id.XPub, rec.PeerIdentityKey)
	pt, err := ratchet.Decrypt(&rec.Ratchet, ad, msg.Header, msg.Cipher)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.SaveSession(rec); err != nil {
		return nil, err
	}
	return pt, nil
}

// establishFromPreKey runs the responder handshake using the parameters the
// initiator sent. The referenced one-time prekey is consumed here; a second
// handshake naming the same id fails with ErrPreKeyConsumed.
func (s *Service) establishFromPreKey(addr domain.ProtocolAddress, id domain.Identity, msg domain.RatchetMessage) (domain.SessionRecord, error) {
	pm := msg.PreKey
	if pm == nil {
		return domain.SessionRecord{}, fmt.Errorf("prekey ciphertext from %s carries no handshake", addr)
	}
	// Reject a malformed ratchet public before anything is consumed; the
	// header is attacker-controlled bytes at this point.
	if len(msg.Header.DHPub) != 32 {
		return domain.SessionRecord{}, fmt.Errorf("handshake from %s: bad ratchet public length %d", addr, len(msg.Header.DHPub))
	}

	if err := s.checkTrust(addr, pm.InitiatorIdentityKey, domain.DirectionReceiving); err != nil {
		return domain.SessionRecord{}, err
	}

	spk, err := s.spks.LoadSignedPreKey(pm.SignedPreKeyID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SessionRecord{}, fmt.Errorf("handshake names unknown signed prekey %d: %w", pm.SignedPreKeyID, err)
	}
	if err != nil {
		return domain.SessionRecord{}, err
	}

	var opkPriv *domain.X25519Private
	if pm.OneTimePreKeyID != 0 {
		opk, err := s.opks.TakePreKey(pm.OneTimePreKeyID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SessionRecord{}, fmt.Errorf("one-time prekey %d: %w", pm.OneTimePreKeyID, domain.ErrPreKeyConsumed)
		}
		if err != nil {
			return domain.SessionRecord{}, err
		}
		opkPriv = &opk.Priv
	}

	root, err := x3dh.ResponderRoot(id, spk.Priv, opkPriv, *pm)
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("responder handshake with %s: %w", addr, err)
	}

	senderRatchetPub := domain.MustX25519Public(msg.Header.DHPub)
	st, err := ratchet.InitAsResponder(root, id.XPriv, senderRatchetPub)
	if err != nil {
		return domain.SessionRecord{}, err
	}

	s.logger.WithField("peer", addr.String()).Info("session established from inbound handshake")
	return domain.SessionRecord{
		Address:         addr,
		PeerIdentityKey: pm.InitiatorIdentityKey,
		CreatedUTC:      time.Now().Unix(),
		Ratchet:         st,
	}, nil
}

// checkTrust applies trust-on-first-use: an unknown address is recorded. A
// changed key is logged and reported but does not block the session; the
// stored record keeps the old fingerprint, so trust checks stay negative
// until the new key is explicitly verified (MarkVerified).
func (s *Service) checkTrust(addr domain.ProtocolAddress, key domain.X25519Public, dir domain.Direction) error {
	trusted, err := s.trust.IsTrustedIdentity(addr, key, dir)
	if err != nil {
		return err
	}
	if trusted {
		return s.trust.SaveTrustedIdentity(addr, key)
	}

	newFP := crypto.Fingerprint(key.Slice())
	oldFP := ""
	if rec, err := s.trust.LoadTrustedIdentity(addr); err == nil {
		oldFP = rec.Fingerprint
	}
	s.logger.WithFields(logrus.Fields{
		"peer":            addr.String(),
		"old_fingerprint": oldFP,
		"new_fingerprint": newFP,
	}).Warn("peer identity key changed since first trust")
	if s.onAlert != nil {
		s.onAlert(addr, oldFP, newFP)
	}
	return nil
}

func (s *Service) SafetyNumber(addr domain.ProtocolAddress) (string, error) {
	id, err := s.loadIdentity()
	if err != nil {
		return "", err
	}
	rec, err := s.sessions.LoadSession(addr)
	if errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("safety number for %s: %w", addr, domain.ErrNoSession)
	}
	if err != nil {
		return "", err
	}
	return crypto.SafetyNumber(s.userID, id.XPub, addr.UserID, rec.PeerIdentityKey), nil
}

func (s *Service) VerifySafetyNumber(addr domain.ProtocolAddress, number string) (bool, error) {
	want, err := s.SafetyNumber(addr)
	if err != nil {
		return false, err
	}
	return want == number, nil
}

// MarkVerified records the outcome of an explicit safety-number comparison.
// Verifying also adopts the session's current peer key as the trusted one,
// which is how a flagged key change gets accepted.
func (s *Service) MarkVerified(addr domain.ProtocolAddress, verified bool) error {
	if verified {
		if rec, err := s.sessions.LoadSession(addr); err == nil {
			if err := s.trust.SaveTrustedIdentity(addr, rec.PeerIdentityKey); err != nil {
				return err
			}
		}
	}
	return s.trust.MarkVerified(addr, verified)
}

func (s *Service) loadIdentity() (domain.Identity, error) {
	id, err := s.secure.LoadIdentity()
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, domain.ErrNotInitialized
	}
	return id, err
}

// associatedData binds both identity keys into every AEAD. The keys are
// ordered bytewise so initiator and responder compute the same value.
func associatedData(a, b domain.X25519Public) []byte {
	if bytes.Compare(a.Slice(), b.Slice()) > 0 {
		a, b = b, a
	}
	out := make([]byte, 0, 64)
	out = append(out, a.Slice()...)
	return append(out, b.Slice()...)
}
