package keygen

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"keymesh/internal/crypto"
	"keymesh/internal/domain"
)

// DefaultPoolSize is the one-time prekey pool size generated at init and
// restored by replenishment.
const DefaultPoolSize = 100

// Service produces and rotates this device's key material. It implements
// domain.KeyGenerator.
type Service struct {
	secure domain.SecureStore
	reg    domain.RegistrationStore
	opks   domain.PreKeyStore
	spks   domain.SignedPreKeyStore

	userID   string
	deviceID uint32
	logger   *logrus.Logger
}

// New wires a Service over the local stores.
func New(secure domain.SecureStore, reg domain.RegistrationStore, opks domain.PreKeyStore, spks domain.SignedPreKeyStore, userID string, deviceID uint32, logger *logrus.Logger) *Service {
	return &Service{
		secure:   secure,
		reg:      reg,
		opks:     opks,
		spks:     spks,
		userID:   userID,
		deviceID: deviceID,
		logger:   logger,
	}
}

var _ domain.KeyGenerator = (*Service)(nil)

// GenerateInitialKeyBundle assembles this device's publishable bundle.
// Every piece is load-or-create, so calling it on an already-initialised
// device reuses the stored material instead of replacing it. The returned
// one-time prekeys are the ones not yet offered to the directory, sorted by
// id; on a fresh device that is the whole initial pool.
func (s *Service) GenerateInitialKeyBundle(_ context.Context) (domain.PreKeyBundle, []domain.OneTimePreKeyPublic, error) {
	id, err := s.loadOrCreateIdentity()
	if err != nil {
		return domain.PreKeyBundle{}, nil, err
	}

	regID, err := s.loadOrCreateRegistrationID()
	if err != nil {
		return domain.PreKeyBundle{}, nil, err
	}

	spk, err := s.spks.CurrentSignedPreKey()
	if errors.Is(err, domain.ErrNotFound) {
		spk, err = s.newSignedPreKey(id)
	}
	if err != nil {
		return domain.PreKeyBundle{}, nil, err
	}

	existing, err := s.opks.ListPreKeys()
	if err != nil {
		return domain.PreKeyBundle{}, nil, err
	}
	if len(existing) == 0 {
		existing, err = s.generatePreKeys(DefaultPoolSize)
		if err != nil {
			return domain.PreKeyBundle{}, nil, err
		}
	}

	offered, err := s.opks.LastOfferedPreKeyID()
	if err != nil {
		return domain.PreKeyBundle{}, nil, err
	}
	publics := make([]domain.OneTimePreKeyPublic, 0, len(existing))
	for _, rec := range existing {
		if rec.ID > offered {
			publics = append(publics, domain.OneTimePreKeyPublic{ID: rec.ID, Pub: rec.Pub})
		}
	}
	sort.Slice(publics, func(i, j int) bool { return publics[i].ID < publics[j].ID })

	bundle := domain.PreKeyBundle{
		UserID:                s.userID,
		DeviceID:              s.deviceID,
		RegistrationID:        regID,
		IdentityKey:           id.XPub,
		SigningKey:            id.EdPub,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Pub,
		SignedPreKeySignature: spk.Signature,
	}
	return bundle, publics, nil
}

func (s *Service) ShouldRotateSignedPreKey(maxAge time.Duration) (bool, error) {
	spk, err := s.spks.CurrentSignedPreKey()
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	age := time.Since(time.Unix(spk.CreatedAt, 0))
	return age >= maxAge, nil
}

// RotateSignedPreKey generates a fresh signed prekey and marks it current.
// The superseded record stays in the store so in-flight handshakes that
// reference it still resolve; DeleteExpiredSignedPreKeys reaps it later.
func (s *Service) RotateSignedPreKey(_ context.Context) (domain.SignedPreKeyRecord, error) {
	id, err := s.secure.LoadIdentity()
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SignedPreKeyRecord{}, domain.ErrNotInitialized
	}
	if err != nil {
		return domain.SignedPreKeyRecord{}, err
	}

	spk, err := s.newSignedPreKey(id)
	if err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	s.logger.WithField("signed_pre_key_id", spk.ID).Info("signed prekey rotated")
	return spk, nil
}

// ReplenishPreKeys generates fresh prekeys when the directory's remaining
// count for this device dropped below threshold. Ids come from the persistent
// allocator, so a consumed id is never reissued. Prekeys already generated
// but not yet offered count toward the supply.
func (s *Service) ReplenishPreKeys(_ context.Context, remaining, threshold int) (int, error) {
	if remaining >= threshold {
		return 0, nil
	}

	existing, err := s.opks.ListPreKeys()
	if err != nil {
		return 0, err
	}
	offered, err := s.opks.LastOfferedPreKeyID()
	if err != nil {
		return 0, err
	}
	pending := 0
	for _, rec := range existing {
		if rec.ID > offered {
			pending++
		}
	}

	need := DefaultPoolSize - remaining - pending
	if need <= 0 {
		return 0, nil
	}
	made, err := s.generatePreKeys(need)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{
		"remaining": remaining,
		"generated": len(made),
	}).Info("one-time prekey pool replenished")
	return len(made), nil
}

// MarkPreKeysOffered advances the offered watermark after a successful
// upload. Ids at or below the watermark are excluded from later bundles.
func (s *Service) MarkPreKeysOffered(through uint32) error {
	return s.opks.SetLastOfferedPreKeyID(through)
}

func (s *Service) DeleteExpiredSignedPreKeys(grace time.Duration) (int, error) {
	current, err := s.spks.CurrentSignedPreKey()
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	all, err := s.spks.ListSignedPreKeys()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-grace).Unix()
	deleted := 0
	for _, rec := range all {
		if rec.ID == current.ID || rec.CreatedAt >= cutoff {
			continue
		}
		if err := s.spks.DeleteSignedPreKey(rec.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *Service) loadOrCreateIdentity() (domain.Identity, error) {
	id, err := s.secure.LoadIdentity()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, err
	}

	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("generate identity key: %w", err)
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("generate signing key: %w", err)
	}

	id = domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}
	if err := s.secure.SaveIdentity(id); err != nil {
		return domain.Identity{}, err
	}
	s.logger.WithField("fingerprint", crypto.Fingerprint(xPub.Slice())).Info("identity generated")
	return id, nil
}

func (s *Service) loadOrCreateRegistrationID() (uint32, error) {
	regID, err := s.reg.LoadRegistrationID()
	if err == nil {
		return regID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}

	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	regID = binary.BigEndian.Uint32(buf[:]) & domain.MaxRegistrationID
	if err := s.reg.SaveRegistrationID(regID); err != nil {
		return 0, err
	}
	return regID, nil
}

// newSignedPreKey creates, signs, stores, and marks current a fresh record.
// Ids are unix seconds, bumped past any existing record so two rotations in
// the same second stay distinct.
func (s *Service) newSignedPreKey(id domain.Identity) (domain.SignedPreKeyRecord, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SignedPreKeyRecord{}, fmt.Errorf("generate signed prekey: %w", err)
	}

	now := time.Now().Unix()
	spkID := uint32(now)
	all, err := s.spks.ListSignedPreKeys()
	if err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	for _, rec := range all {
		if rec.ID >= spkID {
			spkID = rec.ID + 1
		}
	}

	rec := domain.SignedPreKeyRecord{
		ID:        spkID,
		Pub:       pub,
		Priv:      priv,
		Signature: crypto.SignEd25519(id.EdPriv, pub.Slice()),
		CreatedAt: now,
	}
	if err := s.spks.SaveSignedPreKey(rec); err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	if err := s.spks.SetCurrentSignedPreKeyID(rec.ID); err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	return rec, nil
}

func (s *Service) generatePreKeys(n int) ([]domain.OneTimePreKeyRecord, error) {
	first, err := s.opks.AllocatePreKeyIDs(n)
	if err != nil {
		return nil, err
	}
	recs := make([]domain.OneTimePreKeyRecord, 0, n)
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, fmt.Errorf("generate one-time prekey: %w", err)
		}
		recs = append(recs, domain.OneTimePreKeyRecord{
			ID:   first + uint32(i),
			Pub:  pub,
			Priv: priv,
		})
	}
	if err := s.opks.SavePreKeys(recs); err != nil {
		return nil, err
	}
	return recs, nil
}
