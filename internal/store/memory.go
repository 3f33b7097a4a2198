package store

import (
	"sync"
	"time"

	"keymesh/internal/crypto"
	"keymesh/internal/domain"
)

// MemoryStore implements every storage interface in memory. It backs tests
// and is the swap-in fake for the non-secure tier.
type MemoryStore struct {
	mu sync.Mutex

	identity     *domain.Identity
	regID        *uint32
	preKeys      map[uint32]domain.OneTimePreKeyRecord
	lastPreKeyID uint32
	lastOffered  uint32
	signed       map[uint32]domain.SignedPreKeyRecord
	currentSPK   uint32
	sessions     map[string]domain.SessionRecord
	trusted      map[string]domain.TrustedIdentityRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		preKeys:  make(map[uint32]domain.OneTimePreKeyRecord),
		signed:   make(map[uint32]domain.SignedPreKeyRecord),
		sessions: make(map[string]domain.SessionRecord),
		trusted:  make(map[string]domain.TrustedIdentityRecord),
	}
}

// ---------- SecureStore ----------

func (s *MemoryStore) SaveIdentity(id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &id
	return nil
}

func (s *MemoryStore) LoadIdentity() (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return domain.Identity{}, domain.ErrNotFound
	}
	return *s.identity, nil
}

// ---------- RegistrationStore ----------

func (s *MemoryStore) SaveRegistrationID(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regID = &id
	return nil
}

func (s *MemoryStore) LoadRegistrationID() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.regID == nil {
		return 0, domain.ErrNotFound
	}
	return *s.regID, nil
}

// ---------- PreKeyStore ----------

func (s *MemoryStore) SavePreKeys(recs []domain.OneTimePreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.preKeys[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) LoadPreKey(id uint32) (domain.OneTimePreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.preKeys[id]
	if !ok {
		return domain.OneTimePreKeyRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) TakePreKey(id uint32) (domain.OneTimePreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.preKeys[id]
	if !ok {
		return domain.OneTimePreKeyRecord{}, domain.ErrNotFound
	}
	delete(s.preKeys, id)
	return rec, nil
}

func (s *MemoryStore) ListPreKeys() ([]domain.OneTimePreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OneTimePreKeyRecord, 0, len(s.preKeys))
	for _, r := range s.preKeys {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) CountPreKeys() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.preKeys), nil
}

func (s *MemoryStore) AllocatePreKeyIDs(n int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.lastPreKeyID + 1
	s.lastPreKeyID += uint32(n)
	return first, nil
}

func (s *MemoryStore) LastOfferedPreKeyID() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOffered, nil
}

func (s *MemoryStore) SetLastOfferedPreKeyID(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.lastOffered {
		s.lastOffered = id
	}
	return nil
}

// ---------- SignedPreKeyStore ----------

func (s *MemoryStore) SaveSignedPreKey(rec domain.SignedPreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signed[rec.ID] = rec
	return nil
}

func (s *MemoryStore) LoadSignedPreKey(id uint32) (domain.SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.signed[id]
	if !ok {
		return domain.SignedPreKeyRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) CurrentSignedPreKey() (domain.SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.signed[s.currentSPK]
	if !ok {
		return domain.SignedPreKeyRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) SetCurrentSignedPreKeyID(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSPK = id
	return nil
}

func (s *MemoryStore) ListSignedPreKeys() ([]domain.SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SignedPreKeyRecord, 0, len(s.signed))
	for _, r := range s.signed {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) DeleteSignedPreKey(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signed, id)
	return nil
}

// ---------- SessionStore ----------

func (s *MemoryStore) SaveSession(rec domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.Address.String()] = rec
	return nil
}

func (s *MemoryStore) LoadSession(addr domain.ProtocolAddress) (domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[addr.String()]
	if !ok {
		return domain.SessionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) HasSession(addr domain.ProtocolAddress) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[addr.String()]
	return ok, nil
}

func (s *MemoryStore) DeleteSession(addr domain.ProtocolAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, addr.String())
	return nil
}

// ---------- TrustStore ----------

func (s *MemoryStore) IsTrustedIdentity(addr domain.ProtocolAddress, key domain.X25519Public, _ domain.Direction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trusted[addr.String()]
	if !ok {
		return true, nil
	}
	return rec.Fingerprint == crypto.Fingerprint(key.Slice()), nil
}

func (s *MemoryStore) SaveTrustedIdentity(addr domain.ProtocolAddress, key domain.X25519Public) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp := crypto.Fingerprint(key.Slice())
	if rec, ok := s.trusted[addr.String()]; ok && rec.Fingerprint == fp {
		return nil
	}
	s.trusted[addr.String()] = domain.TrustedIdentityRecord{
		Address:     addr,
		Fingerprint: fp,
		FirstSeen:   time.Now().Unix(),
	}
	return nil
}

func (s *MemoryStore) LoadTrustedIdentity(addr domain.ProtocolAddress) (domain.TrustedIdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trusted[addr.String()]
	if !ok {
		return domain.TrustedIdentityRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) MarkVerified(addr domain.ProtocolAddress, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trusted[addr.String()]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Verified = verified
	s.trusted[addr.String()] = rec
	return nil
}

var (
	_ domain.SecureStore       = (*MemoryStore)(nil)
	_ domain.RegistrationStore = (*MemoryStore)(nil)
	_ domain.PreKeyStore       = (*MemoryStore)(nil)
	_ domain.SignedPreKeyStore = (*MemoryStore)(nil)
	_ domain.SessionStore      = (*MemoryStore)(nil)
	_ domain.TrustStore        = (*MemoryStore)(nil)
)
