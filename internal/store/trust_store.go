package store

import (
	"path/filepath"
	"sync"
	"time"

	"keymesh/internal/crypto"
	"keymesh/internal/domain"
)

const trustFilename = "trusted_identities.json"

// TrustFileStore persists trust-on-first-use identity records per address.
type TrustFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewTrustFileStore returns a TrustFileStore rooted at dir.
func NewTrustFileStore(dir string) *TrustFileStore {
	return &TrustFileStore{dir: dir}
}

// IsTrustedIdentity implements trust-on-first-use: an address never seen
// before is trusted unconditionally; afterwards the stored fingerprint must
// match key. The direction does not change the decision here; it exists so
// callers can attribute the security event they surface on a mismatch.
func (s *TrustFileStore) IsTrustedIdentity(addr domain.ProtocolAddress, key domain.X25519Public, _ domain.Direction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[string]domain.TrustedIdentityRecord{}
	if err := readJSON(filepath.Join(s.dir, trustFilename), &m); err != nil {
		return false, err
	}
	rec, ok := m[addr.String()]
	if !ok {
		return true, nil
	}
	return rec.Fingerprint == crypto.Fingerprint(key.Slice()), nil
}

// SaveTrustedIdentity records (or replaces) the identity fingerprint for
// addr. Replacing clears the verified flag: a changed key needs explicit
// re-verification.
func (s *TrustFileStore) SaveTrustedIdentity(addr domain.ProtocolAddress, key domain.X25519Public) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, trustFilename)
	m := map[string]domain.TrustedIdentityRecord{}
	_ = readJSON(path, &m)

	fp := crypto.Fingerprint(key.Slice())
	rec, ok := m[addr.String()]
	if ok && rec.Fingerprint == fp {
		return nil
	}
	m[addr.String()] = domain.TrustedIdentityRecord{
		Address:     addr,
		Fingerprint: fp,
		FirstSeen:   time.Now().Unix(),
	}
	return writeJSON(path, m, 0o600)
}

// LoadTrustedIdentity returns the stored record for addr.
func (s *TrustFileStore) LoadTrustedIdentity(addr domain.ProtocolAddress) (domain.TrustedIdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[string]domain.TrustedIdentityRecord{}
	if err := readJSON(filepath.Join(s.dir, trustFilename), &m); err != nil {
		return domain.TrustedIdentityRecord{}, err
	}
	rec, ok := m[addr.String()]
	if !ok {
		return domain.TrustedIdentityRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// MarkVerified flips the explicit-verification flag after a safety-number
// comparison.
func (s *TrustFileStore) MarkVerified(addr domain.ProtocolAddress, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, trustFilename)
	m := map[string]domain.TrustedIdentityRecord{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	rec, ok := m[addr.String()]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Verified = verified
	m[addr.String()] = rec
	return writeJSON(path, m, 0o600)
}

var _ domain.TrustStore = (*TrustFileStore)(nil)
