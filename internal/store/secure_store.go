package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"keymesh/internal/domain"
)

const identityFilename = "identity.enc"

// SecureFileStore is the secure-tier store: it holds only the long-term
// identity, sealed under a passphrase-derived key. On platforms with a
// hardware keystore this is where a keystore-backed implementation of
// domain.SecureStore would slot in instead.
//
// The store is unlocked once at construction; services hold the capability
// interface, never the passphrase.
type SecureFileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// NewSecureFileStore returns a SecureFileStore rooted at dir, unlocked with
// passphrase.
func NewSecureFileStore(dir, passphrase string) *SecureFileStore {
	return &SecureFileStore{dir: dir, passphrase: passphrase}
}

// SaveIdentity seals and writes the identity blob.
func (s *SecureFileStore) SaveIdentity(id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	N, r, p := scryptParamsDefault()
	ct, err := sealBlob(s.passphrase, raw, N, r, p)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, identityFilename), ct, 0o600)
}

// LoadIdentity reads and opens the identity blob. Absence is
// domain.ErrNotFound, the signal that initialization has not run yet.
func (s *SecureFileStore) LoadIdentity() (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(filepath.Join(s.dir, identityFilename))
	if errors.Is(err, os.ErrNotExist) {
		return domain.Identity{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Identity{}, err
	}
	pt, err := openBlob(s.passphrase, b)
	if err != nil {
		return domain.Identity{}, err
	}
	var id domain.Identity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

var _ domain.SecureStore = (*SecureFileStore)(nil)
