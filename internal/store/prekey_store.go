package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"keymesh/internal/domain"
)

const (
	oneTimeFile    = "one_time_pre_keys.json"
	signedFile     = "signed_pre_keys.json"
	prekeyMetaFile = "prekey_meta.json"
	registrationFn = "registration.json"
)

type prekeyMeta struct {
	CurrentSignedPreKeyID uint32 `json:"current_signed_pre_key_id"`
	// LastOneTimePreKeyID only grows: consumed ids are never handed out a
	// second time, even across restarts.
	LastOneTimePreKeyID uint32 `json:"last_one_time_pre_key_id"`
	LastOfferedPreKeyID uint32 `json:"last_offered_pre_key_id"`
}

type registrationRecord struct {
	RegistrationID uint32 `json:"registration_id"`
	Set            bool   `json:"set"`
}

// PreKeyFileStore persists one-time prekeys, signed prekeys and the
// registration id at the standard tier. One mutex guards all three files, so
// TakePreKey's read-delete-persist is atomic with respect to concurrent
// loads.
type PreKeyFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewPreKeyFileStore returns a PreKeyFileStore rooted at dir.
func NewPreKeyFileStore(dir string) *PreKeyFileStore {
	return &PreKeyFileStore{dir: dir}
}

// ---------- Registration id ----------

func (s *PreKeyFileStore) SaveRegistrationID(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > domain.MaxRegistrationID {
		return fmt.Errorf("registration id %d exceeds 24 bits", id)
	}
	rec := registrationRecord{RegistrationID: id, Set: true}
	return writeJSON(filepath.Join(s.dir, registrationFn), rec, 0o600)
}

func (s *PreKeyFileStore) LoadRegistrationID() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec registrationRecord
	if err := readJSON(filepath.Join(s.dir, registrationFn), &rec); err != nil {
		return 0, err
	}
	if !rec.Set {
		return 0, domain.ErrNotFound
	}
	return rec.RegistrationID, nil
}

// ---------- One-time prekeys ----------

func (s *PreKeyFileStore) SavePreKeys(recs []domain.OneTimePreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, oneTimeFile)
	m := map[uint32]domain.OneTimePreKeyRecord{}
	_ = readJSON(path, &m)
	for _, r := range recs {
		m[r.ID] = r
	}
	return writeJSON(path, m, 0o600)
}

func (s *PreKeyFileStore) LoadPreKey(id uint32) (domain.OneTimePreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[uint32]domain.OneTimePreKeyRecord{}
	if err := readJSON(filepath.Join(s.dir, oneTimeFile), &m); err != nil {
		return domain.OneTimePreKeyRecord{}, err
	}
	rec, ok := m[id]
	if !ok {
		return domain.OneTimePreKeyRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// TakePreKey removes and returns the prekey. Once it returns, a subsequent
// LoadPreKey for the same id reports domain.ErrNotFound.
func (s *PreKeyFileStore) TakePreKey(id uint32) (domain.OneTimePreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, oneTimeFile)
	m := map[uint32]domain.OneTimePreKeyRecord{}
	if err := readJSON(path, &m); err != nil {
		return domain.OneTimePreKeyRecord{}, err
	}
	rec, ok := m[id]
	if !ok {
		return domain.OneTimePreKeyRecord{}, domain.ErrNotFound
	}
	delete(m, id)
	if err := writeJSON(path, m, 0o600); err != nil {
		return domain.OneTimePreKeyRecord{}, err
	}
	return rec, nil
}

func (s *PreKeyFileStore) ListPreKeys() ([]domain.OneTimePreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[uint32]domain.OneTimePreKeyRecord{}
	if err := readJSON(filepath.Join(s.dir, oneTimeFile), &m); err != nil {
		return nil, err
	}
	out := make([]domain.OneTimePreKeyRecord, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out, nil
}

func (s *PreKeyFileStore) CountPreKeys() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[uint32]domain.OneTimePreKeyRecord{}
	if err := readJSON(filepath.Join(s.dir, oneTimeFile), &m); err != nil {
		return 0, err
	}
	return len(m), nil
}

// AllocatePreKeyIDs advances the persistent id counter by n and returns the
// first id of the reserved block.
func (s *PreKeyFileStore) AllocatePreKeyIDs(n int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, prekeyMetaFile)
	var meta prekeyMeta
	if err := readJSON(path, &meta); err != nil {
		return 0, err
	}
	first := meta.LastOneTimePreKeyID + 1
	meta.LastOneTimePreKeyID += uint32(n)
	if err := writeJSON(path, meta, 0o600); err != nil {
		return 0, err
	}
	return first, nil
}

func (s *PreKeyFileStore) LastOfferedPreKeyID() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta prekeyMeta
	if err := readJSON(filepath.Join(s.dir, prekeyMetaFile), &meta); err != nil {
		return 0, err
	}
	return meta.LastOfferedPreKeyID, nil
}

func (s *PreKeyFileStore) SetLastOfferedPreKeyID(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, prekeyMetaFile)
	var meta prekeyMeta
	if err := readJSON(path, &meta); err != nil {
		return err
	}
	if id <= meta.LastOfferedPreKeyID {
		return nil
	}
	meta.LastOfferedPreKeyID = id
	return writeJSON(path, meta, 0o600)
}

// ---------- Signed prekeys ----------

func (s *PreKeyFileStore) SaveSignedPreKey(rec domain.SignedPreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, signedFile)
	m := map[uint32]domain.SignedPreKeyRecord{}
	_ = readJSON(path, &m)
	m[rec.ID] = rec
	return writeJSON(path, m, 0o600)
}

func (s *PreKeyFileStore) LoadSignedPreKey(id uint32) (domain.SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[uint32]domain.SignedPreKeyRecord{}
	if err := readJSON(filepath.Join(s.dir, signedFile), &m); err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	rec, ok := m[id]
	if !ok {
		return domain.SignedPreKeyRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *PreKeyFileStore) CurrentSignedPreKey() (domain.SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta prekeyMeta
	if err := readJSON(filepath.Join(s.dir, prekeyMetaFile), &meta); err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	if meta.CurrentSignedPreKeyID == 0 {
		return domain.SignedPreKeyRecord{}, domain.ErrNotFound
	}
	m := map[uint32]domain.SignedPreKeyRecord{}
	if err := readJSON(filepath.Join(s.dir, signedFile), &m); err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	rec, ok := m[meta.CurrentSignedPreKeyID]
	if !ok {
		return domain.SignedPreKeyRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *PreKeyFileStore) SetCurrentSignedPreKeyID(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The meta file also carries the one-time prekey counters; read-modify-
	// write so they survive.
	path := filepath.Join(s.dir, prekeyMetaFile)
	var meta prekeyMeta
	if err := readJSON(path, &meta); err != nil {
		return err
	}
	meta.CurrentSignedPreKeyID = id
	return writeJSON(path, meta, 0o600)
}

func (s *PreKeyFileStore) ListSignedPreKeys() ([]domain.SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[uint32]domain.SignedPreKeyRecord{}
	if err := readJSON(filepath.Join(s.dir, signedFile), &m); err != nil {
		return nil, err
	}
	out := make([]domain.SignedPreKeyRecord, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out, nil
}

func (s *PreKeyFileStore) DeleteSignedPreKey(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, signedFile)
	m := map[uint32]domain.SignedPreKeyRecord{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	delete(m, id)
	return writeJSON(path, m, 0o600)
}

var (
	_ domain.PreKeyStore       = (*PreKeyFileStore)(nil)
	_ domain.SignedPreKeyStore = (*PreKeyFileStore)(nil)
	_ domain.RegistrationStore = (*PreKeyFileStore)(nil)
)
