package store

import (
	"path/filepath"
	"sync"

	"keymesh/internal/domain"
)

const sessionsFilename = "sessions.json"

// SessionFileStore persists per-address session records to disk.
type SessionFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewSessionFileStore returns a SessionFileStore rooted at dir.
func NewSessionFileStore(dir string) *SessionFileStore {
	return &SessionFileStore{dir: dir}
}

// SaveSession writes the session record keyed by its address.
func (s *SessionFileStore) SaveSession(rec domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, sessionsFilename)
	m := map[string]domain.SessionRecord{}
	_ = readJSON(path, &m)
	m[rec.Address.String()] = rec
	return writeJSON(path, m, 0o600)
}

// LoadSession retrieves the session for addr.
func (s *SessionFileStore) LoadSession(addr domain.ProtocolAddress) (domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[string]domain.SessionRecord{}
	if err := readJSON(filepath.Join(s.dir, sessionsFilename), &m); err != nil {
		return domain.SessionRecord{}, err
	}
	rec, ok := m[addr.String()]
	if !ok {
		return domain.SessionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// HasSession reports whether a session exists for addr.
func (s *SessionFileStore) HasSession(addr domain.ProtocolAddress) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[string]domain.SessionRecord{}
	if err := readJSON(filepath.Join(s.dir, sessionsFilename), &m); err != nil {
		return false, err
	}
	_, ok := m[addr.String()]
	return ok, nil
}

// DeleteSession removes the session for addr, if any.
func (s *SessionFileStore) DeleteSession(addr domain.ProtocolAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, sessionsFilename)
	m := map[string]domain.SessionRecord{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	delete(m, addr.String())
	return writeJSON(path, m, 0o600)
}

var _ domain.SessionStore = (*SessionFileStore)(nil)
