package directory

import (
	"context"
	"sync"
	"time"

	"keymesh/internal/domain"
)

type deviceKey struct {
	user   string
	device uint32
}

// MemoryStorage is the in-memory Storage backend used by tests and local
// single-process setups.
type MemoryStorage struct {
	mu      sync.Mutex
	bundles map[deviceKey]domain.PreKeyBundle
	oneTime map[deviceKey][]domain.OneTimePreKeyPublic
	devices map[string]map[uint32]domain.DeviceInfo
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		bundles: make(map[deviceKey]domain.PreKeyBundle),
		oneTime: make(map[deviceKey][]domain.OneTimePreKeyPublic),
		devices: make(map[string]map[uint32]domain.DeviceInfo),
	}
}

func (s *MemoryStorage) PutBundle(_ context.Context, user string, device uint32, rec BundleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := deviceKey{user, device}
	s.bundles[k] = rec.Static
	s.oneTime[k] = append(s.oneTime[k], rec.OneTime...)

	if s.devices[user] == nil {
		s.devices[user] = make(map[uint32]domain.DeviceInfo)
	}
	s.devices[user][device] = domain.DeviceInfo{
		DeviceID: device,
		LastSeen: time.Now().Unix(),
		Capable:  true,
	}
	return nil
}

func (s *MemoryStorage) TakeBundle(_ context.Context, user string, device uint32) (domain.PreKeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := deviceKey{user, device}
	bundle, ok := s.bundles[k]
	if !ok {
		return domain.PreKeyBundle{}, domain.ErrNotFound
	}
	if pool := s.oneTime[k]; len(pool) > 0 {
		opk := pool[0]
		s.oneTime[k] = pool[1:]
		bundle.OneTimePreKey = &opk
	}
	return bundle, nil
}

func (s *MemoryStorage) CountOneTime(_ context.Context, user string, device uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.oneTime[deviceKey{user, device}]), nil
}

func (s *MemoryStorage) ListDevices(_ context.Context, user string) ([]domain.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.DeviceInfo, 0, len(s.devices[user]))
	for _, info := range s.devices[user] {
		out = append(out, info)
	}
	return out, nil
}

func (s *MemoryStorage) DeleteDevice(_ context.Context, user string, device uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := deviceKey{user, device}
	delete(s.bundles, k)
	delete(s.oneTime, k)
	if m := s.devices[user]; m != nil {
		delete(m, device)
	}
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
