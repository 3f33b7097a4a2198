package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"keymesh/internal/domain"
)

const (
	bundleKeyFmt  = "bundle:%s:%d"
	oneTimeKeyFmt = "opks:%s:%d"
	devicesKeyFmt = "devices:%s"
)

// RedisStorage is the production Storage backend. One-time prekeys live in a
// Redis list so that consumption is a single LPOP: two concurrent fetches can
// never receive the same prekey.
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage wraps an already-connected client.
func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

func (s *RedisStorage) PutBundle(ctx context.Context, user string, device uint32, rec BundleRecord) error {
	data, err := json.Marshal(rec.Static)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	info := domain.DeviceInfo{DeviceID: device, LastSeen: time.Now().Unix(), Capable: true}
	infoData, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal device info: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(bundleKeyFmt, user, device), data, 0)
	opkKey := fmt.Sprintf(oneTimeKeyFmt, user, device)
	for _, opk := range rec.OneTime {
		opkData, err := json.Marshal(opk)
		if err != nil {
			return fmt.Errorf("marshal one-time prekey %d: %w", opk.ID, err)
		}
		pipe.RPush(ctx, opkKey, opkData)
	}
	pipe.HSet(ctx, fmt.Sprintf(devicesKeyFmt, user), strconv.FormatUint(uint64(device), 10), infoData)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStorage) TakeBundle(ctx context.Context, user string, device uint32) (domain.PreKeyBundle, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(bundleKeyFmt, user, device)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PreKeyBundle{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PreKeyBundle{}, err
	}

	var bundle domain.PreKeyBundle
	if err := json.Unmarshal([]byte(data), &bundle); err != nil {
		return domain.PreKeyBundle{}, fmt.Errorf("unmarshal bundle: %w", err)
	}

	// LPOP removes the prekey before we ever respond. A lost response burns
	// the prekey rather than risking reuse.
	opkData, err := s.client.LPop(ctx, fmt.Sprintf(oneTimeKeyFmt, user, device)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Pool exhausted: serve the bundle without a one-time prekey.
	case err != nil:
		return domain.PreKeyBundle{}, err
	default:
		var opk domain.OneTimePreKeyPublic
		if err := json.Unmarshal([]byte(opkData), &opk); err != nil {
			return domain.PreKeyBundle{}, fmt.Errorf("unmarshal one-time prekey: %w", err)
		}
		bundle.OneTimePreKey = &opk
	}
	return bundle, nil
}

func (s *RedisStorage) CountOneTime(ctx context.Context, user string, device uint32) (int, error) {
	n, err := s.client.LLen(ctx, fmt.Sprintf(oneTimeKeyFmt, user, device)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStorage) ListDevices(ctx context.Context, user string) ([]domain.DeviceInfo, error) {
	entries, err := s.client.HGetAll(ctx, fmt.Sprintf(devicesKeyFmt, user)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeviceInfo, 0, len(entries))
	for _, raw := range entries {
		var info domain.DeviceInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("unmarshal device info: %w", err)
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *RedisStorage) DeleteDevice(ctx context.Context, user string, device uint32) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(bundleKeyFmt, user, device))
	pipe.Del(ctx, fmt.Sprintf(oneTimeKeyFmt, user, device))
	pipe.HDel(ctx, fmt.Sprintf(devicesKeyFmt, user), strconv.FormatUint(uint64(device), 10))
	_, err := pipe.Exec(ctx)
	return err
}

var _ Storage = (*RedisStorage)(nil)
