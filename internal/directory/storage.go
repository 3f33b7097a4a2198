package directory

import (
	"context"

	"keymesh/internal/domain"
)

// BundleRecord is what a device publishes: the static bundle fields plus the
// one-time prekey publics being offered with this upload.
type BundleRecord struct {
	Static  domain.PreKeyBundle          `json:"static"`
	OneTime []domain.OneTimePreKeyPublic `json:"one_time"`
}

// Storage is the directory server's persistence backend.
type Storage interface {
	// PutBundle upserts the bundle document for (user, device), appends the
	// offered one-time prekeys to its pool, and flips the device's
	// protocol-capable flag. The pool is append-only on the publish side;
	// it shrinks only through TakeBundle or DeleteDevice, so a handed-out
	// id can never reappear.
	PutBundle(ctx context.Context, user string, device uint32, rec BundleRecord) error
	// TakeBundle returns the static bundle with at most one one-time prekey
	// attached; the returned prekey has been removed from the pool before
	// TakeBundle returns. domain.ErrNotFound when no bundle exists.
	TakeBundle(ctx context.Context, user string, device uint32) (domain.PreKeyBundle, error)
	CountOneTime(ctx context.Context, user string, device uint32) (int, error)
	ListDevices(ctx context.Context, user string) ([]domain.DeviceInfo, error)
	DeleteDevice(ctx context.Context, user string, device uint32) error
}
