package keygen_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"keymesh/internal/crypto"
	"keymesh/internal/domain"
	"keymesh/internal/services/keygen"
	"keymesh/internal/store"
)

func newService(t *testing.T) (*keygen.Service, *store.MemoryStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ms := store.NewMemoryStore()
	return keygen.New(ms, ms, ms, ms, "alice", 1, logger), ms
}

func TestGenerateInitialKeyBundle(t *testing.T) {
	svc, _ := newService(t)

	bundle, oneTime, err := svc.GenerateInitialKeyBundle(context.Background())
	require.NoError(t, err)

	require.Equal(t, "alice", bundle.UserID)
	require.Equal(t, uint32(1), bundle.DeviceID)
	require.LessOrEqual(t, bundle.RegistrationID, uint32(domain.MaxRegistrationID))
	require.False(t, bundle.IdentityKey.IsZero())
	require.Len(t, oneTime, keygen.DefaultPoolSize)
	for i, opk := range oneTime {
		require.Equal(t, uint32(i+1), opk.ID, "fresh pool ids start at 1 and are consecutive")
	}

	// The signed prekey signature must verify against the signing key.
	require.True(t, crypto.VerifyEd25519(bundle.SigningKey, bundle.SignedPreKey.Slice(), bundle.SignedPreKeySignature))
}

func TestOfferedPreKeysExcludedFromLaterBundles(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, oneTime, err := svc.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.MarkPreKeysOffered(oneTime[len(oneTime)-1].ID))

	// Everything is already offered, so a re-publish carries no prekeys.
	_, again, err := svc.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestGenerateInitialKeyBundleIsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, _, err := svc.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)
	second, _, err := svc.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)

	require.Equal(t, first.IdentityKey, second.IdentityKey)
	require.Equal(t, first.RegistrationID, second.RegistrationID)
	require.Equal(t, first.SignedPreKeyID, second.SignedPreKeyID)
}

func TestShouldRotateSignedPreKey(t *testing.T) {
	svc, ms := newService(t)
	ctx := context.Background()

	// No signed prekey yet: rotation is due.
	due, err := svc.ShouldRotateSignedPreKey(48 * time.Hour)
	require.NoError(t, err)
	require.True(t, due)

	_, _, err = svc.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)

	due, err = svc.ShouldRotateSignedPreKey(48 * time.Hour)
	require.NoError(t, err)
	require.False(t, due)

	// Backdate the current record beyond the max age.
	cur, err := ms.CurrentSignedPreKey()
	require.NoError(t, err)
	cur.CreatedAt = time.Now().Add(-72 * time.Hour).Unix()
	require.NoError(t, ms.SaveSignedPreKey(cur))

	due, err = svc.ShouldRotateSignedPreKey(48 * time.Hour)
	require.NoError(t, err)
	require.True(t, due)
}

func TestRotateRetainsSupersededRecord(t *testing.T) {
	svc, ms := newService(t)
	ctx := context.Background()

	bundle, _, err := svc.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)
	oldID := bundle.SignedPreKeyID

	rotated, err := svc.RotateSignedPreKey(ctx)
	require.NoError(t, err)
	require.NotEqual(t, oldID, rotated.ID)

	cur, err := ms.CurrentSignedPreKey()
	require.NoError(t, err)
	require.Equal(t, rotated.ID, cur.ID)

	// The old private half is still loadable for in-flight handshakes.
	_, err = ms.LoadSignedPreKey(oldID)
	require.NoError(t, err)
}

func TestRotateWithoutIdentityFails(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.RotateSignedPreKey(context.Background())
	require.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestReplenishPreKeysNeverReissuesConsumedIDs(t *testing.T) {
	svc, ms := newService(t)
	ctx := context.Background()

	_, oneTime, err := svc.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.MarkPreKeysOffered(oneTime[len(oneTime)-1].ID))

	// Directory pool still healthy: no-op.
	n, err := svc.ReplenishPreKeys(ctx, keygen.DefaultPoolSize, 10)
	require.NoError(t, err)
	require.Zero(t, n)

	// Peers consume all but the first 5 prekeys.
	recs, err := ms.ListPreKeys()
	require.NoError(t, err)
	consumed := map[uint32]bool{}
	for _, rec := range recs[5:] {
		_, err := ms.TakePreKey(rec.ID)
		require.NoError(t, err)
		consumed[rec.ID] = true
	}

	n, err = svc.ReplenishPreKeys(ctx, 5, 10)
	require.NoError(t, err)
	require.Equal(t, keygen.DefaultPoolSize-5, n)

	count, err := ms.CountPreKeys()
	require.NoError(t, err)
	require.Equal(t, keygen.DefaultPoolSize, count)

	// A consumed id must never come back: a peer could hold an initial
	// message naming it, and a reissued record would shadow the original.
	recs, err = ms.ListPreKeys()
	require.NoError(t, err)
	seen := map[uint32]bool{}
	for _, rec := range recs {
		require.False(t, consumed[rec.ID], "fresh prekey reuses consumed id %d", rec.ID)
		require.False(t, seen[rec.ID], "duplicate id %d in pool", rec.ID)
		seen[rec.ID] = true
	}
}

func TestReplenishCountsPendingUnofferedKeys(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	// A full local pool that was never offered already covers the deficit.
	_, _, err := svc.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)

	n, err := svc.ReplenishPreKeys(ctx, 0, 10)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeleteExpiredSignedPreKeys(t *testing.T) {
	svc, ms := newService(t)
	ctx := context.Background()

	_, _, err := svc.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)

	stale := domain.SignedPreKeyRecord{
		ID:        1,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour).Unix(),
	}
	fresh := domain.SignedPreKeyRecord{
		ID:        2,
		CreatedAt: time.Now().Add(-time.Hour).Unix(),
	}
	require.NoError(t, ms.SaveSignedPreKey(stale))
	require.NoError(t, ms.SaveSignedPreKey(fresh))

	deleted, err := svc.DeleteExpiredSignedPreKeys(7 * 24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = ms.LoadSignedPreKey(stale.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = ms.LoadSignedPreKey(fresh.ID)
	require.NoError(t, err)
}
