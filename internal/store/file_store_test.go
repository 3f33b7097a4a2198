package store_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"keymesh/internal/crypto"
	"keymesh/internal/domain"
	"keymesh/internal/store"
)

func TestSecureStore_SaveLoad(t *testing.T) {
	s := store.NewSecureFileStore(t.TempDir(), "pass")

	_, err := s.LoadIdentity()
	require.ErrorIs(t, err, domain.ErrNotFound)

	id := domain.Identity{
		XPub:  domain.X25519Public{1},
		XPriv: domain.X25519Private{2},
		EdPub: domain.Ed25519Public{3},
	}
	require.NoError(t, s.SaveIdentity(id))

	got, err := s.LoadIdentity()
	require.NoError(t, err)
	require.Equal(t, id.XPub, got.XPub)
	require.Equal(t, id.EdPub, got.EdPub)
}

func TestSecureStore_WrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, store.NewSecureFileStore(dir, "correct").SaveIdentity(domain.Identity{XPub: domain.X25519Public{1}}))

	_, err := store.NewSecureFileStore(dir, "wrong").LoadIdentity()
	require.Error(t, err)
}

func TestPreKeyStore_TakeIsExactlyOnce(t *testing.T) {
	s := store.NewPreKeyFileStore(t.TempDir())

	recs := []domain.OneTimePreKeyRecord{
		{ID: 1, Pub: domain.X25519Public{1}},
		{ID: 2, Pub: domain.X25519Public{2}},
	}
	require.NoError(t, s.SavePreKeys(recs))

	got, err := s.TakePreKey(1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.ID)

	_, err = s.LoadPreKey(1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.TakePreKey(1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	n, err := s.CountPreKeys()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPreKeyStore_ConcurrentTakeSingleWinner(t *testing.T) {
	s := store.NewPreKeyFileStore(t.TempDir())
	require.NoError(t, s.SavePreKeys([]domain.OneTimePreKeyRecord{{ID: 9}}))

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TakePreKey(9); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	require.Len(t, wins, 1, "exactly one taker may win")
}

func TestSignedPreKeyStore_CurrentAndRetention(t *testing.T) {
	s := store.NewPreKeyFileStore(t.TempDir())

	_, err := s.CurrentSignedPreKey()
	require.ErrorIs(t, err, domain.ErrNotFound)

	old := domain.SignedPreKeyRecord{ID: 100, CreatedAt: 1000}
	cur := domain.SignedPreKeyRecord{ID: 200, CreatedAt: 2000}
	require.NoError(t, s.SaveSignedPreKey(old))
	require.NoError(t, s.SetCurrentSignedPreKeyID(old.ID))
	require.NoError(t, s.SaveSignedPreKey(cur))
	require.NoError(t, s.SetCurrentSignedPreKeyID(cur.ID))

	got, err := s.CurrentSignedPreKey()
	require.NoError(t, err)
	require.Equal(t, cur.ID, got.ID)

	// The superseded record is still loadable until explicitly deleted.
	got, err = s.LoadSignedPreKey(old.ID)
	require.NoError(t, err)
	require.Equal(t, old.ID, got.ID)

	require.NoError(t, s.DeleteSignedPreKey(old.ID))
	_, err = s.LoadSignedPreKey(old.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPreKeyStore_IDAllocatorSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	s := store.NewPreKeyFileStore(dir)

	first, err := s.AllocatePreKeyIDs(10)
	require.NoError(t, err)
	require.Equal(t, uint32(1), first)

	// Interleaved meta writes must not clobber the counters.
	require.NoError(t, s.SetCurrentSignedPreKeyID(7))
	require.NoError(t, s.SetLastOfferedPreKeyID(10))
	require.NoError(t, s.SetLastOfferedPreKeyID(3), "watermark never moves backwards")

	// A new store over the same directory continues where the old one left
	// off, even though none of the allocated records were ever saved.
	reopened := store.NewPreKeyFileStore(dir)
	next, err := reopened.AllocatePreKeyIDs(5)
	require.NoError(t, err)
	require.Equal(t, uint32(11), next)

	offered, err := reopened.LastOfferedPreKeyID()
	require.NoError(t, err)
	require.Equal(t, uint32(10), offered)
}

func TestRegistrationID_RoundTrip(t *testing.T) {
	s := store.NewPreKeyFileStore(t.TempDir())

	_, err := s.LoadRegistrationID()
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SaveRegistrationID(0xABCDEF))
	id, err := s.LoadRegistrationID()
	require.NoError(t, err)
	require.Equal(t, uint32(0xABCDEF), id)

	require.Error(t, s.SaveRegistrationID(1<<24), "24-bit bound enforced")
}

func TestSessionStore_RoundTrip(t *testing.T) {
	s := store.NewSessionFileStore(t.TempDir())
	addr := domain.ProtocolAddress{UserID: "bob", DeviceID: 2}

	ok, err := s.HasSession(addr)
	require.NoError(t, err)
	require.False(t, ok)

	rec := domain.SessionRecord{Address: addr, CreatedUTC: 123}
	require.NoError(t, s.SaveSession(rec))

	got, err := s.LoadSession(addr)
	require.NoError(t, err)
	require.Equal(t, addr, got.Address)

	// Same user, different device: distinct session slot.
	_, err = s.LoadSession(domain.ProtocolAddress{UserID: "bob", DeviceID: 3})
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.DeleteSession(addr))
	_, err = s.LoadSession(addr)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTrustStore_TrustOnFirstUse(t *testing.T) {
	s := store.NewTrustFileStore(t.TempDir())
	addr := domain.ProtocolAddress{UserID: "carol", DeviceID: 1}

	_, keyA, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, keyB, err := crypto.GenerateX25519()
	require.NoError(t, err)

	// Never seen: trusted unconditionally.
	ok, err := s.IsTrustedIdentity(addr, keyA, domain.DirectionSending)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.SaveTrustedIdentity(addr, keyA))

	ok, err = s.IsTrustedIdentity(addr, keyA, domain.DirectionSending)
	require.NoError(t, err)
	require.True(t, ok)

	// A different key for the same address is a mismatch.
	ok, err = s.IsTrustedIdentity(addr, keyB, domain.DirectionReceiving)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTrustStore_KeyChangeClearsVerified(t *testing.T) {
	s := store.NewTrustFileStore(t.TempDir())
	addr := domain.ProtocolAddress{UserID: "carol", DeviceID: 1}

	_, keyA, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, keyB, err := crypto.GenerateX25519()
	require.NoError(t, err)

	require.NoError(t, s.SaveTrustedIdentity(addr, keyA))
	require.NoError(t, s.MarkVerified(addr, true))

	rec, err := s.LoadTrustedIdentity(addr)
	require.NoError(t, err)
	require.True(t, rec.Verified)

	// Re-recording the same key keeps the verified flag.
	require.NoError(t, s.SaveTrustedIdentity(addr, keyA))
	rec, err = s.LoadTrustedIdentity(addr)
	require.NoError(t, err)
	require.True(t, rec.Verified)

	// A new key resets the record to unverified.
	require.NoError(t, s.SaveTrustedIdentity(addr, keyB))
	rec, err = s.LoadTrustedIdentity(addr)
	require.NoError(t, err)
	require.False(t, rec.Verified)
}
