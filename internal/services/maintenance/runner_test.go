package maintenance_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"keymesh/internal/directory"
	"keymesh/internal/services/keygen"
	"keymesh/internal/services/maintenance"
	"keymesh/internal/store"
)

func newFixture(t *testing.T) (*maintenance.Runner, *keygen.Service, *store.MemoryStore, *directory.Client) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	storage := directory.NewMemoryStorage()
	srv := httptest.NewServer(directory.NewServer(storage, logger).Router())
	t.Cleanup(srv.Close)
	client := directory.NewClient(srv.URL, 5*time.Second, 10)

	ms := store.NewMemoryStore()
	keys := keygen.New(ms, ms, ms, ms, "alice", 1, logger)
	runner := maintenance.New(keys, client, "alice", 1, maintenance.Config{
		Interval:           time.Hour,
		SignedPreKeyMaxAge: 48 * time.Hour,
		SignedPreKeyGrace:  7 * 24 * time.Hour,
		ReplenishThreshold: 10,
	}, logger)
	return runner, keys, ms, client
}

func TestRunOnceRotatesStaleSignedPreKey(t *testing.T) {
	runner, keys, ms, client := newFixture(t)
	ctx := context.Background()

	bundle, oneTime, err := keys.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, bundle, oneTime))
	require.NoError(t, keys.MarkPreKeysOffered(oneTime[len(oneTime)-1].ID))

	// Backdate the current record past the max age.
	cur, err := ms.CurrentSignedPreKey()
	require.NoError(t, err)
	cur.CreatedAt = time.Now().Add(-72 * time.Hour).Unix()
	require.NoError(t, ms.SaveSignedPreKey(cur))

	runner.RunOnce(ctx)

	rotated, err := ms.CurrentSignedPreKey()
	require.NoError(t, err)
	require.NotEqual(t, cur.ID, rotated.ID)

	// The republished bundle advertises the new signed prekey.
	got, err := client.FetchBundle(ctx, "alice", 1)
	require.NoError(t, err)
	require.Equal(t, rotated.ID, got.SignedPreKeyID)
}

func TestRunOnceReplenishesDirectoryPool(t *testing.T) {
	runner, keys, _, client := newFixture(t)
	ctx := context.Background()

	bundle, oneTime, err := keys.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, bundle, oneTime))
	require.NoError(t, keys.MarkPreKeysOffered(oneTime[len(oneTime)-1].ID))

	// Drain the directory pool below the threshold of 10.
	for i := 0; i < len(oneTime)-5; i++ {
		_, err := client.FetchBundle(ctx, "alice", 1)
		require.NoError(t, err)
	}
	status, err := client.CheckPreKeyStatus(ctx, "alice", 1)
	require.NoError(t, err)
	require.True(t, status.NeedsReplenishment)

	runner.RunOnce(ctx)

	status, err = client.CheckPreKeyStatus(ctx, "alice", 1)
	require.NoError(t, err)
	require.False(t, status.NeedsReplenishment)
	require.Equal(t, keygen.DefaultPoolSize, status.Remaining)
}

func TestRunOnceDoesNotReofferHandedOutPreKeys(t *testing.T) {
	runner, keys, _, client := newFixture(t)
	ctx := context.Background()

	bundle, oneTime, err := keys.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, bundle, oneTime))
	require.NoError(t, keys.MarkPreKeysOffered(oneTime[len(oneTime)-1].ID))

	// Peers take most of the pool; those ids are spent forever.
	handedOut := map[uint32]bool{}
	for i := 0; i < len(oneTime)-5; i++ {
		got, err := client.FetchBundle(ctx, "alice", 1)
		require.NoError(t, err)
		require.NotNil(t, got.OneTimePreKey)
		handedOut[got.OneTimePreKey.ID] = true
	}

	runner.RunOnce(ctx)

	// Drain whatever the runner left on the server. Every id must be one
	// the directory has never handed out before.
	for {
		got, err := client.FetchBundle(ctx, "alice", 1)
		require.NoError(t, err)
		if got.OneTimePreKey == nil {
			break
		}
		require.False(t, handedOut[got.OneTimePreKey.ID],
			"prekey %d offered again after being handed out", got.OneTimePreKey.ID)
		handedOut[got.OneTimePreKey.ID] = true
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	runner, keys, _, client := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	bundle, oneTime, err := keys.GenerateInitialKeyBundle(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, bundle, oneTime))

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}
