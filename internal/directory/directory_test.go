package directory_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"keymesh/internal/directory"
	"keymesh/internal/domain"
)

func newTestClient(t *testing.T) (*directory.Client, *directory.MemoryStorage) {
	t.Helper()
	storage := directory.NewMemoryStorage()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := httptest.NewServer(directory.NewServer(storage, logger).Router())
	t.Cleanup(srv.Close)
	return directory.NewClient(srv.URL, 5*time.Second, 10), storage
}

func testBundle(user string, device uint32) domain.PreKeyBundle {
	return domain.PreKeyBundle{
		UserID:         user,
		DeviceID:       device,
		RegistrationID: 42,
		IdentityKey:    domain.X25519Public{1},
		SigningKey:     domain.Ed25519Public{2},
		SignedPreKeyID: 7,
		SignedPreKey:   domain.X25519Public{3},
	}
}

func TestPublishAndFetch(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	oneTime := []domain.OneTimePreKeyPublic{
		{ID: 1, Pub: domain.X25519Public{11}},
		{ID: 2, Pub: domain.X25519Public{12}},
	}
	require.NoError(t, client.Publish(ctx, testBundle("alice", 1), oneTime))

	got, err := client.FetchBundle(ctx, "alice", 1)
	require.NoError(t, err)
	require.Equal(t, uint32(42), got.RegistrationID)
	require.NotNil(t, got.OneTimePreKey)
	require.Equal(t, uint32(1), got.OneTimePreKey.ID)
}

func TestFetchConsumesOneTimePreKeys(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	oneTime := []domain.OneTimePreKeyPublic{{ID: 1}, {ID: 2}}
	require.NoError(t, client.Publish(ctx, testBundle("alice", 1), oneTime))

	seen := map[uint32]bool{}
	for i := 0; i < 2; i++ {
		got, err := client.FetchBundle(ctx, "alice", 1)
		require.NoError(t, err)
		require.NotNil(t, got.OneTimePreKey)
		require.False(t, seen[got.OneTimePreKey.ID], "prekey %d handed out twice", got.OneTimePreKey.ID)
		seen[got.OneTimePreKey.ID] = true
	}

	// Pool exhausted: still a valid bundle, just without a one-time prekey.
	got, err := client.FetchBundle(ctx, "alice", 1)
	require.NoError(t, err)
	require.Nil(t, got.OneTimePreKey)
}

func TestPublishAppendsToPreKeyPool(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Publish(ctx, testBundle("alice", 1), []domain.OneTimePreKeyPublic{{ID: 1}, {ID: 2}}))

	got, err := client.FetchBundle(ctx, "alice", 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.OneTimePreKey.ID)

	// A later publish tops the pool up without resurrecting id 1.
	require.NoError(t, client.Publish(ctx, testBundle("alice", 1), []domain.OneTimePreKeyPublic{{ID: 3}}))

	status, err := client.CheckPreKeyStatus(ctx, "alice", 1)
	require.NoError(t, err)
	require.Equal(t, 2, status.Remaining)

	seen := map[uint32]bool{1: true}
	for i := 0; i < 2; i++ {
		got, err := client.FetchBundle(ctx, "alice", 1)
		require.NoError(t, err)
		require.NotNil(t, got.OneTimePreKey)
		require.False(t, seen[got.OneTimePreKey.ID], "prekey %d handed out twice", got.OneTimePreKey.ID)
		seen[got.OneTimePreKey.ID] = true
	}
}

func TestFetchUnknownDeviceIsNotFound(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.FetchBundle(context.Background(), "nobody", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchUnreachableServerIsBundleFetchFailed(t *testing.T) {
	client := directory.NewClient("http://127.0.0.1:1", 500*time.Millisecond, 10)

	_, err := client.FetchBundle(context.Background(), "alice", 1)
	require.ErrorIs(t, err, domain.ErrBundleFetchFailed)
}

func TestPreKeyStatusThreshold(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	oneTime := make([]domain.OneTimePreKeyPublic, 12)
	for i := range oneTime {
		oneTime[i] = domain.OneTimePreKeyPublic{ID: uint32(i + 1)}
	}
	require.NoError(t, client.Publish(ctx, testBundle("alice", 1), oneTime))

	status, err := client.CheckPreKeyStatus(ctx, "alice", 1)
	require.NoError(t, err)
	require.Equal(t, 12, status.Remaining)
	require.False(t, status.NeedsReplenishment)

	// Burn down below the threshold of 10.
	for i := 0; i < 3; i++ {
		_, err := client.FetchBundle(ctx, "alice", 1)
		require.NoError(t, err)
	}

	status, err = client.CheckPreKeyStatus(ctx, "alice", 1)
	require.NoError(t, err)
	require.Equal(t, 9, status.Remaining)
	require.True(t, status.NeedsReplenishment)
}

func TestListAndDeleteDevices(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Publish(ctx, testBundle("alice", 1), nil))
	require.NoError(t, client.Publish(ctx, testBundle("alice", 2), nil))

	devices, err := client.ListDevices(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	for _, d := range devices {
		require.True(t, d.Capable)
	}

	require.NoError(t, client.DeleteDevice(ctx, "alice", 1))

	devices, err = client.ListDevices(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, uint32(2), devices[0].DeviceID)

	_, err = client.FetchBundle(ctx, "alice", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServerRejectsMismatchedAddress(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	router := directory.NewServer(directory.NewMemoryStorage(), logger).Router()

	// Bundle claims device 2 but is published under device 1.
	body, err := json.Marshal(directory.BundleRecord{Static: testBundle("alice", 2)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/v1/keys/alice/1", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
