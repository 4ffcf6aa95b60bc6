package redis

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"eventWatch/internal/model"
	"eventWatch/internal/store"
)

// setupTestStore starts a Redis container and returns a Store bound to it.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err, "failed to get endpoint")

	s, err := NewStore(ctx, fmt.Sprintf("redis://%s/0", endpoint), "test")
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { s.Close() })

	return s
}

func testRecord(hash string, block uint64) model.EventRecord {
	return model.NewEventRecord(model.RawEvent{
		TxHash:      hash,
		BlockNumber: block,
		Payload:     model.TokensBought{Buyer: "0x1111111111111111111111111111111111111111", TokenAmount: "5"},
	}, 1700000000+block)
}

func TestStore_AppendAndLoad(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	known, err := s.LoadKnownHashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, known)

	require.NoError(t, s.AppendRecords(ctx, []model.EventRecord{testRecord("0xa", 1), testRecord("0xb", 2)}))
	require.NoError(t, s.AppendRecords(ctx, []model.EventRecord{testRecord("0xc", 3)}))

	known, err = s.LoadKnownHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.NewHashSet("0xa", "0xb", "0xc"), known)

	records, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, testRecord("0xa", 1), records[0])
	assert.Equal(t, "0xc", records[2].TransactionHash)
}

func TestStore_RecordsDetectsMissingEntry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendRecords(ctx, []model.EventRecord{testRecord("0xa", 1)}))
	require.NoError(t, s.conn.HDel(ctx, s.recordsKey(), "0xa").Err())

	_, err := s.Records(ctx)
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestStore_AppendKeepsExistingRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	original := testRecord("0xa", 1)
	require.NoError(t, s.AppendRecords(ctx, []model.EventRecord{original}))

	changed := testRecord("0xa", 1)
	changed.Payload = model.TokensBought{Buyer: "0x3333333333333333333333333333333333333333", TokenAmount: "9"}
	require.NoError(t, s.AppendRecords(ctx, []model.EventRecord{changed, testRecord("0xb", 2), testRecord("0xb", 2)}))

	order, err := s.conn.LRange(ctx, s.orderKey(), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"0xa", "0xb"}, order)

	records, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, original, records[0])
}
