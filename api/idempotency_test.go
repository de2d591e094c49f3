package api

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseIdempotencyStore runs the reserve/complete/release contract
// against any implementation.
func exerciseIdempotencyStore(t *testing.T, s IdempotencyStore, key string) {
	t.Helper()
	ctx := context.Background()

	// GIVEN: a new key
	_, reserved, err := s.Reserve(ctx, key, "hash-a")
	require.NoError(t, err)
	require.True(t, reserved)

	// WHEN: reserved again before completion
	rec, reserved, err := s.Reserve(ctx, key, "hash-a")
	require.NoError(t, err)

	// THEN: the pending record comes back
	assert.False(t, reserved)
	assert.True(t, rec.Pending)
	assert.Equal(t, "hash-a", rec.RequestHash)

	// WHEN: completed
	require.NoError(t, s.Complete(ctx, key, IdempotencyRecord{RequestHash: "hash-a", Status: 201, Body: []byte(`{"ok":true}`)}))
	rec, reserved, err = s.Reserve(ctx, key, "hash-b")
	require.NoError(t, err)

	// THEN: the stored response is returned with its original hash
	assert.False(t, reserved)
	assert.False(t, rec.Pending)
	assert.Equal(t, 201, rec.Status)
	assert.Equal(t, "hash-a", rec.RequestHash)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Body))

	// WHEN: released
	require.NoError(t, s.Release(ctx, key))
	_, reserved, err = s.Reserve(ctx, key, "hash-b")
	require.NoError(t, err)
	assert.True(t, reserved)
	require.NoError(t, s.Release(ctx, key))
}

func TestMemoryIdempotencyStore_Contract(t *testing.T) {
	exerciseIdempotencyStore(t, NewMemoryIdempotencyStore(time.Hour), "k")
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryIdempotencyStore(time.Minute)
	s.now = func() time.Time { return now }

	_, reserved, err := s.Reserve(ctx, "k1", "h")
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, s.Complete(ctx, "k1", IdempotencyRecord{RequestHash: "h", Status: 201}))

	now = now.Add(30 * time.Second)
	_, reserved, err = s.Reserve(ctx, "k2", "h")
	require.NoError(t, err)
	require.True(t, reserved)
	assert.Equal(t, 2, s.Len())

	// k1 expires a minute after completion, k2 a minute after reservation
	now = now.Add(31 * time.Second)
	assert.Equal(t, 1, s.Len())
	_, reserved, err = s.Reserve(ctx, "k1", "other")
	require.NoError(t, err)
	assert.True(t, reserved, "expired keys can be reused")
}

func TestHashRequest(t *testing.T) {
	assert.Equal(t, hashRequest([]byte(`{"a":1}`)), hashRequest([]byte(`{"a":1}`)))
	assert.NotEqual(t, hashRequest([]byte(`{"a":1}`)), hashRequest([]byte(`{"a":2}`)))
	assert.Len(t, hashRequest(nil), 64)
}

func TestRedisIdempotencyStore_Contract(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	s := NewRedisIdempotencyStore(client, time.Minute)
	key := "test-" + uuid.NewString()
	exerciseIdempotencyStore(t, s, key)

	ttl, err := client.TTL(context.Background(), s.prefix+key).Result()
	require.NoError(t, err)
	assert.True(t, ttl < 0, "released key is gone")
}
