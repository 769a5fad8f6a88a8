package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, 2*time.Minute), mr
}

func sampleSnapshot(userID string) *Snapshot {
	return &Snapshot{
		UserID: userID,
		Records: []domain.RemoteRecord{
			{ID: "r1", CustomerID: userID, ProductID: "p1", Quantity: 2},
			{ID: "r2", CustomerID: userID, ProductID: "p2", Quantity: 1},
		},
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestRedisGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)

	data, err := json.Marshal(sampleSnapshot("user123"))
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey("user123"), string(data)))

	got, err := cache.Get(context.Background(), "user123")
	require.NoError(t, err)
	assert.Equal(t, "user123", got.UserID)
	assert.Len(t, got.Records, 2)
	assert.Equal(t, "r1", got.Records[0].ID)
}

func TestRedisGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	got, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestRedisGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("user123"), `{"user_id":`))

	_, err := cache.Get(context.Background(), "user123")
	require.ErrorContains(t, err, "unmarshal snapshot failed")
}

func TestRedisSet_StoresWithJitteredTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)

	require.NoError(t, cache.Set(context.Background(), "user456", sampleSnapshot("user456")))

	stored, err := mr.Get(cacheKey("user456"))
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(stored), &snap))
	assert.Equal(t, "user456", snap.UserID)

	ttl := mr.TTL(cacheKey("user456"))
	assert.GreaterOrEqual(t, ttl, 2*time.Minute)
	assert.LessOrEqual(t, ttl, 2*time.Minute+30*time.Second)
}

func TestRedisDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, cache.Set(context.Background(), "user999", sampleSnapshot("user999")))
	assert.True(t, mr.Exists(cacheKey("user999")))

	require.NoError(t, cache.Delete(context.Background(), "user999"))
	assert.False(t, mr.Exists(cacheKey("user999")))

	// deleting a missing key is not an error
	assert.NoError(t, cache.Delete(context.Background(), "nonexistent"))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cartsync:snapshot:test123", cacheKey("test123"))
}
