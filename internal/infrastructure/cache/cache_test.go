package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatweave/spatweave/internal/domain/neighbors"
)

func testGraph() *neighbors.Graph {
	return &neighbors.Graph{
		IDs:       []string{"c1", "c2", "c3"},
		K:         2,
		Neighbors: [][]int{{1, 2}, {0, 2}, {0, 1}},
		Dists:     [][]float64{{1, 2}, {1, 1}, {2, 1}},
		Bearings:  [][]float64{{0, 1.5}, {3.1, 0}, {-1.5, -3.1}},
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "spatweave:graph:abc123:k18:sample", Key("abc123", 18, "sample"))
	assert.Equal(t, "spatweave:graph:abc123:k5:-", Key("abc123", 5, ""))
}

func TestRedisGraphCacheGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisWithClient(db, time.Minute)
	ctx := context.Background()
	key := Key("abc", 2, "")

	t.Run("hit", func(t *testing.T) {
		g := testGraph()
		data, err := json.Marshal(envelope{CachedAt: time.Unix(100, 0).UTC(), Graph: g})
		require.NoError(t, err)
		mock.ExpectGet(key).SetVal(string(data))

		got, found, err := c.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, g, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet(key).RedisNil()

		got, found, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("backend error", func(t *testing.T) {
		mock.ExpectGet(key).SetErr(redis.TxFailedErr)

		_, found, err := c.Get(ctx, key)
		require.Error(t, err)
		assert.False(t, found)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt payload", func(t *testing.T) {
		mock.ExpectGet(key).SetVal("{not json")

		_, found, err := c.Get(ctx, key)
		require.Error(t, err)
		assert.False(t, found)
	})

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Errors)
}

func TestRedisGraphCacheSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisWithClient(db, time.Minute)
	ctx := context.Background()
	key := Key("abc", 2, "sample")

	fixed := time.Unix(1700000000, 0)
	nowFn = func() time.Time { return fixed }
	defer func() { nowFn = time.Now }()

	g := testGraph()
	data, err := json.Marshal(envelope{CachedAt: fixed.UTC(), Graph: g})
	require.NoError(t, err)

	mock.ExpectSet(key, data, time.Minute).SetVal("OK")
	require.NoError(t, c.Set(ctx, key, g))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectSet(key, data, time.Minute).SetErr(redis.TxFailedErr)
	require.Error(t, c.Set(ctx, key, g))
	assert.Equal(t, int64(1), c.Stats().Errors)
}

func TestRedisGraphCacheRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisWithClient(db, time.Hour)
	ctx := context.Background()
	key := Key("roundtrip", 2, "")

	fixed := time.Unix(1700000000, 0)
	nowFn = func() time.Time { return fixed }
	defer func() { nowFn = time.Now }()

	g := testGraph()
	data, err := json.Marshal(envelope{CachedAt: fixed.UTC(), Graph: g})
	require.NoError(t, err)

	mock.ExpectSet(key, data, time.Hour).SetVal("OK")
	mock.ExpectGet(key).SetVal(string(data))

	require.NoError(t, c.Set(ctx, key, g))
	got, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, g.Neighbors, got.Neighbors)
	assert.Equal(t, g.Bearings, got.Bearings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNop(t *testing.T) {
	var c GraphCache = Nop{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", testGraph()))
	got, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
	assert.Equal(t, Stats{}, c.Stats())
	require.NoError(t, c.Close())
}
