package hotstore

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func TestRedisStore_Connect(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Ping(ctx))
}

func TestRedisStore_KV(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.KVSet(ctx, "k", []byte("v"), 0))
	val, err := s.KVGet(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	n, err := s.KVExists(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.KVDel(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	val, err = s.KVGet(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisStore_KVExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.KVSet(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	val, err := s.KVGet(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, s.KVSet(ctx, "k2", []byte("v"), 0))
	ok, err := s.KVExpire(ctx, "k2", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	mr.FastForward(2 * time.Second)
	val, err = s.KVGet(ctx, "k2")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisStore_Hash(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, ok, err := s.HashGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.HashSet(ctx, "h", "f", "v"))
	val, ok, err := s.HashGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestRedisStore_LogAppendAndRange(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	id1, err := s.LogAppend(ctx, "log", map[string]string{"n": "1"}, 0)
	require.NoError(t, err)
	id2, err := s.LogAppend(ctx, "log", map[string]string{"n": "2"}, 0)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	n, err := s.LogLen(ctx, "log")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := s.LogRange(ctx, "log", "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id1, entries[0].ID)
	assert.Equal(t, "1", entries[0].Fields["n"])
}

func TestRedisStore_LogAppendBatch(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	ids, err := s.LogAppendBatch(ctx, "log", []map[string]string{
		{"n": "1"}, {"n": "2"}, {"n": "3"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	n, err := s.LogLen(ctx, "log")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRedisStore_GroupLifecycle(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.GroupCreate(ctx, "log", "g", "0"))
	assert.ErrorIs(t, s.GroupCreate(ctx, "log", "g", "0"), ErrGroupExists)

	info, err := s.LogInfo(ctx, "log")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Length)

	require.NoError(t, s.GroupDestroy(ctx, "log", "g"))
}

func TestRedisStore_GroupReadAndAck(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.GroupCreate(ctx, "log", "g", "0"))
	id, err := s.LogAppend(ctx, "log", map[string]string{"n": "1"}, 0)
	require.NoError(t, err)

	entries, err := s.GroupRead(ctx, "log", "g", "c1", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "1", entries[0].Fields["n"])

	// No redelivery of in-flight entries on ">".
	entries, err = s.GroupRead(ctx, "log", "g", "c1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	pending, err := s.GroupPending(ctx, "log", "g", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].Consumer)

	n, err := s.GroupAck(ctx, "log", "g", id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err = s.GroupPending(ctx, "log", "g", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRedisStore_GroupRead_NoGroup(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.LogAppend(ctx, "log", map[string]string{"n": "1"}, 0)
	require.NoError(t, err)

	_, err = s.GroupRead(ctx, "log", "missing", "c", 0, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_GroupClaim(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.GroupCreate(ctx, "log", "g", "0"))
	id, err := s.LogAppend(ctx, "log", map[string]string{"n": "1"}, 0)
	require.NoError(t, err)
	_, err = s.GroupRead(ctx, "log", "g", "c1", 0, 10)
	require.NoError(t, err)

	mr.FastForward(time.Minute)

	entries, err := s.GroupClaim(ctx, "log", "g", "c2", 30*time.Second, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	pending, err := s.GroupPending(ctx, "log", "g", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c2", pending[0].Consumer)
}

func TestRedisStore_ZSet(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.ZAdd(ctx, "z", 3, "c"))
	require.NoError(t, s.ZAdd(ctx, "z", 1, "a"))
	require.NoError(t, s.ZAdd(ctx, "z", 2, "b"))

	members, err := s.ZRangeByScore(ctx, "z", 0, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	n, err := s.ZRem(ctx, "z", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	card, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)
}

func TestFormatScore(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected string
	}{
		{"negative infinity", math.Inf(-1), "-inf"},
		{"positive infinity", math.Inf(1), "+inf"},
		{"integer", 42, "42"},
		{"fraction", 1.5, "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatScore(tt.score))
		})
	}
}
