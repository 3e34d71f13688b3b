package sharedmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
	"dev.chronow.messaging/internal/messaging"
	"dev.chronow.messaging/internal/warmstore"
)

type session struct {
	User  string `json:"user" bson:"user"`
	Score int    `json:"score" bson:"score"`
}

func newTestEngine() (*Engine, *hotstore.MemStore, *warmstore.MemStore) {
	hot := hotstore.NewMemStore()
	warm := warmstore.NewMemStore()
	return New(hot, warm, keys.New("", "acme", "prod"), 1024, nil), hot, warm
}

func TestEngine_SetGet(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine()

	require.NoError(t, e.Set(ctx, "session", session{User: "ana", Score: 7}))

	var got session
	found, err := e.Get(ctx, "session", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, session{User: "ana", Score: 7}, got)
}

func TestEngine_GetMissing(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine()

	var got session
	found, err := e.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_SetTooLarge(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine()

	big := make([]byte, 2048)
	err := e.Set(ctx, "big", string(big))
	assert.ErrorIs(t, err, messaging.ErrPayloadTooLarge)

	var got string
	found, err := e.Get(ctx, "big", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine()

	require.NoError(t, e.Set(ctx, "k", "v", WithTTL(20*time.Millisecond)))
	time.Sleep(40 * time.Millisecond)

	var got string
	found, err := e.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_ReadThroughAfterExpiry(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine()

	require.NoError(t, e.Set(ctx, "k", session{User: "bo", Score: 3},
		WithTTL(20*time.Millisecond), WithPersist(PersistLatest)))
	time.Sleep(40 * time.Millisecond)

	// Hot copy is gone; the warm mirror still serves the value.
	var got session
	found, err := e.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bo", got.User)
}

func TestEngine_PersistLatestOverwrites(t *testing.T) {
	ctx := context.Background()
	e, _, warm := newTestEngine()

	require.NoError(t, e.Set(ctx, "k", "v1", WithPersist(PersistLatest)))
	require.NoError(t, e.Set(ctx, "k", "v2", WithPersist(PersistLatest)))

	var docs []warmstore.SharedMemoryDoc
	require.NoError(t, warm.Find(ctx, warmstore.CollectionSharedMemory,
		warmstore.Filter{"key": "k"}, &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, `"v2"`, string(docs[0].Value))
}

func TestEngine_PersistAppendKeepsHistory(t *testing.T) {
	ctx := context.Background()
	e, _, warm := newTestEngine()

	require.NoError(t, e.Set(ctx, "k", "v1", WithPersist(PersistAppend)))
	require.NoError(t, e.Set(ctx, "k", "v2", WithPersist(PersistAppend)))

	var docs []warmstore.SharedMemoryDoc
	require.NoError(t, warm.Find(ctx, warmstore.CollectionSharedMemory,
		warmstore.Filter{"key": "k"}, &docs))
	assert.Len(t, docs, 2)
}

func TestEngine_DelAndExists(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine()

	require.NoError(t, e.Set(ctx, "k", "v"))
	exists, err := e.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, e.Del(ctx, "k", false))
	exists, err = e.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEngine_DelTombstoneBlocksReadThrough(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine()

	require.NoError(t, e.Set(ctx, "k", "v", WithPersist(PersistLatest)))
	require.NoError(t, e.Del(ctx, "k", true))

	var got string
	found, err := e.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_Expire(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine()

	ok, err := e.Expire(ctx, "missing", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.Set(ctx, "k", "v"))
	ok, err = e.Expire(ctx, "k", 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	found, err := e.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	hot := hotstore.NewMemStore()
	warm := warmstore.NewMemStore()
	e1 := New(hot, warm, keys.New("", "acme", "prod"), 1024, nil)
	e2 := New(hot, warm, keys.New("", "globex", "prod"), 1024, nil)

	require.NoError(t, e1.Set(ctx, "k", "acme-value"))

	var got string
	found, err := e2.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
