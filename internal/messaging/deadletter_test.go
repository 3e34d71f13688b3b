package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.chronow.messaging/internal/warmstore"
)

func TestDeadLetterSink_Send(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	err := b.dlq.Send(ctx, "orders", "billing", "1000-0",
		json.RawMessage(`{"n":1}`), map[string]string{"trace": "x"}, "handler blew up", 3)
	require.NoError(t, err)

	n, err := b.dlq.Length(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	letters, err := b.dlq.Peek(ctx, "orders", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "1000-0", letters[0].OriginalMsgID)
	assert.Equal(t, "handler blew up", letters[0].Reason)
	assert.Equal(t, 3, letters[0].Deliveries)
	assert.Equal(t, "x", letters[0].Headers["trace"])
	assert.JSONEq(t, `{"n":1}`, string(letters[0].Payload))
	assert.NotEmpty(t, letters[0].FailedAt)
}

func TestDeadLetterSink_DefaultReason(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	require.NoError(t, b.dlq.Send(ctx, "orders", "billing", "1000-0",
		json.RawMessage(`1`), nil, "", 1))

	letters, err := b.dlq.Peek(ctx, "orders", 1)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, DefaultDeadLetterReason, letters[0].Reason)
}

func TestDeadLetterSink_WarmRecord(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	require.NoError(t, b.dlq.Send(ctx, "orders", "billing", "1000-0",
		json.RawMessage(`{"n":1}`), nil, "r", 2))

	var doc warmstore.DeadLetterDoc
	found, err := b.warm.FindOne(ctx, warmstore.CollectionDeadLetters,
		warmstore.Filter{"topic": "orders", "msgId": "1000-0"}, &doc)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "r", doc.Reason)
	assert.Equal(t, 2, doc.Deliveries)
	assert.Equal(t, "acme", doc.Tenant)
}

func TestDeadLetterSink_Purge(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	require.NoError(t, b.dlq.Send(ctx, "orders", "billing", "1000-0",
		json.RawMessage(`1`), nil, "r", 1))
	require.NoError(t, b.dlq.Purge(ctx, "orders"))

	n, err := b.dlq.Length(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	var docs []warmstore.DeadLetterDoc
	require.NoError(t, b.warm.Find(ctx, warmstore.CollectionDeadLetters,
		warmstore.Filter{"topic": "orders"}, &docs))
	assert.Empty(t, docs)
}

func TestDeadLetterSink_PeekSkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	require.NoError(t, b.dlq.Send(ctx, "orders", "billing", "1000-0",
		json.RawMessage(`1`), nil, "r", 1))
	// A letter with broken headers is skipped, not fatal.
	_, err := b.hot.LogAppend(ctx, b.namer.DLQ("orders"),
		map[string]string{"headers": "{broken"}, 0)
	require.NoError(t, err)

	letters, err := b.dlq.Peek(ctx, "orders", 10)
	require.NoError(t, err)
	assert.Len(t, letters, 1)
}
