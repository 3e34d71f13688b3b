package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.chronow.messaging/internal/warmstore"
)

func TestTopicManager_EnsureTopic(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	require.NoError(t, b.topics.EnsureTopic(ctx, "orders"))
	// Idempotent.
	require.NoError(t, b.topics.EnsureTopic(ctx, "orders"))

	stats, err := b.topics.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Length)
	assert.Equal(t, int64(0), stats.Groups)

	var doc warmstore.TopicDoc
	found, err := b.warm.FindOne(ctx, warmstore.CollectionTopics,
		warmstore.Filter{"topic": "orders", "tenant": "acme"}, &doc)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, doc.Shards)
}

func TestTopicManager_EnsureSubscription(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	effective, err := b.topics.EnsureSubscription(ctx, "orders", "billing", SubscriptionConfig{})
	require.NoError(t, err)
	// Zero fields are filled from defaults.
	assert.Equal(t, 30*time.Second, effective.VisibilityTimeout)
	assert.Equal(t, 5, effective.MaxDeliveries)
	assert.True(t, effective.DeadLetterEnabled)

	stats, err := b.topics.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Groups)

	loaded, err := b.topics.GetSubscriptionConfig(ctx, "orders", "billing")
	require.NoError(t, err)
	assert.Equal(t, effective.VisibilityTimeout, loaded.VisibilityTimeout)
	assert.Equal(t, effective.MaxDeliveries, loaded.MaxDeliveries)
	assert.Equal(t, effective.RetryBackoff, loaded.RetryBackoff)
}

func TestTopicManager_EnsureSubscription_Idempotent(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	_, err := b.topics.EnsureSubscription(ctx, "orders", "billing", SubscriptionConfig{MaxDeliveries: 2})
	require.NoError(t, err)

	// Re-ensuring refreshes the stored configuration.
	_, err = b.topics.EnsureSubscription(ctx, "orders", "billing", SubscriptionConfig{MaxDeliveries: 7})
	require.NoError(t, err)

	loaded, err := b.topics.GetSubscriptionConfig(ctx, "orders", "billing")
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.MaxDeliveries)
}

func TestTopicManager_GetSubscriptionConfig_NotFound(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	_, err := b.topics.GetSubscriptionConfig(ctx, "orders", "missing")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestTopicManager_DeleteSubscription(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	_, err := b.topics.EnsureSubscription(ctx, "orders", "billing", fastSubscription())
	require.NoError(t, err)
	require.NoError(t, b.topics.DeleteSubscription(ctx, "orders", "billing"))

	_, err = b.topics.GetSubscriptionConfig(ctx, "orders", "billing")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	stats, err := b.topics.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Groups)
}

func TestTopicManager_PurgeTopic(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	_, err := b.producer.Publish(ctx, "orders", map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, b.topics.PurgeTopic(ctx, "orders"))

	stats, err := b.topics.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Length)

	// The topic stays usable.
	_, err = b.producer.Publish(ctx, "orders", map[string]int{"n": 2})
	require.NoError(t, err)
}
