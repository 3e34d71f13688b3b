package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryScheduler_ScheduleAndDrain(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	cfg := fastSubscription()

	err := b.retry.Schedule(ctx, "orders", "billing", cfg,
		"1000-0", json.RawMessage(`{"n":1}`), map[string]string{"trace": "x"}, 1, 0)
	require.NoError(t, err)

	size, err := b.retry.Size(ctx, "orders", "billing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	// Not due immediately.
	due, err := b.retry.DrainReady(ctx, "orders", "billing", 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Base 10ms plus at most 20% jitter.
	time.Sleep(20 * time.Millisecond)
	due, err = b.retry.DrainReady(ctx, "orders", "billing", 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "1000-0", due[0].OriginalID)
	assert.Equal(t, 1, due[0].Attempt)
	assert.JSONEq(t, `{"n":1}`, string(due[0].Payload))
	assert.Equal(t, "x", due[0].Headers["trace"])
}

func TestRetryScheduler_Remove(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	cfg := fastSubscription()

	require.NoError(t, b.retry.Schedule(ctx, "orders", "billing", cfg,
		"1000-0", json.RawMessage(`1`), nil, 1, 0))
	time.Sleep(20 * time.Millisecond)

	due, err := b.retry.DrainReady(ctx, "orders", "billing", 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, b.retry.Remove(ctx, "orders", "billing", due[0]))
	size, err := b.retry.Size(ctx, "orders", "billing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestRetryScheduler_RemoveRequiresDrainedEntry(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	err := b.retry.Remove(ctx, "orders", "billing", RetryEntry{OriginalID: "1000-0"})
	assert.Error(t, err)
}

func TestRetryScheduler_DelayOverride(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	cfg := fastSubscription() // base backoff 10ms

	require.NoError(t, b.retry.Schedule(ctx, "orders", "billing", cfg,
		"1000-0", json.RawMessage(`1`), nil, 1, time.Hour))

	time.Sleep(30 * time.Millisecond)
	due, err := b.retry.DrainReady(ctx, "orders", "billing", 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRetryScheduler_DrainOrder(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	cfg := SubscriptionConfig{RetryBackoff: []time.Duration{0}}

	// Explicit delays pin the order regardless of jitter.
	require.NoError(t, b.retry.Schedule(ctx, "orders", "billing", cfg,
		"2000-0", json.RawMessage(`2`), nil, 1, 10*time.Millisecond))
	require.NoError(t, b.retry.Schedule(ctx, "orders", "billing", cfg,
		"1000-0", json.RawMessage(`1`), nil, 1, 5*time.Millisecond))

	time.Sleep(30 * time.Millisecond)
	due, err := b.retry.DrainReady(ctx, "orders", "billing", 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "1000-0", due[0].OriginalID)
	assert.Equal(t, "2000-0", due[1].OriginalID)
}

func TestSubscriptionConfig_BackoffFor(t *testing.T) {
	cfg := SubscriptionConfig{RetryBackoff: []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 5 * time.Second},
		{2, 15 * time.Second},
		{3, 15 * time.Second},
		{100, 15 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, cfg.BackoffFor(tt.attempt), "attempt %d", tt.attempt)
	}
	assert.Zero(t, SubscriptionConfig{}.BackoffFor(0))
}
