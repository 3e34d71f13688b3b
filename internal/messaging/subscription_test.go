package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionConfig_WithDefaults(t *testing.T) {
	filled := SubscriptionConfig{}.withDefaults()
	assert.Equal(t, DefaultSubscriptionConfig(), filled)

	// Set fields survive.
	custom := SubscriptionConfig{MaxDeliveries: 9, Block: time.Second}.withDefaults()
	assert.Equal(t, 9, custom.MaxDeliveries)
	assert.Equal(t, time.Second, custom.Block)
	assert.Equal(t, 30*time.Second, custom.VisibilityTimeout)
}

func TestSubscriptionState_RoundTrip(t *testing.T) {
	cfg := SubscriptionConfig{
		VisibilityTimeout: 45 * time.Second,
		MaxDeliveries:     4,
		RetryBackoff:      []time.Duration{time.Second, 10 * time.Second},
		DeadLetterEnabled: true,
		ShardCount:        2,
		Block:             3 * time.Second,
		CountPerRead:      25,
	}
	raw, err := encodeSubscriptionState(cfg, "2026-01-01T00:00:00.000Z")
	require.NoError(t, err)

	decoded, err := decodeSubscriptionState(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
}

func TestSubscriptionState_MillisecondWireFormat(t *testing.T) {
	raw, err := encodeSubscriptionState(SubscriptionConfig{
		VisibilityTimeout: 30 * time.Second,
		RetryBackoff:      []time.Duration{time.Second},
	}, "t")
	require.NoError(t, err)
	assert.Contains(t, raw, `"visibilityTimeoutMs":30000`)
	assert.Contains(t, raw, `"retryBackoffMs":[1000]`)
}

func TestSubscriptionState_DecodeInvalid(t *testing.T) {
	_, err := decodeSubscriptionState("{broken")
	assert.Error(t, err)
}
