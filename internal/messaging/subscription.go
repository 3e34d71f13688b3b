package messaging

import (
	"encoding/json"
	"time"
)

// SubscriptionConfig is the durable per-subscription behaviour. It is
// persisted as JSON in a hash field next to the topic's log, so a
// subscription survives process restarts with the settings it was created
// with.
type SubscriptionConfig struct {
	// VisibilityTimeout is how long a delivered-but-unacked entry is
	// considered in flight before it may be reclaimed.
	VisibilityTimeout time.Duration
	// MaxDeliveries is the delivery budget before dead-lettering.
	MaxDeliveries int
	// RetryBackoff is the ordered base-delay sequence; attempt n uses the
	// element at min(n, len-1).
	RetryBackoff []time.Duration
	// DeadLetterEnabled controls whether exhausted messages go to the DLQ.
	DeadLetterEnabled bool
	// ShardCount is reserved tuning for sharded topics.
	ShardCount int
	// Block is how long one group read may wait for entries.
	Block time.Duration
	// CountPerRead caps entries per group read.
	CountPerRead int64
}

// DefaultSubscriptionConfig returns the defaults applied by
// EnsureSubscription for unset fields.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		VisibilityTimeout: 30 * time.Second,
		MaxDeliveries:     5,
		RetryBackoff:      []time.Duration{time.Second, 5 * time.Second, 15 * time.Second},
		DeadLetterEnabled: true,
		ShardCount:        1,
		Block:             5 * time.Second,
		CountPerRead:      10,
	}
}

// withDefaults fills zero fields from the defaults.
func (c SubscriptionConfig) withDefaults() SubscriptionConfig {
	def := DefaultSubscriptionConfig()
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = def.VisibilityTimeout
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = def.MaxDeliveries
	}
	if len(c.RetryBackoff) == 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.ShardCount <= 0 {
		c.ShardCount = def.ShardCount
	}
	if c.Block <= 0 {
		c.Block = def.Block
	}
	if c.CountPerRead <= 0 {
		c.CountPerRead = def.CountPerRead
	}
	return c
}

// BackoffFor returns the base delay for a zero-based attempt index,
// clamped to the last element.
func (c SubscriptionConfig) BackoffFor(attempt int) time.Duration {
	if len(c.RetryBackoff) == 0 {
		return 0
	}
	idx := attempt
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.RetryBackoff) {
		idx = len(c.RetryBackoff) - 1
	}
	return c.RetryBackoff[idx]
}

// subscriptionState is the persisted wire form: durations as millisecond
// integers so the JSON is stable across implementations.
type subscriptionState struct {
	VisibilityTimeoutMs int64   `json:"visibilityTimeoutMs"`
	MaxDeliveries       int     `json:"maxDeliveries"`
	RetryBackoffMs      []int64 `json:"retryBackoffMs"`
	DeadLetterEnabled   bool    `json:"deadLetterEnabled"`
	ShardCount          int     `json:"shardCount"`
	BlockMs             int64   `json:"blockMs"`
	CountPerRead        int64   `json:"countPerRead"`
	CreatedAt           string  `json:"createdAt"`
}

func encodeSubscriptionState(cfg SubscriptionConfig, createdAt string) (string, error) {
	state := subscriptionState{
		VisibilityTimeoutMs: cfg.VisibilityTimeout.Milliseconds(),
		MaxDeliveries:       cfg.MaxDeliveries,
		RetryBackoffMs:      make([]int64, len(cfg.RetryBackoff)),
		DeadLetterEnabled:   cfg.DeadLetterEnabled,
		ShardCount:          cfg.ShardCount,
		BlockMs:             cfg.Block.Milliseconds(),
		CountPerRead:        cfg.CountPerRead,
		CreatedAt:           createdAt,
	}
	for i, b := range cfg.RetryBackoff {
		state.RetryBackoffMs[i] = b.Milliseconds()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeSubscriptionState(raw string) (SubscriptionConfig, error) {
	var state subscriptionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return SubscriptionConfig{}, err
	}
	cfg := SubscriptionConfig{
		VisibilityTimeout: time.Duration(state.VisibilityTimeoutMs) * time.Millisecond,
		MaxDeliveries:     state.MaxDeliveries,
		RetryBackoff:      make([]time.Duration, len(state.RetryBackoffMs)),
		DeadLetterEnabled: state.DeadLetterEnabled,
		ShardCount:        state.ShardCount,
		Block:             time.Duration(state.BlockMs) * time.Millisecond,
		CountPerRead:      state.CountPerRead,
	}
	for i, ms := range state.RetryBackoffMs {
		cfg.RetryBackoff[i] = time.Duration(ms) * time.Millisecond
	}
	return cfg, nil
}
