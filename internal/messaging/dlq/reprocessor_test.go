package dlq

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
	"dev.chronow.messaging/internal/messaging"
	"dev.chronow.messaging/internal/warmstore"
)

type fixture struct {
	hot      *hotstore.MemStore
	namer    keys.Namer
	producer *messaging.Producer
	sink     *messaging.DeadLetterSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hot := hotstore.NewMemStore()
	warm := warmstore.NewMemStore()
	namer := keys.New("", "acme", "test")
	topics := messaging.NewTopicManager(hot, warm, namer, logger)
	return &fixture{
		hot:      hot,
		namer:    namer,
		producer: messaging.NewProducer(hot, warm, namer, topics, 1024, 1000, nil, logger),
		sink:     messaging.NewDeadLetterSink(hot, warm, namer, 1000, nil, logger),
	}
}

func (f *fixture) park(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.sink.Send(context.Background(), "orders", "billing", id,
		json.RawMessage(`{"n":1}`), map[string]string{"trace": "x"}, "handler failed", 3))
}

func fastConfig() Config {
	return Config{
		PollInterval:      10 * time.Millisecond,
		BatchSize:         10,
		ProcessingTimeout: time.Second,
	}
}

func TestReprocessor_RepublishAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.park(t, "1000-0")

	r := NewReprocessor(f.hot, f.producer, f.namer, "orders", nil, fastConfig(), zap.NewNop())
	require.NoError(t, r.Start(ctx))
	defer func() { require.NoError(t, r.Stop()) }()

	require.Eventually(t, func() bool {
		return r.GetStats().Republished == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The payload is back on the topic log.
	entries, err := f.hot.LogRange(ctx, f.namer.Topic("orders"), "-", "+", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Fields["payload"], `"n":1`)
}

func TestReprocessor_DiscardPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.park(t, "1000-0")
	f.park(t, "1000-1")

	discardAll := func(context.Context, messaging.DeadLetter) Decision { return Discard }
	r := NewReprocessor(f.hot, f.producer, f.namer, "orders", discardAll, fastConfig(), zap.NewNop())
	require.NoError(t, r.Start(ctx))
	defer func() { require.NoError(t, r.Stop()) }()

	require.Eventually(t, func() bool {
		return r.GetStats().Discarded == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Nothing republished.
	entries, err := f.hot.LogRange(ctx, f.namer.Topic("orders"), "-", "+", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReprocessor_KeepPolicyRetriesLater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.park(t, "1000-0")

	decisions := make(chan Decision, 2)
	decisions <- Keep
	decisions <- Republish
	policy := func(context.Context, messaging.DeadLetter) Decision {
		select {
		case d := <-decisions:
			return d
		default:
			return Republish
		}
	}

	r := NewReprocessor(f.hot, f.producer, f.namer, "orders", policy, fastConfig(), zap.NewNop())
	require.NoError(t, r.Start(ctx))
	defer func() { require.NoError(t, r.Stop()) }()

	require.Eventually(t, func() bool {
		stats := r.GetStats()
		return stats.Kept >= 1 && stats.Republished == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestReprocessor_ProcessBatchOnDemand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.park(t, "1000-0")

	r := NewReprocessor(f.hot, f.producer, f.namer, "orders", nil, fastConfig(), zap.NewNop())
	// Group creation normally happens in Start; ProcessBatch on a fresh
	// reprocessor is a no-op against a missing group.
	r.ProcessBatch(ctx)
	assert.Zero(t, r.GetStats().Republished)

	require.NoError(t, r.Start(ctx))
	r.ProcessBatch(ctx)
	require.NoError(t, r.Stop())
	assert.Equal(t, int64(1), r.GetStats().Republished)
}

func TestReprocessor_DoubleStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r := NewReprocessor(f.hot, f.producer, f.namer, "orders", nil, fastConfig(), zap.NewNop())
	require.NoError(t, r.Start(ctx))
	assert.Error(t, r.Start(ctx))
	require.NoError(t, r.Stop())
	// Stop twice is a no-op.
	require.NoError(t, r.Stop())
}
