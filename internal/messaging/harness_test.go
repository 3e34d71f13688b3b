package messaging

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
	"dev.chronow.messaging/internal/warmstore"
)

// testBroker wires every component over in-memory tiers.
type testBroker struct {
	hot      *hotstore.MemStore
	warm     *warmstore.MemStore
	namer    keys.Namer
	topics   *TopicManager
	producer *Producer
	retry    *RetryScheduler
	dlq      *DeadLetterSink
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hot := hotstore.NewMemStore()
	warm := warmstore.NewMemStore()
	namer := keys.New("", "acme", "test")

	topics := NewTopicManager(hot, warm, namer, logger)
	return &testBroker{
		hot:      hot,
		warm:     warm,
		namer:    namer,
		topics:   topics,
		producer: NewProducer(hot, warm, namer, topics, 1024, 1000, nil, logger),
		retry:    NewRetryScheduler(hot, namer, logger),
		dlq:      NewDeadLetterSink(hot, warm, namer, 1000, nil, logger),
	}
}

func (b *testBroker) consumer(t *testing.T, topic, subscription string) *Consumer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewConsumer(b.hot, b.namer, b.topics, b.retry, b.dlq,
		topic, subscription, 1000, nil, logger)
}

// fastSubscription keeps timeouts short so tests do not sleep long.
func fastSubscription() SubscriptionConfig {
	return SubscriptionConfig{
		VisibilityTimeout: 50 * time.Millisecond,
		MaxDeliveries:     3,
		RetryBackoff:      []time.Duration{10 * time.Millisecond},
		DeadLetterEnabled: true,
		Block:             20 * time.Millisecond,
		CountPerRead:      10,
	}
}
