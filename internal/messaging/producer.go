package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"dev.chronow.messaging/internal/codec"
	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
	"dev.chronow.messaging/internal/warmstore"
)

// PublishOption customises a single publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	headers  map[string]string
	warmCopy bool
}

// WithHeaders attaches string headers to the message.
func WithHeaders(headers map[string]string) PublishOption {
	return func(o *publishOptions) {
		o.headers = headers
	}
}

// WithWarmCopy mirrors the message to the warm store's messages
// collection after the append succeeds.
func WithWarmCopy() PublishOption {
	return func(o *publishOptions) {
		o.warmCopy = true
	}
}

// Producer appends messages to topic logs.
type Producer struct {
	hot    hotstore.Store
	warm   warmstore.Store
	namer  keys.Namer
	topics *TopicManager

	maxPayloadBytes int64
	maxStreamLen    int64

	metrics *Metrics
	logger  logrus.FieldLogger
}

// NewProducer wires a producer. maxPayloadBytes bounds every encoded
// payload; maxStreamLen is the log's soft-trim target.
func NewProducer(hot hotstore.Store, warm warmstore.Store, namer keys.Namer, topics *TopicManager,
	maxPayloadBytes, maxStreamLen int64, metrics *Metrics, logger logrus.FieldLogger) *Producer {
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Producer{
		hot:             hot,
		warm:            warm,
		namer:           namer,
		topics:          topics,
		maxPayloadBytes: maxPayloadBytes,
		maxStreamLen:    maxStreamLen,
		metrics:         metrics,
		logger:          logger,
	}
}

// Publish encodes payload as JSON, appends it to the topic's log and
// returns the assigned message id. Payloads whose encoding exceeds the
// configured bound are rejected before anything touches the log.
func (p *Producer) Publish(ctx context.Context, topic string, payload interface{}, opts ...PublishOption) (string, error) {
	options := applyPublishOptions(opts)

	fields, encoded, err := p.encode(topic, payload, options.headers)
	if err != nil {
		return "", err
	}
	if err := p.topics.EnsureTopic(ctx, topic); err != nil {
		return "", err
	}

	msgID, err := p.hot.LogAppend(ctx, p.namer.Topic(topic), fields, p.maxStreamLen)
	if err != nil {
		return "", StoreError("append message", err).WithTopic(topic)
	}
	p.metrics.Published.WithLabelValues(topic).Inc()

	if options.warmCopy {
		if err := p.warmMirror(ctx, topic, msgID, encoded, options.headers); err != nil {
			return "", err
		}
	}
	p.logger.WithFields(logrus.Fields{
		"topic":  topic,
		"msg_id": msgID,
		"size":   len(encoded),
	}).Debug("Message published")
	return msgID, nil
}

// PublishBatch appends several payloads in one pipelined round trip where
// the backend supports it. The batch is all-or-nothing: if any payload
// exceeds the bound, nothing is appended. Warm mirroring happens after the
// ids are known, so every warm row carries its real message id.
func (p *Producer) PublishBatch(ctx context.Context, topic string, payloads []interface{}, opts ...PublishOption) ([]string, error) {
	options := applyPublishOptions(opts)

	entries := make([]map[string]string, len(payloads))
	encoded := make([][]byte, len(payloads))
	for i, payload := range payloads {
		fields, data, err := p.encode(topic, payload, options.headers)
		if err != nil {
			return nil, err
		}
		entries[i] = fields
		encoded[i] = data
	}
	if err := p.topics.EnsureTopic(ctx, topic); err != nil {
		return nil, err
	}

	ids, err := p.hot.LogAppendBatch(ctx, p.namer.Topic(topic), entries, p.maxStreamLen)
	if err != nil {
		return nil, StoreError("append batch", err).WithTopic(topic)
	}
	p.metrics.Published.WithLabelValues(topic).Add(float64(len(ids)))

	if options.warmCopy {
		for i, id := range ids {
			if err := p.warmMirror(ctx, topic, id, encoded[i], options.headers); err != nil {
				return nil, err
			}
		}
	}
	p.logger.WithFields(logrus.Fields{"topic": topic, "count": len(ids)}).Debug("Batch published")
	return ids, nil
}

func (p *Producer) encode(topic string, payload interface{}, headers map[string]string) (map[string]string, []byte, error) {
	encoded, err := codec.EncodeJSON(payload, p.maxPayloadBytes)
	if err != nil {
		if errors.Is(err, codec.ErrTooLarge) {
			return nil, nil, PayloadTooLargeError(topic, int64(len(encoded)), p.maxPayloadBytes)
		}
		return nil, nil, NewBrokerError(ErrCodePublishFailed, "encode payload", err).WithTopic(topic)
	}
	fields, err := codec.BuildMessageFields(encoded, headers)
	if err != nil {
		return nil, nil, NewBrokerError(ErrCodePublishFailed, "encode headers", err).WithTopic(topic)
	}
	return fields, encoded, nil
}

func (p *Producer) warmMirror(ctx context.Context, topic, msgID string, payload []byte, headers map[string]string) error {
	now := time.Now().UTC()
	doc := warmstore.MessageDoc{
		Topic:       topic,
		MsgID:       msgID,
		Tenant:      p.namer.Tenant,
		Headers:     headers,
		Payload:     payload,
		FirstSeenAt: now,
		Size:        len(payload),
		System:      warmstore.SystemMeta{CreatedAt: now},
	}
	if err := p.warm.Insert(ctx, warmstore.CollectionMessages, doc); err != nil {
		return StoreError("warm mirror message", err).WithTopic(topic).WithMessageID(msgID)
	}
	return nil
}

func applyPublishOptions(opts []PublishOption) publishOptions {
	var options publishOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
