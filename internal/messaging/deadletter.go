package messaging

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"dev.chronow.messaging/internal/codec"
	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
	"dev.chronow.messaging/internal/warmstore"
)

// DefaultDeadLetterReason is used when a caller dead-letters a message
// without giving a reason.
const DefaultDeadLetterReason = "Manual dead-letter"

// maxDeadLetterReason reflects the "Max deliveries exceeded" transfer done
// by the consumer when the delivery budget runs out.
const maxDeadLetterReason = "Max deliveries exceeded"

// DeadLetter is one parked message read back from the dead-letter log.
type DeadLetter struct {
	ID            string            `json:"id"`
	OriginalMsgID string            `json:"originalMsgId"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers"`
	Reason        string            `json:"reason"`
	Deliveries    int               `json:"deliveries"`
	FailedAt      string            `json:"failedAt"`
}

// DeadLetterSink appends exhausted or rejected messages to the topic's
// dead-letter log and, when a warm store is wired, records them durably.
type DeadLetterSink struct {
	hot          hotstore.Store
	warm         warmstore.Store
	namer        keys.Namer
	maxStreamLen int64
	metrics      *Metrics
	logger       logrus.FieldLogger
}

// NewDeadLetterSink wires a sink. maxStreamLen bounds the dead-letter log
// the same way topic logs are bounded.
func NewDeadLetterSink(hot hotstore.Store, warm warmstore.Store, namer keys.Namer,
	maxStreamLen int64, metrics *Metrics, logger logrus.FieldLogger) *DeadLetterSink {
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &DeadLetterSink{
		hot:          hot,
		warm:         warm,
		namer:        namer,
		maxStreamLen: maxStreamLen,
		metrics:      metrics,
		logger:       logger,
	}
}

// Send parks a message on the topic's dead-letter log. An empty reason
// falls back to DefaultDeadLetterReason.
func (s *DeadLetterSink) Send(ctx context.Context, topic, subscription, originalMsgID string,
	payload json.RawMessage, headers map[string]string, reason string, deliveries int) error {
	if reason == "" {
		reason = DefaultDeadLetterReason
	}
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return NewBrokerError(ErrCodeDeadLetterFailed, "encode dead-letter headers", err).
			WithTopic(topic).WithMessageID(originalMsgID)
	}
	failedAt := codec.NowISO()
	fields := map[string]string{
		codec.FieldOriginalMsgID: originalMsgID,
		codec.FieldPayload:       string(payload),
		codec.FieldHeaders:       string(headerJSON),
		codec.FieldReason:        reason,
		codec.FieldDeliveries:    strconv.Itoa(deliveries),
		codec.FieldFailedAt:      failedAt,
	}
	if _, err := s.hot.LogAppend(ctx, s.namer.DLQ(topic), fields, s.maxStreamLen); err != nil {
		return NewBrokerError(ErrCodeDeadLetterFailed, "append dead letter", err).
			WithTopic(topic).WithMessageID(originalMsgID)
	}
	s.metrics.DeadLettered.WithLabelValues(topic, subscription).Inc()

	now := time.Now().UTC()
	doc := warmstore.DeadLetterDoc{
		Topic:      topic,
		MsgID:      originalMsgID,
		Tenant:     s.namer.Tenant,
		Reason:     reason,
		Headers:    headers,
		Payload:    payload,
		FailedAt:   now,
		Deliveries: deliveries,
		System:     warmstore.SystemMeta{CreatedAt: now},
	}
	if err := s.warm.Insert(ctx, warmstore.CollectionDeadLetters, doc); err != nil {
		return NewBrokerError(ErrCodeDeadLetterFailed, "persist dead letter", err).
			WithTopic(topic).WithMessageID(originalMsgID)
	}

	s.logger.WithFields(logrus.Fields{
		"topic":      topic,
		"msg_id":     originalMsgID,
		"reason":     reason,
		"deliveries": deliveries,
	}).Warn("Message dead-lettered")
	return nil
}

// Length reports the number of parked messages for a topic.
func (s *DeadLetterSink) Length(ctx context.Context, topic string) (int64, error) {
	n, err := s.hot.LogLen(ctx, s.namer.DLQ(topic))
	if err != nil {
		return 0, StoreError("dead-letter length", err).WithTopic(topic)
	}
	return n, nil
}

// Peek reads up to limit parked messages from the head of the dead-letter
// log without removing them.
func (s *DeadLetterSink) Peek(ctx context.Context, topic string, limit int64) ([]DeadLetter, error) {
	entries, err := s.hot.LogRange(ctx, s.namer.DLQ(topic), "-", "+", limit)
	if err != nil {
		return nil, StoreError("dead-letter peek", err).WithTopic(topic)
	}
	letters := make([]DeadLetter, 0, len(entries))
	for _, entry := range entries {
		letter, err := parseDeadLetter(entry)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"topic": topic,
				"id":    entry.ID,
			}).Warn("Skipping undecodable dead letter")
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// Purge deletes the topic's dead-letter log and any warm copies.
func (s *DeadLetterSink) Purge(ctx context.Context, topic string) error {
	if err := s.hot.LogDelete(ctx, s.namer.DLQ(topic)); err != nil {
		return StoreError("dead-letter purge", err).WithTopic(topic)
	}
	filter := warmstore.Filter{"topic": topic, "tenant": s.namer.Tenant}
	if _, err := s.warm.DeleteMany(ctx, warmstore.CollectionDeadLetters, filter); err != nil {
		return StoreError("dead-letter warm purge", err).WithTopic(topic)
	}
	return nil
}

func parseDeadLetter(entry hotstore.Entry) (DeadLetter, error) {
	letter := DeadLetter{
		ID:            entry.ID,
		OriginalMsgID: entry.Fields[codec.FieldOriginalMsgID],
		Payload:       json.RawMessage(entry.Fields[codec.FieldPayload]),
		Headers:       map[string]string{},
		Reason:        entry.Fields[codec.FieldReason],
		FailedAt:      entry.Fields[codec.FieldFailedAt],
	}
	if raw := entry.Fields[codec.FieldHeaders]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &letter.Headers); err != nil {
			return DeadLetter{}, err
		}
	}
	if raw := entry.Fields[codec.FieldDeliveries]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return DeadLetter{}, err
		}
		letter.Deliveries = n
	}
	return letter, nil
}
