package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.chronow.messaging/internal/codec"
	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
)

// drainLimit caps how many due retries and reclaimed entries are folded
// into one receive pass, so a large backlog cannot starve fresh reads.
const drainLimit = 10

// NackOptions controls what happens to a negatively acknowledged message.
type NackOptions struct {
	// Requeue schedules a delayed redelivery instead of leaving the entry
	// in flight until the visibility timeout reclaims it.
	Requeue bool
	// Delay overrides the subscription's backoff for this requeue.
	Delay time.Duration
}

// Delivery is a single in-flight message handed to a consumer. Exactly one
// of Ack, Nack or DeadLetter may be called; later calls return
// ErrHandleCompleted.
type Delivery struct {
	ID           string
	Topic        string
	Subscription string
	Payload      json.RawMessage
	Headers      map[string]string
	// RetryOf is the original message id when this delivery came through
	// the retry queue; empty for a first delivery. It is also mirrored
	// into Headers under "retryOf".
	RetryOf string
	// RedeliveryCount is how many times this message was handed out
	// before, counting redeliveries through the retry queue.
	RedeliveryCount int

	consumer *Consumer

	mu        sync.Mutex
	completed bool
}

// Consumer reads one subscription. It folds three sources into a single
// stream: due retries re-injected into the log, in-flight entries reclaimed
// past the visibility timeout, and fresh entries.
type Consumer struct {
	hot     hotstore.Store
	namer   keys.Namer
	topics  *TopicManager
	retry   *RetryScheduler
	dlq     *DeadLetterSink
	metrics *Metrics
	logger  logrus.FieldLogger

	topic        string
	subscription string
	group        string
	consumerID   string
	maxStreamLen int64

	cfgOnce sync.Once
	cfg     SubscriptionConfig
	cfgErr  error

	// deliveries tracks per-message hand-out counts for this process. A
	// retry entry seeds the count with its recorded attempt so the budget
	// carries across redeliveries.
	deliveriesMu sync.Mutex
	deliveries   map[string]int
}

// NewConsumer wires a consumer for (topic, subscription). The subscription
// must have been ensured; the first receive fails with
// ErrSubscriptionNotFound otherwise.
func NewConsumer(hot hotstore.Store, namer keys.Namer, topics *TopicManager, retry *RetryScheduler,
	dlq *DeadLetterSink, topic, subscription string, maxStreamLen int64,
	metrics *Metrics, logger logrus.FieldLogger) *Consumer {
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Consumer{
		hot:          hot,
		namer:        namer,
		topics:       topics,
		retry:        retry,
		dlq:          dlq,
		metrics:      metrics,
		logger:       logger,
		topic:        topic,
		subscription: subscription,
		group:        namer.Group(subscription),
		consumerID:   fmt.Sprintf("consumer-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8]),
		maxStreamLen: maxStreamLen,
		deliveries:   map[string]int{},
	}
}

// ConsumerID returns the identity this consumer registers in the group.
func (c *Consumer) ConsumerID() string {
	return c.consumerID
}

// Receive performs one pass: re-inject due retries, reclaim entries idle
// past the visibility timeout, then read fresh entries, blocking up to the
// subscription's block interval. Undecodable entries are acked and dropped.
func (c *Consumer) Receive(ctx context.Context) ([]*Delivery, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, err
	}
	log := c.namer.Topic(c.topic)

	if err := c.drainRetries(ctx); err != nil {
		return nil, err
	}

	entries, err := c.reclaim(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		entries, err = c.hot.GroupRead(ctx, log, c.group, c.consumerID, cfg.Block, cfg.CountPerRead)
		if err != nil && !errors.Is(err, hotstore.ErrNotFound) {
			return nil, StoreError("group read", err).
				WithTopic(c.topic).WithSubscription(c.subscription)
		}
	}

	deliveries := make([]*Delivery, 0, len(entries))
	for _, entry := range entries {
		delivery, err := c.toDelivery(entry)
		if err != nil {
			c.dropUndecodable(ctx, log, entry.ID, err)
			continue
		}
		deliveries = append(deliveries, delivery)
		c.metrics.Delivered.WithLabelValues(c.topic, c.subscription).Inc()
	}
	return deliveries, nil
}

// Consume runs receive passes until ctx is cancelled and streams deliveries
// on the returned channel. The channel is closed on exit; the first
// non-recoverable error is reported through errFn when non-nil.
func (c *Consumer) Consume(ctx context.Context, errFn func(error)) (<-chan *Delivery, error) {
	if _, err := c.config(ctx); err != nil {
		return nil, err
	}
	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			deliveries, err := c.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.WithError(err).WithFields(logrus.Fields{
					"topic":        c.topic,
					"subscription": c.subscription,
				}).Error("Receive failed")
				if errFn != nil {
					errFn(err)
				}
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			for _, delivery := range deliveries {
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Pending inspects the group's in-flight entries.
func (c *Consumer) Pending(ctx context.Context, count int64) ([]hotstore.PendingEntry, error) {
	pending, err := c.hot.GroupPending(ctx, c.namer.Topic(c.topic), c.group, count)
	if err != nil {
		return nil, StoreError("group pending", err).
			WithTopic(c.topic).WithSubscription(c.subscription)
	}
	return pending, nil
}

func (c *Consumer) config(ctx context.Context) (SubscriptionConfig, error) {
	c.cfgOnce.Do(func() {
		c.cfg, c.cfgErr = c.topics.GetSubscriptionConfig(ctx, c.topic, c.subscription)
	})
	return c.cfg, c.cfgErr
}

// drainRetries re-injects due retry entries at the tail of the log, then
// removes them from the schedule. Append-then-remove keeps the entry
// at-least-once under a crash between the two steps.
func (c *Consumer) drainRetries(ctx context.Context) error {
	due, err := c.retry.DrainReady(ctx, c.topic, c.subscription, drainLimit)
	if err != nil {
		return err
	}
	log := c.namer.Topic(c.topic)
	for _, entry := range due {
		fields, err := codec.BuildRetryFields(entry.Payload, entry.Headers, entry.OriginalID, entry.Attempt)
		if err != nil {
			return StoreError("encode retry re-injection", err).
				WithTopic(c.topic).WithMessageID(entry.OriginalID)
		}
		if _, err := c.hot.LogAppend(ctx, log, fields, c.maxStreamLen); err != nil {
			return StoreError("re-inject retry", err).
				WithTopic(c.topic).WithMessageID(entry.OriginalID)
		}
		if err := c.retry.Remove(ctx, c.topic, c.subscription, entry); err != nil {
			return err
		}
	}
	return nil
}

// reclaim takes over entries another consumer left in flight past the
// visibility timeout. Backends without a bulk reclaim primitive fall back
// to listing pending entries and claiming them one set at a time.
func (c *Consumer) reclaim(ctx context.Context, log string, cfg SubscriptionConfig) ([]hotstore.Entry, error) {
	entries, err := c.hot.GroupReclaim(ctx, log, c.group, c.consumerID, cfg.VisibilityTimeout, drainLimit)
	if errors.Is(err, hotstore.ErrNotSupported) {
		entries, err = c.reclaimViaPending(ctx, log, cfg)
	}
	if err != nil {
		if errors.Is(err, hotstore.ErrNotFound) {
			return nil, nil
		}
		return nil, StoreError("reclaim in-flight entries", err).
			WithTopic(c.topic).WithSubscription(c.subscription)
	}
	if len(entries) > 0 {
		c.metrics.Reclaimed.WithLabelValues(c.topic, c.subscription).Add(float64(len(entries)))
	}
	return entries, nil
}

func (c *Consumer) reclaimViaPending(ctx context.Context, log string, cfg SubscriptionConfig) ([]hotstore.Entry, error) {
	pending, err := c.hot.GroupPending(ctx, log, c.group, drainLimit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range pending {
		if p.Idle >= cfg.VisibilityTimeout {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return c.hot.GroupClaim(ctx, log, c.group, c.consumerID, cfg.VisibilityTimeout, ids...)
}

func (c *Consumer) toDelivery(entry hotstore.Entry) (*Delivery, error) {
	env, err := codec.ParseMessageFields(entry.Fields)
	if err != nil {
		return nil, err
	}
	count := c.bumpDeliveries(entry.ID, env.Attempt)
	if env.RetryOf != "" {
		if env.Headers == nil {
			env.Headers = map[string]string{}
		}
		env.Headers[codec.FieldRetryOf] = env.RetryOf
	}
	return &Delivery{
		ID:              entry.ID,
		Topic:           c.topic,
		Subscription:    c.subscription,
		Payload:         env.Payload,
		Headers:         env.Headers,
		RetryOf:         env.RetryOf,
		RedeliveryCount: count - 1,
		consumer:        c,
	}, nil
}

// bumpDeliveries increments the hand-out count for an entry and returns the
// new value. A retry entry starts from its recorded attempt.
func (c *Consumer) bumpDeliveries(id string, attempt int) int {
	c.deliveriesMu.Lock()
	defer c.deliveriesMu.Unlock()
	if _, ok := c.deliveries[id]; !ok && attempt > 0 {
		c.deliveries[id] = attempt
	}
	c.deliveries[id]++
	return c.deliveries[id]
}

func (c *Consumer) forgetDeliveries(id string) {
	c.deliveriesMu.Lock()
	delete(c.deliveries, id)
	c.deliveriesMu.Unlock()
}

// dropUndecodable acks an entry whose fields cannot be parsed so it never
// blocks the group, and counts the drop.
func (c *Consumer) dropUndecodable(ctx context.Context, log, id string, cause error) {
	c.metrics.ParseErrors.WithLabelValues(c.topic, c.subscription).Inc()
	c.logger.WithError(cause).WithFields(logrus.Fields{
		"topic":        c.topic,
		"subscription": c.subscription,
		"id":           id,
	}).Warn("Dropping undecodable entry")
	if _, err := c.hot.GroupAck(ctx, log, c.group, id); err != nil {
		c.logger.WithError(err).WithField("id", id).Error("Failed to ack undecodable entry")
	}
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	if _, err := c.hot.GroupAck(ctx, c.namer.Topic(c.topic), c.group, id); err != nil {
		return StoreError("ack", err).
			WithTopic(c.topic).WithSubscription(c.subscription).WithMessageID(id)
	}
	c.forgetDeliveries(id)
	return nil
}

// Ack marks the message processed and removes it from the in-flight set.
func (d *Delivery) Ack(ctx context.Context) error {
	if err := d.complete(); err != nil {
		return err
	}
	if err := d.consumer.ack(ctx, d.ID); err != nil {
		return err
	}
	d.consumer.metrics.Acked.WithLabelValues(d.Topic, d.Subscription).Inc()
	return nil
}

// Nack rejects the message. When the delivery budget is exhausted the
// message is dead-lettered. Otherwise Requeue schedules a delayed
// redelivery, and without Requeue the entry stays in flight until the
// visibility timeout reclaims it.
func (d *Delivery) Nack(ctx context.Context, opts NackOptions) error {
	if err := d.complete(); err != nil {
		return err
	}
	c := d.consumer
	count := d.RedeliveryCount + 1

	if count >= c.cfg.MaxDeliveries {
		if c.cfg.DeadLetterEnabled {
			if err := c.dlq.Send(ctx, d.Topic, d.Subscription, d.ID, d.Payload, d.Headers,
				maxDeadLetterReason, count); err != nil {
				return err
			}
		}
		return c.ack(ctx, d.ID)
	}

	if opts.Requeue {
		if err := c.retry.Schedule(ctx, d.Topic, d.Subscription, c.cfg,
			d.ID, d.Payload, d.Headers, count, opts.Delay); err != nil {
			return err
		}
		c.metrics.Retried.WithLabelValues(d.Topic, d.Subscription).Inc()
		return c.ack(ctx, d.ID)
	}

	// Left in flight on purpose. The handle is spent either way.
	c.logger.WithFields(logrus.Fields{
		"topic":        d.Topic,
		"subscription": d.Subscription,
		"msg_id":       d.ID,
		"deliveries":   count,
	}).Debug("Message nacked, awaiting reclaim")
	return nil
}

// DeadLetter parks the message immediately, regardless of its remaining
// delivery budget. An empty reason records DefaultDeadLetterReason.
func (d *Delivery) DeadLetter(ctx context.Context, reason string) error {
	if err := d.complete(); err != nil {
		return err
	}
	c := d.consumer
	if err := c.dlq.Send(ctx, d.Topic, d.Subscription, d.ID, d.Payload, d.Headers,
		reason, d.RedeliveryCount+1); err != nil {
		return err
	}
	return c.ack(ctx, d.ID)
}

func (d *Delivery) complete() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.completed {
		return NewBrokerError(ErrCodeHandleCompleted, "delivery already completed", nil).
			WithTopic(d.Topic).WithSubscription(d.Subscription).WithMessageID(d.ID)
	}
	d.completed = true
	return nil
}
