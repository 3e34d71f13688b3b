// Package messaging implements the broker core: topic and subscription
// lifecycle, publishing, delayed retry, dead-lettering and the consumer
// loop. It is written entirely against the hotstore.Store and
// warmstore.Store interfaces and never branches on the backend in use.
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

// bootstrapGroup is the throwaway consumer group used to materialise an
// empty log: creating and destroying a group is the only operation both
// backends implement that leaves an empty log behind.
const bootstrapGroup = "sub:__bootstrap__"

// TopicStats summarises one topic.
type TopicStats struct {
	Topic  string `json:"topic"`
	Length int64  `json:"length"`
	Groups int64  `json:"groups"`
}

// TopicManager owns topic and subscription lifecycle.
type TopicManager struct {
	hot    hotstore.Store
	warm   warmstore.Store
	namer  keys.Namer
	logger logrus.FieldLogger
}

// NewTopicManager wires a manager over both tiers.
func NewTopicManager(hot hotstore.Store, warm warmstore.Store, namer keys.Namer, logger logrus.FieldLogger) *TopicManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &TopicManager{hot: hot, warm: warm, namer: namer, logger: logger}
}

// EnsureTopic materialises the topic's log and records topic metadata in
// the warm store. Idempotent.
func (m *TopicManager) EnsureTopic(ctx context.Context, topic string) error {
	log := m.namer.Topic(topic)
	err := m.hot.GroupCreate(ctx, log, bootstrapGroup, "0")
	if err != nil && !errors.Is(err, hotstore.ErrGroupExists) {
		return StoreError("ensure topic", err).WithTopic(topic)
	}
	if err == nil {
		if err := m.hot.GroupDestroy(ctx, log, bootstrapGroup); err != nil {
			return StoreError("ensure topic", err).WithTopic(topic)
		}
	}

	now := time.Now().UTC()
	doc := warmstore.TopicDoc{
		Topic:     topic,
		Tenant:    m.namer.Tenant,
		Shards:    1,
		CreatedAt: now,
		System:    warmstore.SystemMeta{UpdatedAt: now},
	}
	filter := warmstore.Filter{"topic": topic, "tenant": m.namer.Tenant}
	if err := m.warm.Upsert(ctx, warmstore.CollectionTopics, filter, doc); err != nil {
		return StoreError("persist topic metadata", err).WithTopic(topic)
	}
	m.logger.WithFields(logrus.Fields{"topic": topic, "tenant": m.namer.Tenant}).Debug("Topic ensured")
	return nil
}

// EnsureSubscription ensures the topic, creates the consumer group and
// persists the effective subscription configuration. Idempotent; an
// existing subscription keeps its group position but its stored
// configuration is refreshed.
func (m *TopicManager) EnsureSubscription(ctx context.Context, topic, subscription string, cfg SubscriptionConfig) (SubscriptionConfig, error) {
	if err := m.EnsureTopic(ctx, topic); err != nil {
		return SubscriptionConfig{}, err
	}
	effective := cfg.withDefaults()

	log := m.namer.Topic(topic)
	group := m.namer.Group(subscription)
	err := m.hot.GroupCreate(ctx, log, group, "0")
	if err != nil && !errors.Is(err, hotstore.ErrGroupExists) {
		return SubscriptionConfig{}, StoreError("create subscription group", err).
			WithTopic(topic).WithSubscription(subscription)
	}

	state, err := encodeSubscriptionState(effective, codec.NowISO())
	if err != nil {
		return SubscriptionConfig{}, StoreError("encode subscription config", err).
			WithTopic(topic).WithSubscription(subscription)
	}
	configKey := m.namer.SubscriptionConfig(topic, subscription)
	if err := m.hot.HashSet(ctx, configKey, "config", state); err != nil {
		return SubscriptionConfig{}, StoreError("persist subscription config", err).
			WithTopic(topic).WithSubscription(subscription)
	}

	m.logger.WithFields(logrus.Fields{
		"topic":          topic,
		"subscription":   subscription,
		"max_deliveries": effective.MaxDeliveries,
		"visibility":     effective.VisibilityTimeout,
	}).Info("Subscription ensured")
	return effective, nil
}

// GetSubscriptionConfig loads the persisted configuration. Returns
// ErrSubscriptionNotFound when the subscription has never been ensured.
func (m *TopicManager) GetSubscriptionConfig(ctx context.Context, topic, subscription string) (SubscriptionConfig, error) {
	configKey := m.namer.SubscriptionConfig(topic, subscription)
	raw, ok, err := m.hot.HashGet(ctx, configKey, "config")
	if err != nil {
		return SubscriptionConfig{}, StoreError("load subscription config", err).
			WithTopic(topic).WithSubscription(subscription)
	}
	if !ok {
		return SubscriptionConfig{}, SubscriptionNotFoundError(topic, subscription)
	}
	cfg, err := decodeSubscriptionState(raw)
	if err != nil {
		return SubscriptionConfig{}, StoreError("decode subscription config", err).
			WithTopic(topic).WithSubscription(subscription)
	}
	return cfg, nil
}

// DeleteSubscription removes the consumer group and its stored
// configuration. In-flight entries are dropped with the group.
func (m *TopicManager) DeleteSubscription(ctx context.Context, topic, subscription string) error {
	log := m.namer.Topic(topic)
	if err := m.hot.GroupDestroy(ctx, log, m.namer.Group(subscription)); err != nil && !errors.Is(err, hotstore.ErrNotFound) {
		return StoreError("destroy subscription group", err).
			WithTopic(topic).WithSubscription(subscription)
	}
	if _, err := m.hot.KVDel(ctx, m.namer.SubscriptionConfig(topic, subscription)); err != nil {
		return StoreError("delete subscription config", err).
			WithTopic(topic).WithSubscription(subscription)
	}
	m.logger.WithFields(logrus.Fields{"topic": topic, "subscription": subscription}).Info("Subscription deleted")
	return nil
}

// PurgeTopic deletes the topic's log and re-ensures an empty topic, so the
// topic stays usable for subsequent publishes.
func (m *TopicManager) PurgeTopic(ctx context.Context, topic string) error {
	if err := m.hot.LogDelete(ctx, m.namer.Topic(topic)); err != nil {
		return StoreError("purge topic", err).WithTopic(topic)
	}
	return m.EnsureTopic(ctx, topic)
}

// Stats reports the topic's current length and group count.
func (m *TopicManager) Stats(ctx context.Context, topic string) (*TopicStats, error) {
	info, err := m.hot.LogInfo(ctx, m.namer.Topic(topic))
	if err != nil {
		return nil, StoreError("topic stats", err).WithTopic(topic)
	}
	return &TopicStats{Topic: topic, Length: info.Length, Groups: info.Groups}, nil
}
