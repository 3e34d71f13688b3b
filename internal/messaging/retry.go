package messaging

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
)

// jitterFraction is the maximum random extension applied to a base delay.
const jitterFraction = 0.2

// RetryEntry is one scheduled redelivery, stored as a sorted-set member
// scored by its next-attempt time.
type RetryEntry struct {
	OriginalID    string            `json:"originalId"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers"`
	Attempt       int               `json:"attempt"`
	NextAttemptMs int64             `json:"nextAttemptMs"`

	// member is the exact serialised form the entry was inserted with.
	// Removal matches on this string, never on a re-serialisation.
	member string
}

// RetryScheduler delays redeliveries by scoring them in a sorted set and
// draining members whose score has come due.
type RetryScheduler struct {
	hot    hotstore.Store
	namer  keys.Namer
	logger logrus.FieldLogger
}

// NewRetryScheduler wires a scheduler.
func NewRetryScheduler(hot hotstore.Store, namer keys.Namer, logger logrus.FieldLogger) *RetryScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &RetryScheduler{hot: hot, namer: namer, logger: logger}
}

// Schedule inserts a redelivery for a 1-based attempt number. The delay is
// the subscription's backoff for the attempt plus up to 20% random jitter;
// delayOverride, when positive, replaces the backoff base.
func (s *RetryScheduler) Schedule(ctx context.Context, topic, subscription string, cfg SubscriptionConfig,
	originalID string, payload json.RawMessage, headers map[string]string, attempt int, delayOverride time.Duration) error {

	base := cfg.BackoffFor(attempt - 1)
	if delayOverride > 0 {
		base = delayOverride
	}
	delay := base + time.Duration(rand.Float64()*jitterFraction*float64(base))
	nextAttempt := time.Now().Add(delay).UnixMilli()

	entry := RetryEntry{
		OriginalID:    originalID,
		Payload:       payload,
		Headers:       headers,
		Attempt:       attempt,
		NextAttemptMs: nextAttempt,
	}
	member, err := json.Marshal(entry)
	if err != nil {
		return StoreError("encode retry entry", err).WithTopic(topic).WithMessageID(originalID)
	}

	key := s.namer.Retry(topic, subscription)
	if err := s.hot.ZAdd(ctx, key, float64(nextAttempt), string(member)); err != nil {
		return StoreError("schedule retry", err).WithTopic(topic).WithMessageID(originalID)
	}
	s.logger.WithFields(logrus.Fields{
		"topic":        topic,
		"subscription": subscription,
		"msg_id":       originalID,
		"attempt":      attempt,
		"delay":        delay,
	}).Debug("Retry scheduled")
	return nil
}

// DrainReady returns entries whose next-attempt time has passed, in
// non-decreasing score order, up to limit.
func (s *RetryScheduler) DrainReady(ctx context.Context, topic, subscription string, limit int64) ([]RetryEntry, error) {
	key := s.namer.Retry(topic, subscription)
	members, err := s.hot.ZRangeByScore(ctx, key, math.Inf(-1), float64(time.Now().UnixMilli()), limit)
	if err != nil {
		return nil, StoreError("drain retries", err).WithTopic(topic)
	}
	entries := make([]RetryEntry, 0, len(members))
	for _, member := range members {
		var entry RetryEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			// A malformed member can never be re-appended; drop it so the
			// drain does not wedge.
			s.logger.WithError(err).WithField("topic", topic).Warn("Dropping malformed retry entry")
			_, _ = s.hot.ZRem(ctx, key, member)
			continue
		}
		entry.member = member
		entries = append(entries, entry)
	}
	return entries, nil
}

// Remove deletes a drained entry by its exact member string.
func (s *RetryScheduler) Remove(ctx context.Context, topic, subscription string, entry RetryEntry) error {
	if entry.member == "" {
		// Only entries returned by DrainReady can be removed.
		return StoreError("remove retry", ErrParse).WithTopic(topic).WithMessageID(entry.OriginalID)
	}
	key := s.namer.Retry(topic, subscription)
	if _, err := s.hot.ZRem(ctx, key, entry.member); err != nil {
		return StoreError("remove retry", err).WithTopic(topic).WithMessageID(entry.OriginalID)
	}
	return nil
}

// Size reports the number of scheduled retries for (topic, subscription).
func (s *RetryScheduler) Size(ctx context.Context, topic, subscription string) (int64, error) {
	n, err := s.hot.ZCard(ctx, s.namer.Retry(topic, subscription))
	if err != nil {
		return 0, StoreError("retry size", err).WithTopic(topic)
	}
	return n, nil
}
