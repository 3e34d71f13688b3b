// Package dlq re-drives parked messages: it walks a topic's dead-letter
// log and republishes or discards each letter according to a caller-chosen
// policy.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dev.chronow.messaging/internal/codec"
	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
	"dev.chronow.messaging/internal/messaging"
)

// redriveGroup is the consumer group the reprocessor registers on each
// dead-letter log. Acking through a group is what lets processed letters
// disappear without rewriting the log.
const redriveGroup = "sub:__redrive__"

// Decision is the outcome of a redrive policy for one letter.
type Decision int

const (
	// Republish sends the letter's payload back to its original topic.
	Republish Decision = iota
	// Discard drops the letter without republishing.
	Discard
	// Keep leaves the letter parked for a later pass.
	Keep
)

// Policy decides what to do with one parked message.
type Policy func(ctx context.Context, letter messaging.DeadLetter) Decision

// RepublishAll is the default policy.
func RepublishAll(context.Context, messaging.DeadLetter) Decision {
	return Republish
}

// Config tunes the reprocessor loop.
type Config struct {
	// PollInterval is how often the dead-letter log is scanned.
	PollInterval time.Duration
	// BatchSize caps letters handled per scan.
	BatchSize int64
	// ProcessingTimeout bounds one full batch.
	ProcessingTimeout time.Duration
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      5 * time.Second,
		BatchSize:         10,
		ProcessingTimeout: 30 * time.Second,
	}
}

// Stats counts reprocessor outcomes since Start.
type Stats struct {
	Republished int64
	Discarded   int64
	Kept        int64
	Errors      int64
}

// Reprocessor drains one topic's dead-letter log in the background.
type Reprocessor struct {
	config   Config
	hot      hotstore.Store
	producer *messaging.Producer
	namer    keys.Namer
	topic    string
	policy   Policy
	logger   *zap.Logger

	republished atomic.Int64
	discarded   atomic.Int64
	kept        atomic.Int64
	errs        atomic.Int64

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReprocessor wires a reprocessor for one topic. A nil policy
// republishes everything.
func NewReprocessor(hot hotstore.Store, producer *messaging.Producer, namer keys.Namer,
	topic string, policy Policy, config Config, logger *zap.Logger) *Reprocessor {
	if policy == nil {
		policy = RepublishAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = DefaultConfig().ProcessingTimeout
	}
	return &Reprocessor{
		config:   config,
		hot:      hot,
		producer: producer,
		namer:    namer,
		topic:    topic,
		policy:   policy,
		logger:   logger,
	}
}

// Start begins the polling loop.
func (r *Reprocessor) Start(ctx context.Context) error {
	if r.running.Load() {
		return fmt.Errorf("reprocessor already running")
	}
	log := r.namer.DLQ(r.topic)
	if err := r.hot.GroupCreate(ctx, log, redriveGroup, "0"); err != nil && !errors.Is(err, hotstore.ErrGroupExists) {
		return fmt.Errorf("create redrive group: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running.Store(true)

	r.wg.Add(1)
	go r.loop(loopCtx)

	r.logger.Info("DLQ reprocessor started",
		zap.String("topic", r.topic),
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Int64("batch_size", r.config.BatchSize))
	return nil
}

// Stop halts the loop and waits for the in-flight batch.
func (r *Reprocessor) Stop() error {
	if !r.running.Load() {
		return nil
	}
	r.cancel()
	r.wg.Wait()
	r.running.Store(false)

	r.logger.Info("DLQ reprocessor stopped",
		zap.String("topic", r.topic),
		zap.Int64("republished", r.republished.Load()),
		zap.Int64("discarded", r.discarded.Load()))
	return nil
}

// GetStats returns outcome counts since Start.
func (r *Reprocessor) GetStats() Stats {
	return Stats{
		Republished: r.republished.Load(),
		Discarded:   r.discarded.Load(),
		Kept:        r.kept.Load(),
		Errors:      r.errs.Load(),
	}
}

func (r *Reprocessor) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch runs one scan immediately. Exposed for tests and for
// operators who want a single on-demand pass.
func (r *Reprocessor) ProcessBatch(ctx context.Context) {
	batchCtx, cancel := context.WithTimeout(ctx, r.config.ProcessingTimeout)
	defer cancel()

	log := r.namer.DLQ(r.topic)

	// Kept letters sit in the pending set; claim them back once they have
	// idled a full poll interval so the policy sees them again.
	entries, err := r.hot.GroupReclaim(batchCtx, log, redriveGroup, "redrive", r.config.PollInterval, r.config.BatchSize)
	if err != nil && !errors.Is(err, hotstore.ErrNotSupported) && !errors.Is(err, hotstore.ErrNotFound) {
		r.errs.Add(1)
		r.logger.Error("Failed to reclaim kept dead letters",
			zap.String("topic", r.topic), zap.Error(err))
		return
	}
	if len(entries) == 0 {
		entries, err = r.hot.GroupRead(batchCtx, log, redriveGroup, "redrive", 0, r.config.BatchSize)
		if err != nil {
			if errors.Is(err, hotstore.ErrNotFound) {
				return
			}
			r.errs.Add(1)
			r.logger.Error("Failed to read dead-letter log",
				zap.String("topic", r.topic), zap.Error(err))
			return
		}
	}

	for _, entry := range entries {
		if err := r.processEntry(batchCtx, log, entry); err != nil {
			r.errs.Add(1)
			r.logger.Error("Failed to process dead letter",
				zap.String("topic", r.topic),
				zap.String("id", entry.ID),
				zap.Error(err))
		}
	}
}

func (r *Reprocessor) processEntry(ctx context.Context, log string, entry hotstore.Entry) error {
	letter, err := parseLetter(entry)
	if err != nil {
		// Undecodable letters are acked away; they can never redrive.
		r.logger.Warn("Discarding undecodable dead letter",
			zap.String("topic", r.topic), zap.String("id", entry.ID), zap.Error(err))
		r.discarded.Add(1)
		_, ackErr := r.hot.GroupAck(ctx, log, redriveGroup, entry.ID)
		return ackErr
	}

	switch r.policy(ctx, letter) {
	case Republish:
		opts := []messaging.PublishOption{}
		if len(letter.Headers) > 0 {
			opts = append(opts, messaging.WithHeaders(letter.Headers))
		}
		msgID, err := r.producer.Publish(ctx, r.topic, letter.Payload, opts...)
		if err != nil {
			return err
		}
		r.republished.Add(1)
		r.logger.Info("Dead letter republished",
			zap.String("topic", r.topic),
			zap.String("original_id", letter.OriginalMsgID),
			zap.String("new_id", msgID))
	case Discard:
		r.discarded.Add(1)
		r.logger.Info("Dead letter discarded",
			zap.String("topic", r.topic),
			zap.String("original_id", letter.OriginalMsgID),
			zap.String("reason", letter.Reason))
	case Keep:
		r.kept.Add(1)
		// Stays pending; the next batch reclaims it after it idles.
		return nil
	}

	_, err = r.hot.GroupAck(ctx, log, redriveGroup, entry.ID)
	return err
}

func parseLetter(entry hotstore.Entry) (messaging.DeadLetter, error) {
	payload := entry.Fields[codec.FieldPayload]
	if !json.Valid([]byte(payload)) {
		return messaging.DeadLetter{}, fmt.Errorf("letter payload is not valid JSON")
	}
	letter := messaging.DeadLetter{
		ID:            entry.ID,
		OriginalMsgID: entry.Fields[codec.FieldOriginalMsgID],
		Payload:       json.RawMessage(payload),
		Headers:       map[string]string{},
		Reason:        entry.Fields[codec.FieldReason],
		FailedAt:      entry.Fields[codec.FieldFailedAt],
	}
	if raw := entry.Fields[codec.FieldHeaders]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &letter.Headers); err != nil {
			return messaging.DeadLetter{}, fmt.Errorf("letter headers: %w", err)
		}
	}
	if raw := entry.Fields[codec.FieldDeliveries]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return messaging.DeadLetter{}, fmt.Errorf("letter deliveries: %w", err)
		}
		letter.Deliveries = n
	}
	return letter, nil
}
