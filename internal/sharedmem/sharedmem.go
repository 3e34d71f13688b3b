// Package sharedmem is the keyed value surface of the broker: JSON values
// in the hot tier with TTL, optionally mirrored to the warm tier and read
// back through it when the hot copy has expired.
package sharedmem

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"dev.chronow.messaging/internal/codec"
	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
	"dev.chronow.messaging/internal/messaging"
	"dev.chronow.messaging/internal/warmstore"
)

// PersistMode selects how a value is mirrored to the warm tier.
type PersistMode int

const (
	// PersistNone keeps the value hot-only.
	PersistNone PersistMode = iota
	// PersistLatest upserts one warm row per key, overwritten on every Set.
	PersistLatest
	// PersistAppend inserts a new warm row on every Set, keeping history.
	PersistAppend
)

// SetOption customises one Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl     time.Duration
	persist PersistMode
}

// WithTTL expires the hot copy after ttl.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// WithPersist mirrors the value to the warm tier.
func WithPersist(mode PersistMode) SetOption {
	return func(o *setOptions) {
		o.persist = mode
	}
}

// Engine is the shared-memory surface over both tiers.
type Engine struct {
	hot   hotstore.Store
	warm  warmstore.Store
	namer keys.Namer

	maxValueBytes int64
	logger        logrus.FieldLogger
}

// New wires an engine. maxValueBytes bounds every encoded value.
func New(hot hotstore.Store, warm warmstore.Store, namer keys.Namer, maxValueBytes int64, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		hot:           hot,
		warm:          warm,
		namer:         namer,
		maxValueBytes: maxValueBytes,
		logger:        logger,
	}
}

// Set encodes value as JSON and stores it under key. With no TTL the hot
// copy lives until deleted.
func (e *Engine) Set(ctx context.Context, key string, value interface{}, opts ...SetOption) error {
	var options setOptions
	for _, opt := range opts {
		opt(&options)
	}

	encoded, err := codec.EncodeJSON(value, e.maxValueBytes)
	if err != nil {
		if errors.Is(err, codec.ErrTooLarge) {
			return messaging.PayloadTooLargeError("", int64(len(encoded)), e.maxValueBytes)
		}
		return messaging.NewBrokerError(messaging.ErrCodeStoreError, "encode value", err)
	}
	if err := e.hot.KVSet(ctx, e.namer.SharedMemory(key), encoded, options.ttl); err != nil {
		return messaging.StoreError("set value", err).WithMessageID(key)
	}

	if options.persist != PersistNone {
		if err := e.mirror(ctx, key, encoded, options.persist); err != nil {
			return err
		}
	}
	e.logger.WithFields(logrus.Fields{
		"key":  key,
		"ttl":  options.ttl,
		"size": len(encoded),
	}).Debug("Shared memory set")
	return nil
}

// Get decodes the value under key into out. A hot miss falls through to
// the warm tier; a warm hit is not rehydrated into the hot tier, so a
// value past its TTL never comes back hot. Returns false when the key is
// unknown to both tiers or was tombstoned.
func (e *Engine) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, err := e.hot.KVGet(ctx, e.namer.SharedMemory(key))
	if err != nil {
		return false, messaging.StoreError("get value", err).WithMessageID(key)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, messaging.ParseError(key, err)
		}
		return true, nil
	}

	var doc warmstore.SharedMemoryDoc
	found, err := e.warm.FindOne(ctx, warmstore.CollectionSharedMemory, e.warmFilter(key), &doc)
	if err != nil {
		return false, messaging.StoreError("warm get value", err).WithMessageID(key)
	}
	if !found || doc.System.Tombstone {
		return false, nil
	}
	if err := json.Unmarshal(doc.Value, out); err != nil {
		return false, messaging.ParseError(key, err)
	}
	return true, nil
}

// Del removes the hot copy. With tombstone true the warm row is kept but
// marked deleted, so Get no longer serves it.
func (e *Engine) Del(ctx context.Context, key string, tombstone bool) error {
	if _, err := e.hot.KVDel(ctx, e.namer.SharedMemory(key)); err != nil {
		return messaging.StoreError("delete value", err).WithMessageID(key)
	}
	if tombstone {
		now := time.Now().UTC()
		doc := warmstore.SharedMemoryDoc{
			Key:       key,
			Namespace: e.namer.Namespace,
			Tenant:    e.namer.Tenant,
			System: warmstore.SystemMeta{
				UpdatedAt: now,
				Tombstone: true,
				DeletedAt: &now,
			},
		}
		if err := e.warm.Upsert(ctx, warmstore.CollectionSharedMemory, e.warmFilter(key), doc); err != nil {
			return messaging.StoreError("tombstone value", err).WithMessageID(key)
		}
	}
	return nil
}

// Exists reports whether the hot copy is present.
func (e *Engine) Exists(ctx context.Context, key string) (bool, error) {
	n, err := e.hot.KVExists(ctx, e.namer.SharedMemory(key))
	if err != nil {
		return false, messaging.StoreError("check value", err).WithMessageID(key)
	}
	return n > 0, nil
}

// Expire resets the hot copy's TTL. Returns false when the key is absent.
func (e *Engine) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := e.hot.KVExpire(ctx, e.namer.SharedMemory(key), ttl)
	if err != nil {
		return false, messaging.StoreError("expire value", err).WithMessageID(key)
	}
	return ok, nil
}

func (e *Engine) mirror(ctx context.Context, key string, encoded []byte, mode PersistMode) error {
	now := time.Now().UTC()
	doc := warmstore.SharedMemoryDoc{
		Key:       key,
		Namespace: e.namer.Namespace,
		Tenant:    e.namer.Tenant,
		Value:     encoded,
		System:    warmstore.SystemMeta{CreatedAt: now, UpdatedAt: now},
	}
	switch mode {
	case PersistLatest:
		if err := e.warm.Upsert(ctx, warmstore.CollectionSharedMemory, e.warmFilter(key), doc); err != nil {
			return messaging.StoreError("warm mirror value", err).WithMessageID(key)
		}
	case PersistAppend:
		if err := e.warm.Insert(ctx, warmstore.CollectionSharedMemory, doc); err != nil {
			return messaging.StoreError("warm append value", err).WithMessageID(key)
		}
	}
	return nil
}

func (e *Engine) warmFilter(key string) warmstore.Filter {
	return warmstore.Filter{
		"key":       key,
		"namespace": e.namer.Namespace,
		"tenant":    e.namer.Tenant,
	}
}
