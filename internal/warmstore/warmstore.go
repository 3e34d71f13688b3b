// Package warmstore is the durable tier behind the broker: mirrored
// messages, shared-memory values, topic metadata and dead letters. The hot
// tier is a bounded cache; this tier is the source of truth for anything
// the caller asked to persist.
package warmstore

import (
	"context"
	"time"
)

// Collection names owned by the broker. External code must not write to
// them.
const (
	CollectionSharedMemory = "shared_memory"
	CollectionTopics       = "topics"
	CollectionMessages     = "messages"
	CollectionDeadLetters  = "dead_letters"
)

// SystemMeta is the bookkeeping sub-document carried by every warm row.
type SystemMeta struct {
	CreatedAt     time.Time  `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt     time.Time  `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
	RetentionDays int        `bson:"retentionDays,omitempty" json:"retentionDays,omitempty"`
	Tombstone     bool       `bson:"tombstone,omitempty" json:"tombstone,omitempty"`
	DeletedAt     *time.Time `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
}

// SharedMemoryDoc mirrors one shared-memory value.
type SharedMemoryDoc struct {
	Key       string     `bson:"key" json:"key"`
	Namespace string     `bson:"namespace" json:"namespace"`
	Tenant    string     `bson:"tenant" json:"tenant"`
	Value     []byte     `bson:"value" json:"value"`
	System    SystemMeta `bson:"_system" json:"_system"`
}

// TopicDoc records topic metadata.
type TopicDoc struct {
	Topic     string     `bson:"topic" json:"topic"`
	Tenant    string     `bson:"tenant" json:"tenant"`
	Shards    int        `bson:"shards" json:"shards"`
	CreatedAt time.Time  `bson:"createdAt" json:"createdAt"`
	System    SystemMeta `bson:"_system" json:"_system"`
}

// MessageDoc mirrors one published message.
type MessageDoc struct {
	Topic       string            `bson:"topic" json:"topic"`
	MsgID       string            `bson:"msgId" json:"msgId"`
	Tenant      string            `bson:"tenant" json:"tenant"`
	Headers     map[string]string `bson:"headers" json:"headers"`
	Payload     []byte            `bson:"payload" json:"payload"`
	FirstSeenAt time.Time         `bson:"firstSeenAt" json:"firstSeenAt"`
	Size        int               `bson:"size" json:"size"`
	System      SystemMeta        `bson:"_system" json:"_system"`
}

// DeadLetterDoc records one dead-lettered message.
type DeadLetterDoc struct {
	Topic      string            `bson:"topic" json:"topic"`
	MsgID      string            `bson:"msgId" json:"msgId"`
	Tenant     string            `bson:"tenant" json:"tenant"`
	Reason     string            `bson:"reason" json:"reason"`
	Headers    map[string]string `bson:"headers" json:"headers"`
	Payload    []byte            `bson:"payload" json:"payload"`
	FailedAt   time.Time         `bson:"failedAt" json:"failedAt"`
	Deliveries int               `bson:"deliveries" json:"deliveries"`
	System     SystemMeta        `bson:"_system" json:"_system"`
}

// Filter is a set of equality conditions on document fields.
type Filter map[string]interface{}

// Store is the durable-tier surface the broker consumes. Implementations
// must be safe for concurrent use.
type Store interface {
	// Connect establishes the connection and ensures indexes.
	Connect(ctx context.Context) error
	// Close releases the connection.
	Close(ctx context.Context) error

	// Insert adds one document to the named collection.
	Insert(ctx context.Context, collection string, doc interface{}) error
	// Upsert replaces the document matching filter, inserting if absent.
	Upsert(ctx context.Context, collection string, filter Filter, doc interface{}) error
	// FindOne decodes the first match into out. Returns (false, nil) when
	// nothing matches.
	FindOne(ctx context.Context, collection string, filter Filter, out interface{}) (bool, error)
	// Find decodes all matches into out (a pointer to a slice).
	Find(ctx context.Context, collection string, filter Filter, out interface{}) error
	// DeleteMany removes matching documents and reports the count.
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)
}
