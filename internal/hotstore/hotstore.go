// Package hotstore defines the low-latency command surface the broker is
// built on: an append-only log with consumer groups, a keyed byte store
// with TTL, hash fields, and a sorted set used for retry scheduling.
//
// Two production implementations exist: RedisStore maps each operation onto
// a native Redis command, and MongoStore reproduces the same semantics over
// MongoDB collections with polling. MemStore is a process-local
// implementation used by tests and as a development fallback.
package hotstore

import (
	"context"
	"errors"
	"time"
)

// Common sentinel errors returned by Store implementations.
var (
	// ErrGroupExists is returned by GroupCreate when the consumer group is
	// already present on the log.
	ErrGroupExists = errors.New("consumer group already exists")
	// ErrNotFound is returned when a log or group the operation requires
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotSupported is returned when the backend cannot service the
	// requested primitive (for example XAUTOCLAIM on an old Redis server).
	ErrNotSupported = errors.New("operation not supported by backend")
)

// Entry is a single log entry: its backend-assigned id and the field map it
// was appended with. Ids are monotonically increasing within one log and
// have the shape "<ms-timestamp>-<seq>".
type Entry struct {
	ID     string
	Fields map[string]string
}

// PendingEntry describes one in-flight entry of a consumer group.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// LogInfo summarises a log for stats reporting.
type LogInfo struct {
	Length int64
	Groups int64
}

// Store is the hot-tier capability set. All operations must be safe under
// concurrent callers; the store is the single source of mutual exclusion
// for group delivery (an entry is held by at most one consumer at a time).
type Store interface {
	// Connect establishes the connection. It must respect ctx deadlines.
	Connect(ctx context.Context) error
	// Close releases the connection. In-flight entries stay in-flight.
	Close(ctx context.Context) error
	// Ping checks liveness.
	Ping(ctx context.Context) error

	// KVSet overwrites key with value, expiring after ttl if ttl > 0.
	KVSet(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// KVGet returns the current value, or (nil, nil) if absent or expired.
	KVGet(ctx context.Context, key string) ([]byte, error)
	// KVDel removes keys and reports how many were actually removed.
	KVDel(ctx context.Context, keys ...string) (int64, error)
	// KVExists reports how many of the given keys currently exist.
	KVExists(ctx context.Context, keys ...string) (int64, error)
	// KVExpire sets a TTL on an existing key; false if the key is absent.
	KVExpire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// HashSet sets one field of a hash-shaped value.
	HashSet(ctx context.Context, key, field, value string) error
	// HashGet reads one field; the bool reports presence.
	HashGet(ctx context.Context, key, field string) (string, bool, error)

	// LogAppend appends fields to the log, soft-trims toward maxLen when
	// maxLen > 0, and returns the new entry id.
	LogAppend(ctx context.Context, log string, fields map[string]string, maxLen int64) (string, error)
	// LogAppendBatch appends several entries in one round trip where the
	// backend supports pipelining, returning the assigned ids in order.
	LogAppendBatch(ctx context.Context, log string, entries []map[string]string, maxLen int64) ([]string, error)
	// LogLen returns the current entry count.
	LogLen(ctx context.Context, log string) (int64, error)
	// LogRange reads entries in [start, end], oldest first, up to count.
	// "-" and "+" denote the first and last possible ids.
	LogRange(ctx context.Context, log, start, end string, count int64) ([]Entry, error)
	// LogInfo summarises the log. A missing log yields a zero LogInfo.
	LogInfo(ctx context.Context, log string) (*LogInfo, error)
	// LogDelete removes the log and all of its consumer groups.
	LogDelete(ctx context.Context, log string) error

	// GroupCreate creates a consumer group reading from startID ("0" for
	// the beginning, "$" for new entries only). The log is materialised if
	// it does not exist. Returns ErrGroupExists when already present.
	GroupCreate(ctx context.Context, log, group, startID string) error
	// GroupDestroy removes a consumer group and its in-flight state.
	GroupDestroy(ctx context.Context, log, group string) error
	// GroupRead delivers up to count never-before-delivered entries to
	// consumer, blocking up to block if none are available. Each returned
	// entry becomes in-flight for (group, consumer).
	GroupRead(ctx context.Context, log, group, consumer string, block time.Duration, count int64) ([]Entry, error)
	// GroupAck removes entries from the group's in-flight set.
	GroupAck(ctx context.Context, log, group string, ids ...string) (int64, error)
	// GroupReclaim transfers in-flight entries idle for at least minIdle to
	// consumer, resetting their idle clock, and returns them.
	GroupReclaim(ctx context.Context, log, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error)
	// GroupClaim transfers the specific in-flight ids to consumer if they
	// have been idle for at least minIdle. Fallback path for backends
	// where GroupReclaim returns ErrNotSupported.
	GroupClaim(ctx context.Context, log, group, consumer string, minIdle time.Duration, ids ...string) ([]Entry, error)
	// GroupPending inspects up to count in-flight entries.
	GroupPending(ctx context.Context, log, group string, count int64) ([]PendingEntry, error)

	// ZAdd inserts or updates a scored member.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRangeByScore returns members with score in [min, max], ascending by
	// score, up to limit (limit <= 0 means no limit).
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)
	// ZRem removes members and reports how many were removed.
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	// ZCard returns the member count.
	ZCard(ctx context.Context, key string) (int64, error)
}
