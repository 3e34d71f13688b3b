package hotstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the native backend connection.
type RedisOptions struct {
	// URL is a redis:// or rediss:// endpoint. Ignored when ClusterNodes
	// is set.
	URL string
	// ClusterNodes, when non-empty, selects cluster mode.
	ClusterNodes []string
	// TLS enables TLS even when the URL scheme does not.
	TLS bool
	// CACertFile is an optional PEM bundle for server verification.
	CACertFile string
	// Username and Password override any credentials in the URL.
	Username string
	Password string
	// DB selects the logical database (single-node only).
	DB int
	// RetryBackoff is the minimum backoff between command retries.
	RetryBackoff time.Duration
}

// RedisStore implements Store on a real Redis server using streams,
// consumer groups, sorted sets and hashes. Every operation maps onto a
// single native command, so mutual exclusion between readers is provided
// by the server itself.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore builds a store from opts. The connection is not
// established until Connect.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	tlsConfig, err := redisTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	if len(opts.ClusterNodes) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           opts.ClusterNodes,
			Username:        opts.Username,
			Password:        opts.Password,
			TLSConfig:       tlsConfig,
			MinRetryBackoff: opts.RetryBackoff,
		})
	} else {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if opts.Username != "" {
			parsed.Username = opts.Username
		}
		if opts.Password != "" {
			parsed.Password = opts.Password
		}
		if opts.DB != 0 {
			parsed.DB = opts.DB
		}
		if tlsConfig != nil {
			parsed.TLSConfig = tlsConfig
		}
		if opts.RetryBackoff > 0 {
			parsed.MinRetryBackoff = opts.RetryBackoff
		}
		client = redis.NewClient(parsed)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests that run
// against miniredis.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisTLSConfig(opts RedisOptions) (*tls.Config, error) {
	if !opts.TLS && opts.CACertFile == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.CACertFile != "" {
		pem, err := os.ReadFile(opts.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca cert %s contains no certificates", opts.CACertFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Connect verifies the server is reachable.
func (s *RedisStore) Connect(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close(ctx context.Context) error {
	return s.client.Close()
}

// Ping checks liveness.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for pipelined access.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

func (s *RedisStore) KVSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) KVGet(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (s *RedisStore) KVDel(ctx context.Context, keys ...string) (int64, error) {
	return s.client.Del(ctx, keys...).Result()
}

func (s *RedisStore) KVExists(ctx context.Context, keys ...string) (int64, error) {
	return s.client.Exists(ctx, keys...).Result()
}

func (s *RedisStore) KVExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.Expire(ctx, key, ttl).Result()
}

func (s *RedisStore) HashSet(ctx context.Context, key, field, value string) error {
	return s.client.HSet(ctx, key, field, value).Err()
}

func (s *RedisStore) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) LogAppend(ctx context.Context, log string, fields map[string]string, maxLen int64) (string, error) {
	return s.client.XAdd(ctx, xAddArgs(log, fields, maxLen)).Result()
}

func (s *RedisStore) LogAppendBatch(ctx context.Context, log string, entries []map[string]string, maxLen int64) ([]string, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(entries))
	for i, fields := range entries {
		cmds[i] = pipe.XAdd(ctx, xAddArgs(log, fields, maxLen))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		id, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func xAddArgs(log string, fields map[string]string, maxLen int64) *redis.XAddArgs {
	args := &redis.XAddArgs{Stream: log, ID: "*", Values: fields}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return args
}

func (s *RedisStore) LogLen(ctx context.Context, log string) (int64, error) {
	return s.client.XLen(ctx, log).Result()
}

func (s *RedisStore) LogRange(ctx context.Context, log, start, end string, count int64) ([]Entry, error) {
	msgs, err := s.client.XRangeN(ctx, log, start, end, count).Result()
	if err != nil {
		return nil, err
	}
	return fromXMessages(msgs), nil
}

func (s *RedisStore) LogInfo(ctx context.Context, log string) (*LogInfo, error) {
	info, err := s.client.XInfoStream(ctx, log).Result()
	if err != nil {
		if isNoSuchKey(err) {
			return &LogInfo{}, nil
		}
		return nil, err
	}
	groups, err := s.client.XInfoGroups(ctx, log).Result()
	if err != nil && !isNoSuchKey(err) {
		return nil, err
	}
	return &LogInfo{Length: info.Length, Groups: int64(len(groups))}, nil
}

func (s *RedisStore) LogDelete(ctx context.Context, log string) error {
	return s.client.Del(ctx, log).Err()
}

func (s *RedisStore) GroupCreate(ctx context.Context, log, group, startID string) error {
	err := s.client.XGroupCreateMkStream(ctx, log, group, startID).Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return ErrGroupExists
	}
	return err
}

func (s *RedisStore) GroupDestroy(ctx context.Context, log, group string) error {
	return s.client.XGroupDestroy(ctx, log, group).Err()
}

func (s *RedisStore) GroupRead(ctx context.Context, log, group, consumer string, block time.Duration, count int64) ([]Entry, error) {
	// BLOCK 0 means forever in Redis; a negative value omits BLOCK so
	// block <= 0 stays a non-blocking read.
	if block <= 0 {
		block = -1
	}
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{log, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var entries []Entry
	for _, stream := range streams {
		entries = append(entries, fromXMessages(stream.Messages)...)
	}
	return entries, nil
}

func (s *RedisStore) GroupAck(ctx context.Context, log, group string, ids ...string) (int64, error) {
	return s.client.XAck(ctx, log, group, ids...).Result()
}

func (s *RedisStore) GroupReclaim(ctx context.Context, log, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   log,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if isNoSuchKey(err) || strings.Contains(err.Error(), "NOGROUP") {
			return nil, nil
		}
		if strings.Contains(err.Error(), "unknown command") {
			return nil, ErrNotSupported
		}
		return nil, err
	}
	return fromXMessages(msgs), nil
}

func (s *RedisStore) GroupClaim(ctx context.Context, log, group, consumer string, minIdle time.Duration, ids ...string) ([]Entry, error) {
	msgs, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   log,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromXMessages(msgs), nil
}

func (s *RedisStore) GroupPending(ctx context.Context, log, group string, count int64) ([]PendingEntry, error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: log,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if isNoSuchKey(err) || strings.Contains(err.Error(), "NOGROUP") {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]PendingEntry, len(pending))
	for i, p := range pending {
		entries[i] = PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		}
	}
	return entries, nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	rangeBy := &redis.ZRangeBy{Min: formatScore(min), Max: formatScore(max)}
	if limit > 0 {
		rangeBy.Count = limit
	}
	return s.client.ZRangeByScore(ctx, key, rangeBy).Result()
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.ZRem(ctx, key, args...).Result()
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

func fromXMessages(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			if str, ok := v.(string); ok {
				fields[k] = str
			} else {
				fields[k] = fmt.Sprint(v)
			}
		}
		entries = append(entries, Entry{ID: msg.ID, Fields: fields})
	}
	return entries
}

func formatScore(score float64) string {
	if math.IsInf(score, -1) {
		return "-inf"
	}
	if math.IsInf(score, 1) {
		return "+inf"
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such key")
}
