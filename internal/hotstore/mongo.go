package hotstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultMongoHotDatabase is the database holding the emulated hot tier.
const DefaultMongoHotDatabase = "chronow_hot"

// maxEmulatedBlock caps one blocking-read sleep so that large block values
// are approximated by repeated polls from the caller's loop.
const maxEmulatedBlock = time.Second

// MongoOptions configures the emulated backend.
type MongoOptions struct {
	// URI is the MongoDB connection string.
	URI string
	// Database is the hot database name; DefaultMongoHotDatabase if empty.
	Database string
}

// MongoStore emulates the hot-tier contract over three MongoDB collections:
//
//	kv      - string, hash and zset values with an async TTL index
//	streams - log entries with per-group in-flight state
//	groups  - consumer groups and their last-delivered position
//
// Atomicity of group delivery relies on single-document findAndModify;
// blocking reads are emulated with one capped sleep and one retry.
type MongoStore struct {
	opts   MongoOptions
	client *mongo.Client

	kv      *mongo.Collection
	streams *mongo.Collection
	groups  *mongo.Collection

	// zmu serialises read-modify-write zset updates within this process.
	zmu sync.Mutex
}

type kvDoc struct {
	Key       string            `bson:"key"`
	Type      string            `bson:"type"`
	Value     []byte            `bson:"value,omitempty"`
	IsBuffer  bool              `bson:"isBuffer"`
	Fields    map[string]string `bson:"fields,omitempty"`
	Members   []zsetMember      `bson:"members,omitempty"`
	ExpiresAt *time.Time        `bson:"expiresAt,omitempty"`
}

type zsetMember struct {
	Member string  `bson:"member"`
	Score  float64 `bson:"score"`
}

type streamDoc struct {
	Stream    string            `bson:"stream"`
	ID        string            `bson:"id"`
	Timestamp int64             `bson:"timestamp"`
	Sequence  int64             `bson:"sequence"`
	Fields    map[string]string `bson:"fields"`
	Pending   []pendingElem     `bson:"pending,omitempty"`
}

type pendingElem struct {
	Group       string `bson:"group"`
	Consumer    string `bson:"consumer"`
	DeliveredAt int64  `bson:"deliveredAt"`
	Deliveries  int64  `bson:"deliveries"`
}

type groupDoc struct {
	Stream    string    `bson:"stream"`
	Group     string    `bson:"group"`
	LastTs    int64     `bson:"lastTs"`
	LastSeq   int64     `bson:"lastSeq"`
	CreatedAt time.Time `bson:"createdAt"`
}

// NewMongoStore builds the store; the connection is established by Connect.
func NewMongoStore(opts MongoOptions) *MongoStore {
	if opts.Database == "" {
		opts.Database = DefaultMongoHotDatabase
	}
	return &MongoStore{opts: opts}
}

// Connect dials the server, verifies liveness and ensures indexes.
func (s *MongoStore) Connect(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().ApplyURI(s.opts.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(s.opts.Database)
	s.client = client
	s.kv = db.Collection("kv")
	s.streams = db.Collection("streams")
	s.groups = db.Collection("groups")
	return s.ensureIndexes(ctx)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.kv.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return fmt.Errorf("kv indexes: %w", err)
	}
	_, err = s.streams.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "stream", Value: 1}, {Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "stream", Value: 1}, {Key: "timestamp", Value: 1}, {Key: "sequence", Value: 1}}},
		{Keys: bson.D{{Key: "stream", Value: 1}, {Key: "pending.group", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("streams indexes: %w", err)
	}
	_, err = s.groups.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "stream", Value: 1}, {Key: "group", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("groups indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Ping checks liveness.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// DropDatabase removes the hot database. Used by tests.
func (s *MongoStore) DropDatabase(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Database(s.opts.Database).Drop(ctx)
}

func notExpired(now time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"expiresAt": bson.M{"$exists": false}},
		bson.M{"expiresAt": bson.M{"$gt": now}},
	}}
}

func (s *MongoStore) KVSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	doc := kvDoc{Key: key, Type: "string", Value: value, IsBuffer: true}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		doc.ExpiresAt = &exp
	}
	_, err := s.kv.ReplaceOne(ctx, bson.M{"key": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) KVGet(ctx context.Context, key string) ([]byte, error) {
	var doc kvDoc
	filter := bson.M{"key": key, "type": "string", "$and": bson.A{notExpired(time.Now())}}
	err := s.kv.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func (s *MongoStore) KVDel(ctx context.Context, keys ...string) (int64, error) {
	res, err := s.kv.DeleteMany(ctx, bson.M{"key": bson.M{"$in": keys}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) KVExists(ctx context.Context, keys ...string) (int64, error) {
	filter := bson.M{"key": bson.M{"$in": keys}, "$and": bson.A{notExpired(time.Now())}}
	return s.kv.CountDocuments(ctx, filter)
}

func (s *MongoStore) KVExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	exp := time.Now().Add(ttl)
	res, err := s.kv.UpdateOne(ctx, bson.M{"key": key}, bson.M{"$set": bson.M{"expiresAt": exp}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) HashSet(ctx context.Context, key, field, value string) error {
	update := bson.M{
		"$set":         bson.M{"type": "hash", "fields." + field: value},
		"$setOnInsert": bson.M{"key": key},
	}
	_, err := s.kv.UpdateOne(ctx, bson.M{"key": key}, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (s *MongoStore) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	var doc kvDoc
	filter := bson.M{"key": key, "type": "hash", "$and": bson.A{notExpired(time.Now())}}
	err := s.kv.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	val, ok := doc.Fields[field]
	return val, ok, nil
}

// parseID splits "<ms>-<seq>". Returns ok=false for malformed ids.
func parseID(id string) (ts, seq int64, ok bool) {
	dash := strings.LastIndexByte(id, '-')
	if dash <= 0 {
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(id[:dash], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	seq, err = strconv.ParseInt(id[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return ts, seq, true
}

func formatID(ts, seq int64) string {
	return strconv.FormatInt(ts, 10) + "-" + strconv.FormatInt(seq, 10)
}

func (s *MongoStore) LogAppend(ctx context.Context, log string, fields map[string]string, maxLen int64) (string, error) {
	id, err := s.appendOne(ctx, log, fields)
	if err != nil {
		return "", err
	}
	if maxLen > 0 {
		if err := s.trim(ctx, log, maxLen); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (s *MongoStore) LogAppendBatch(ctx context.Context, log string, entries []map[string]string, maxLen int64) ([]string, error) {
	ids := make([]string, 0, len(entries))
	for _, fields := range entries {
		id, err := s.appendOne(ctx, log, fields)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if maxLen > 0 {
		if err := s.trim(ctx, log, maxLen); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// appendOne assigns "<nowMs>-<seq>" where seq counts entries sharing the
// same millisecond, retrying on duplicate-key races.
func (s *MongoStore) appendOne(ctx context.Context, log string, fields map[string]string) (string, error) {
	for {
		nowMs := time.Now().UnixMilli()
		seq, err := s.streams.CountDocuments(ctx, bson.M{"stream": log, "timestamp": nowMs})
		if err != nil {
			return "", err
		}
		doc := streamDoc{
			Stream:    log,
			ID:        formatID(nowMs, seq),
			Timestamp: nowMs,
			Sequence:  seq,
			Fields:    fields,
		}
		_, err = s.streams.InsertOne(ctx, doc)
		if err == nil {
			return doc.ID, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return "", err
		}
		// Another producer took this (timestamp, sequence); recount.
	}
}

func (s *MongoStore) trim(ctx context.Context, log string, maxLen int64) error {
	n, err := s.streams.CountDocuments(ctx, bson.M{"stream": log})
	if err != nil || n <= maxLen {
		return err
	}
	cursor, err := s.streams.Find(ctx, bson.M{"stream": log},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "sequence", Value: 1}}).
			SetLimit(n-maxLen).
			SetProjection(bson.M{"id": 1}))
	if err != nil {
		return err
	}
	var docs []struct {
		ID string `bson:"id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	_, err = s.streams.DeleteMany(ctx, bson.M{"stream": log, "id": bson.M{"$in": ids}})
	return err
}

func (s *MongoStore) LogLen(ctx context.Context, log string) (int64, error) {
	return s.streams.CountDocuments(ctx, bson.M{"stream": log})
}

func (s *MongoStore) LogRange(ctx context.Context, log, start, end string, count int64) ([]Entry, error) {
	filter := bson.M{"stream": log}
	var bounds bson.A
	if start != "" && start != "-" {
		ts, seq, ok := parseID(start)
		if !ok {
			return nil, fmt.Errorf("malformed start id %q", start)
		}
		bounds = append(bounds, bson.M{"$or": bson.A{
			bson.M{"timestamp": bson.M{"$gt": ts}},
			bson.M{"timestamp": ts, "sequence": bson.M{"$gte": seq}},
		}})
	}
	if end != "" && end != "+" {
		ts, seq, ok := parseID(end)
		if !ok {
			return nil, fmt.Errorf("malformed end id %q", end)
		}
		bounds = append(bounds, bson.M{"$or": bson.A{
			bson.M{"timestamp": bson.M{"$lt": ts}},
			bson.M{"timestamp": ts, "sequence": bson.M{"$lte": seq}},
		}})
	}
	if len(bounds) > 0 {
		filter["$and"] = bounds
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "sequence", Value: 1}})
	if count > 0 {
		findOpts.SetLimit(count)
	}
	cursor, err := s.streams.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	var docs []streamDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(docs))
	for i, d := range docs {
		entries[i] = Entry{ID: d.ID, Fields: d.Fields}
	}
	return entries, nil
}

func (s *MongoStore) LogInfo(ctx context.Context, log string) (*LogInfo, error) {
	length, err := s.streams.CountDocuments(ctx, bson.M{"stream": log})
	if err != nil {
		return nil, err
	}
	groups, err := s.groups.CountDocuments(ctx, bson.M{"stream": log})
	if err != nil {
		return nil, err
	}
	return &LogInfo{Length: length, Groups: groups}, nil
}

func (s *MongoStore) LogDelete(ctx context.Context, log string) error {
	if _, err := s.streams.DeleteMany(ctx, bson.M{"stream": log}); err != nil {
		return err
	}
	_, err := s.groups.DeleteMany(ctx, bson.M{"stream": log})
	return err
}

func (s *MongoStore) GroupCreate(ctx context.Context, log, group, startID string) error {
	var lastTs, lastSeq int64
	if startID == "$" {
		// Deliver new entries only: position after the current tail.
		var tail streamDoc
		err := s.streams.FindOne(ctx, bson.M{"stream": log},
			options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "sequence", Value: -1}})).Decode(&tail)
		if err == nil {
			lastTs, lastSeq = tail.Timestamp, tail.Sequence
		} else if err != mongo.ErrNoDocuments {
			return err
		}
	} else if startID != "" && startID != "0" && startID != "0-0" {
		ts, seq, ok := parseID(startID)
		if !ok {
			return fmt.Errorf("malformed start id %q", startID)
		}
		lastTs, lastSeq = ts, seq
	}
	_, err := s.groups.InsertOne(ctx, groupDoc{
		Stream:    log,
		Group:     group,
		LastTs:    lastTs,
		LastSeq:   lastSeq,
		CreatedAt: time.Now(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrGroupExists
	}
	return err
}

func (s *MongoStore) GroupDestroy(ctx context.Context, log, group string) error {
	if _, err := s.groups.DeleteOne(ctx, bson.M{"stream": log, "group": group}); err != nil {
		return err
	}
	_, err := s.streams.UpdateMany(ctx, bson.M{"stream": log},
		bson.M{"$pull": bson.M{"pending": bson.M{"group": group}}})
	return err
}

func (s *MongoStore) GroupRead(ctx context.Context, log, group, consumer string, block time.Duration, count int64) ([]Entry, error) {
	entries, err := s.readOnce(ctx, log, group, consumer, count)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 || block <= 0 {
		return entries, nil
	}
	wait := block
	if wait > maxEmulatedBlock {
		wait = maxEmulatedBlock
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}
	return s.readOnce(ctx, log, group, consumer, count)
}

func (s *MongoStore) readOnce(ctx context.Context, log, group, consumer string, count int64) ([]Entry, error) {
	var gdoc groupDoc
	if err := s.groups.FindOne(ctx, bson.M{"stream": log, "group": group}).Decode(&gdoc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}

	nowMs := time.Now().UnixMilli()
	var entries []Entry
	for int64(len(entries)) < count {
		// Claim the oldest undelivered entry past the group's position.
		filter := bson.M{
			"stream": log,
			"$or": bson.A{
				bson.M{"timestamp": bson.M{"$gt": gdoc.LastTs}},
				bson.M{"timestamp": gdoc.LastTs, "sequence": bson.M{"$gt": gdoc.LastSeq}},
			},
			"pending.group": bson.M{"$ne": group},
		}
		update := bson.M{"$push": bson.M{"pending": pendingElem{
			Group:       group,
			Consumer:    consumer,
			DeliveredAt: nowMs,
			Deliveries:  1,
		}}}
		var doc streamDoc
		err := s.streams.FindOneAndUpdate(ctx, filter, update,
			options.FindOneAndUpdate().
				SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "sequence", Value: 1}}).
				SetReturnDocument(options.After)).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{ID: doc.ID, Fields: doc.Fields})
		gdoc.LastTs, gdoc.LastSeq = doc.Timestamp, doc.Sequence

		// Advance the group position, but never move it backwards.
		_, err = s.groups.UpdateOne(ctx, bson.M{
			"stream": log,
			"group":  group,
			"$or": bson.A{
				bson.M{"lastTs": bson.M{"$lt": doc.Timestamp}},
				bson.M{"lastTs": doc.Timestamp, "lastSeq": bson.M{"$lt": doc.Sequence}},
			},
		}, bson.M{"$set": bson.M{"lastTs": doc.Timestamp, "lastSeq": doc.Sequence}})
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *MongoStore) GroupAck(ctx context.Context, log, group string, ids ...string) (int64, error) {
	var acked int64
	for _, id := range ids {
		res, err := s.streams.UpdateOne(ctx,
			bson.M{"stream": log, "id": id, "pending.group": group},
			bson.M{"$pull": bson.M{"pending": bson.M{"group": group}}})
		if err != nil {
			return acked, err
		}
		acked += res.ModifiedCount
	}
	return acked, nil
}

func (s *MongoStore) GroupReclaim(ctx context.Context, log, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	nowMs := time.Now().UnixMilli()
	cutoff := nowMs - minIdle.Milliseconds()
	var entries []Entry
	for int64(len(entries)) < count {
		filter := bson.M{
			"stream": log,
			"pending": bson.M{"$elemMatch": bson.M{
				"group":       group,
				"deliveredAt": bson.M{"$lt": cutoff},
			}},
		}
		update := bson.M{
			"$set": bson.M{
				"pending.$.consumer":    consumer,
				"pending.$.deliveredAt": nowMs,
			},
			"$inc": bson.M{"pending.$.deliveries": 1},
		}
		var doc streamDoc
		err := s.streams.FindOneAndUpdate(ctx, filter, update,
			options.FindOneAndUpdate().
				SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "sequence", Value: 1}}).
				SetReturnDocument(options.After)).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{ID: doc.ID, Fields: doc.Fields})
	}
	return entries, nil
}

func (s *MongoStore) GroupClaim(ctx context.Context, log, group, consumer string, minIdle time.Duration, ids ...string) ([]Entry, error) {
	nowMs := time.Now().UnixMilli()
	cutoff := nowMs - minIdle.Milliseconds()
	var entries []Entry
	for _, id := range ids {
		filter := bson.M{
			"stream": log,
			"id":     id,
			"pending": bson.M{"$elemMatch": bson.M{
				"group":       group,
				"deliveredAt": bson.M{"$lt": cutoff},
			}},
		}
		update := bson.M{
			"$set": bson.M{
				"pending.$.consumer":    consumer,
				"pending.$.deliveredAt": nowMs,
			},
			"$inc": bson.M{"pending.$.deliveries": 1},
		}
		var doc streamDoc
		err := s.streams.FindOneAndUpdate(ctx, filter, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{ID: doc.ID, Fields: doc.Fields})
	}
	return entries, nil
}

func (s *MongoStore) GroupPending(ctx context.Context, log, group string, count int64) ([]PendingEntry, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "sequence", Value: 1}})
	if count > 0 {
		findOpts.SetLimit(count)
	}
	cursor, err := s.streams.Find(ctx, bson.M{"stream": log, "pending.group": group}, findOpts)
	if err != nil {
		return nil, err
	}
	var docs []streamDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	nowMs := time.Now().UnixMilli()
	var pending []PendingEntry
	for _, doc := range docs {
		for _, elem := range doc.Pending {
			if elem.Group != group {
				continue
			}
			pending = append(pending, PendingEntry{
				ID:         doc.ID,
				Consumer:   elem.Consumer,
				Idle:       time.Duration(nowMs-elem.DeliveredAt) * time.Millisecond,
				Deliveries: elem.Deliveries,
			})
		}
	}
	return pending, nil
}

func (s *MongoStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	s.zmu.Lock()
	defer s.zmu.Unlock()

	res, err := s.kv.UpdateOne(ctx,
		bson.M{"key": key, "members.member": member},
		bson.M{"$set": bson.M{"members.$.score": score}})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	_, err = s.kv.UpdateOne(ctx, bson.M{"key": key},
		bson.M{
			"$set":         bson.M{"type": "zset"},
			"$setOnInsert": bson.M{"key": key},
			"$push":        bson.M{"members": zsetMember{Member: member, Score: score}},
		},
		options.UpdateOne().SetUpsert(true))
	return err
}

func (s *MongoStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	members, err := s.zsetMembers(ctx, key)
	if err != nil {
		return nil, err
	}
	var matched []zsetMember
	for _, m := range members {
		if m.Score >= min && m.Score <= max {
			matched = append(matched, m)
		}
	}
	sortMembersByScore(matched)
	if limit > 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}
	out := make([]string, len(matched))
	for i, m := range matched {
		out[i] = m.Member
	}
	return out, nil
}

func (s *MongoStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	s.zmu.Lock()
	defer s.zmu.Unlock()

	existing, err := s.zsetMembers(ctx, key)
	if err != nil {
		return 0, err
	}
	present := make(map[string]bool, len(existing))
	for _, m := range existing {
		present[m.Member] = true
	}
	var removed int64
	for _, m := range members {
		if present[m] {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	_, err = s.kv.UpdateOne(ctx, bson.M{"key": key},
		bson.M{"$pull": bson.M{"members": bson.M{"member": bson.M{"$in": members}}}})
	return removed, err
}

func (s *MongoStore) ZCard(ctx context.Context, key string) (int64, error) {
	members, err := s.zsetMembers(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

func (s *MongoStore) zsetMembers(ctx context.Context, key string) ([]zsetMember, error) {
	var doc kvDoc
	filter := bson.M{"key": key, "type": "zset", "$and": bson.A{notExpired(time.Now())}}
	err := s.kv.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Members, nil
}

func sortMembersByScore(members []zsetMember) {
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && members[j].Score < members[j-1].Score; j-- {
			members[j], members[j-1] = members[j-1], members[j]
		}
	}
}
