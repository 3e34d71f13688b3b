package hotstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemStore is a process-local Store used by tests and as a development
// fallback when neither backend is reachable. Semantics match the two real
// backends; nothing survives process exit.
type MemStore struct {
	mu sync.Mutex

	kv     map[string]memValue
	hashes map[string]map[string]string
	zsets  map[string]map[string]float64

	logs   map[string][]memLogEntry
	seq    map[string]int64 // per-log tiebreaker within one millisecond
	lastMs map[string]int64
	groups map[string]map[string]*memGroup // log -> group name -> state
}

type memValue struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

type memLogEntry struct {
	id     string
	ts     int64
	seq    int64
	fields map[string]string
}

type memGroup struct {
	lastTs    int64
	lastSeq   int64
	createdAt time.Time
	pending   map[string]*memPending // entry id -> holder
}

type memPending struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		kv:     make(map[string]memValue),
		hashes: make(map[string]map[string]string),
		zsets:  make(map[string]map[string]float64),
		logs:   make(map[string][]memLogEntry),
		seq:    make(map[string]int64),
		lastMs: make(map[string]int64),
		groups: make(map[string]map[string]*memGroup),
	}
}

func (s *MemStore) Connect(ctx context.Context) error { return nil }
func (s *MemStore) Close(ctx context.Context) error   { return nil }
func (s *MemStore) Ping(ctx context.Context) error    { return nil }

func (s *MemStore) KVSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	val := memValue{data: append([]byte(nil), value...)}
	if ttl > 0 {
		val.expiresAt = time.Now().Add(ttl)
	}
	s.kv[key] = val
	return nil
}

func (s *MemStore) KVGet(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.kv[key]
	if !ok || val.expired() {
		delete(s.kv, key)
		return nil, nil
	}
	return append([]byte(nil), val.data...), nil
}

func (v memValue) expired() bool {
	return !v.expiresAt.IsZero() && time.Now().After(v.expiresAt)
}

func (s *MemStore) KVDel(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := s.kv[key]; ok {
			delete(s.kv, key)
			n++
			continue
		}
		if _, ok := s.hashes[key]; ok {
			delete(s.hashes, key)
			n++
			continue
		}
		if _, ok := s.zsets[key]; ok {
			delete(s.zsets, key)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) KVExists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range keys {
		if val, ok := s.kv[key]; ok && !val.expired() {
			n++
			continue
		}
		if _, ok := s.hashes[key]; ok {
			n++
			continue
		}
		if _, ok := s.zsets[key]; ok {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) KVExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.kv[key]
	if !ok || val.expired() {
		return false, nil
	}
	val.expiresAt = time.Now().Add(ttl)
	s.kv[key] = val
	return true, nil
}

func (s *MemStore) HashSet(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *MemStore) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return "", false, nil
	}
	val, ok := h[field]
	return val, ok, nil
}

func (s *MemStore) LogAppend(ctx context.Context, log string, fields map[string]string, maxLen int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(log, fields, maxLen), nil
}

func (s *MemStore) LogAppendBatch(ctx context.Context, log string, entries []map[string]string, maxLen int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(entries))
	for i, fields := range entries {
		ids[i] = s.appendLocked(log, fields, maxLen)
	}
	return ids, nil
}

func (s *MemStore) appendLocked(log string, fields map[string]string, maxLen int64) string {
	nowMs := time.Now().UnixMilli()
	if nowMs == s.lastMs[log] {
		s.seq[log]++
	} else {
		s.lastMs[log] = nowMs
		s.seq[log] = 0
	}
	entry := memLogEntry{
		id:     strconv.FormatInt(nowMs, 10) + "-" + strconv.FormatInt(s.seq[log], 10),
		ts:     nowMs,
		seq:    s.seq[log],
		fields: copyFields(fields),
	}
	s.logs[log] = append(s.logs[log], entry)
	if maxLen > 0 && int64(len(s.logs[log])) > maxLen {
		drop := int64(len(s.logs[log])) - maxLen
		s.logs[log] = s.logs[log][drop:]
	}
	return entry.id
}

func (s *MemStore) LogLen(ctx context.Context, log string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.logs[log])), nil
}

func (s *MemStore) LogRange(ctx context.Context, log, start, end string, count int64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var startTs, startSeq int64 = -1, -1
	endTs, endSeq := int64(1<<62), int64(1<<62)
	if start != "" && start != "-" {
		if ts, seq, ok := parseID(start); ok {
			startTs, startSeq = ts, seq
		}
	}
	if end != "" && end != "+" {
		if ts, seq, ok := parseID(end); ok {
			endTs, endSeq = ts, seq
		}
	}
	var entries []Entry
	for _, e := range s.logs[log] {
		if before(e.ts, e.seq, startTs, startSeq) || before(endTs, endSeq, e.ts, e.seq) {
			continue
		}
		entries = append(entries, Entry{ID: e.id, Fields: copyFields(e.fields)})
		if count > 0 && int64(len(entries)) >= count {
			break
		}
	}
	return entries, nil
}

// before reports whether (ts1, seq1) sorts strictly before (ts2, seq2).
func before(ts1, seq1, ts2, seq2 int64) bool {
	return ts1 < ts2 || (ts1 == ts2 && seq1 < seq2)
}

func (s *MemStore) LogInfo(ctx context.Context, log string) (*LogInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &LogInfo{
		Length: int64(len(s.logs[log])),
		Groups: int64(len(s.groups[log])),
	}, nil
}

func (s *MemStore) LogDelete(ctx context.Context, log string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, log)
	delete(s.groups, log)
	delete(s.seq, log)
	delete(s.lastMs, log)
	return nil
}

func (s *MemStore) GroupCreate(ctx context.Context, log, group, startID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, ok := s.groups[log]
	if !ok {
		groups = make(map[string]*memGroup)
		s.groups[log] = groups
	}
	if _, exists := groups[group]; exists {
		return ErrGroupExists
	}
	g := &memGroup{createdAt: time.Now(), pending: make(map[string]*memPending)}
	if startID == "$" {
		if entries := s.logs[log]; len(entries) > 0 {
			tail := entries[len(entries)-1]
			g.lastTs, g.lastSeq = tail.ts, tail.seq
		}
	} else if startID != "" && startID != "0" && startID != "0-0" {
		if ts, seq, ok := parseID(startID); ok {
			g.lastTs, g.lastSeq = ts, seq
		}
	}
	groups[group] = g
	// Materialise the log so the topic exists even while empty.
	if _, ok := s.logs[log]; !ok {
		s.logs[log] = nil
	}
	return nil
}

func (s *MemStore) GroupDestroy(ctx context.Context, log, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if groups, ok := s.groups[log]; ok {
		delete(groups, group)
	}
	return nil
}

func (s *MemStore) GroupRead(ctx context.Context, log, group, consumer string, block time.Duration, count int64) ([]Entry, error) {
	deadline := time.Now().Add(block)
	for {
		entries, err := s.readLocked(log, group, consumer, count)
		if err != nil || len(entries) > 0 {
			return entries, err
		}
		if block <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *MemStore) readLocked(log, group, consumer string, count int64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(log, group)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, e := range s.logs[log] {
		if int64(len(entries)) >= count {
			break
		}
		if !before(g.lastTs, g.lastSeq, e.ts, e.seq) {
			continue
		}
		g.pending[e.id] = &memPending{consumer: consumer, deliveredAt: time.Now(), deliveries: 1}
		g.lastTs, g.lastSeq = e.ts, e.seq
		entries = append(entries, Entry{ID: e.id, Fields: copyFields(e.fields)})
	}
	return entries, nil
}

func (s *MemStore) group(log, group string) (*memGroup, error) {
	groups, ok := s.groups[log]
	if !ok {
		return nil, ErrNotFound
	}
	g, ok := groups[group]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (s *MemStore) GroupAck(ctx context.Context, log, group string, ids ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(log, group)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) GroupReclaim(ctx context.Context, log, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(log, group)
	if err != nil {
		return nil, err
	}
	ids := g.pendingIDsLocked()
	var entries []Entry
	now := time.Now()
	for _, id := range ids {
		if int64(len(entries)) >= count {
			break
		}
		p := g.pending[id]
		if now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		if e, ok := s.findEntry(log, id); ok {
			entries = append(entries, Entry{ID: e.id, Fields: copyFields(e.fields)})
		}
	}
	return entries, nil
}

func (s *MemStore) GroupClaim(ctx context.Context, log, group, consumer string, minIdle time.Duration, ids ...string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(log, group)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var entries []Entry
	for _, id := range ids {
		p, ok := g.pending[id]
		if !ok || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		if e, ok := s.findEntry(log, id); ok {
			entries = append(entries, Entry{ID: e.id, Fields: copyFields(e.fields)})
		}
	}
	return entries, nil
}

func (s *MemStore) GroupPending(ctx context.Context, log, group string, count int64) ([]PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(log, group)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var pending []PendingEntry
	for _, id := range g.pendingIDsLocked() {
		if count > 0 && int64(len(pending)) >= count {
			break
		}
		p := g.pending[id]
		pending = append(pending, PendingEntry{
			ID:         id,
			Consumer:   p.consumer,
			Idle:       now.Sub(p.deliveredAt),
			Deliveries: p.deliveries,
		})
	}
	return pending, nil
}

// pendingIDsLocked returns pending ids in log order.
func (g *memGroup) pendingIDsLocked() []string {
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, si, _ := parseID(ids[i])
		tj, sj, _ := parseID(ids[j])
		return before(ti, si, tj, sj)
	})
	return ids
}

func (s *MemStore) findEntry(log, id string) (memLogEntry, bool) {
	for _, e := range s.logs[log] {
		if e.id == id {
			return e, true
		}
	}
	return memLogEntry{}, false
}

func (s *MemStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (s *MemStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type scored struct {
		member string
		score  float64
	}
	var matched []scored
	for member, score := range s.zsets[key] {
		if score >= min && score <= max {
			matched = append(matched, scored{member, score})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].score < matched[j].score })
	if limit > 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}
	out := make([]string, len(matched))
	for i, m := range matched {
		out[i] = m.member
	}
	return out, nil
}

func (s *MemStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zsets[key]
	var n int64
	for _, member := range members {
		if _, ok := z[member]; ok {
			delete(z, member)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ZCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
