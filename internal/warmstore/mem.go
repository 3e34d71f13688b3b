package warmstore

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemStore is an in-process Store used by tests. Documents are kept as raw
// BSON so the same structs round-trip exactly as they would through Mongo.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]bson.Raw
}

// NewMemStore creates an empty in-memory warm store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]bson.Raw)}
}

func (s *MemStore) Connect(ctx context.Context) error { return nil }
func (s *MemStore) Close(ctx context.Context) error   { return nil }

func (s *MemStore) Insert(ctx context.Context, collection string, doc interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[collection] = append(s.data[collection], raw)
	return nil
}

func (s *MemStore) Upsert(ctx context.Context, collection string, filter Filter, doc interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.data[collection]
	for i, existing := range docs {
		ok, err := matches(existing, filter)
		if err != nil {
			return err
		}
		if ok {
			docs[i] = raw
			return nil
		}
	}
	s.data[collection] = append(docs, raw)
	return nil
}

func (s *MemStore) FindOne(ctx context.Context, collection string, filter Filter, out interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range s.data[collection] {
		ok, err := matches(raw, filter)
		if err != nil {
			return false, err
		}
		if ok {
			return true, bson.Unmarshal(raw, out)
		}
	}
	return false, nil
}

func (s *MemStore) Find(ctx context.Context, collection string, filter Filter, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outVal := reflect.ValueOf(out)
	if outVal.Kind() != reflect.Ptr || outVal.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("out must be a pointer to a slice, got %T", out)
	}
	slice := outVal.Elem()
	elemType := slice.Type().Elem()
	for _, raw := range s.data[collection] {
		ok, err := matches(raw, filter)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		elem := reflect.New(elemType)
		if err := bson.Unmarshal(raw, elem.Interface()); err != nil {
			return err
		}
		slice = reflect.Append(slice, elem.Elem())
	}
	outVal.Elem().Set(slice)
	return nil
}

func (s *MemStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []bson.Raw
	var removed int64
	for _, raw := range s.data[collection] {
		ok, err := matches(raw, filter)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
			continue
		}
		kept = append(kept, raw)
	}
	s.data[collection] = kept
	return removed, nil
}

// matches checks top-level equality of every filter field.
func matches(raw bson.Raw, filter Filter) (bool, error) {
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return false, err
	}
	for field, want := range filter {
		got, ok := doc[field]
		if !ok {
			return false, nil
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false, nil
		}
	}
	return true, nil
}
