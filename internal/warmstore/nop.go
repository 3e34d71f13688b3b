package warmstore

import "context"

// NopStore discards writes and finds nothing. Selected when the caller
// explicitly disables the warm tier; every shared-memory read-through then
// misses and durability is limited to the hot tier's lifetime.
type NopStore struct{}

// NewNopStore returns the stub store.
func NewNopStore() *NopStore { return &NopStore{} }

func (NopStore) Connect(ctx context.Context) error { return nil }
func (NopStore) Close(ctx context.Context) error   { return nil }

func (NopStore) Insert(ctx context.Context, collection string, doc interface{}) error { return nil }

func (NopStore) Upsert(ctx context.Context, collection string, filter Filter, doc interface{}) error {
	return nil
}

func (NopStore) FindOne(ctx context.Context, collection string, filter Filter, out interface{}) (bool, error) {
	return false, nil
}

func (NopStore) Find(ctx context.Context, collection string, filter Filter, out interface{}) error {
	return nil
}

func (NopStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	return 0, nil
}
