package warmstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultMongoWarmDatabase is the database holding the warm collections.
const DefaultMongoWarmDatabase = "chronow_warm"

// MongoOptions configures the warm tier connection.
type MongoOptions struct {
	// URI is the MongoDB connection string.
	URI string
	// Database is the warm database name; DefaultMongoWarmDatabase if
	// empty.
	Database string
}

// MongoStore implements Store on MongoDB with unique indexes on the
// identity of each collection.
type MongoStore struct {
	opts   MongoOptions
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore builds the store; the connection is established by Connect.
func NewMongoStore(opts MongoOptions) *MongoStore {
	if opts.Database == "" {
		opts.Database = DefaultMongoWarmDatabase
	}
	return &MongoStore{opts: opts}
}

// Connect dials the server, verifies liveness and ensures the unique
// indexes the broker's upserts rely on.
func (s *MongoStore) Connect(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().ApplyURI(s.opts.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping mongo: %w", err)
	}
	s.client = client
	s.db = client.Database(s.opts.Database)
	return s.ensureIndexes(ctx)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := func(collection string, keys bson.D) error {
		_, err := s.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("%s indexes: %w", collection, err)
		}
		return nil
	}
	// Not unique: append-mode shared-memory writes keep one row per
	// revision under the same identity.
	_, err := s.db.Collection(CollectionSharedMemory).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "key", Value: 1}, {Key: "namespace", Value: 1}, {Key: "tenant", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("shared_memory indexes: %w", err)
	}
	if err := unique(CollectionTopics, bson.D{
		{Key: "topic", Value: 1}, {Key: "tenant", Value: 1},
	}); err != nil {
		return err
	}
	if err := unique(CollectionMessages, bson.D{
		{Key: "topic", Value: 1}, {Key: "msgId", Value: 1}, {Key: "tenant", Value: 1},
	}); err != nil {
		return err
	}
	_, err = s.db.Collection(CollectionDeadLetters).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "topic", Value: 1}, {Key: "tenant", Value: 1}, {Key: "failedAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("dead_letters indexes: %w", err)
	}
	return nil
}

// DropDatabase removes the warm database. Used by tests to clean up
// per-test databases.
func (s *MongoStore) DropDatabase(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Insert(ctx context.Context, collection string, doc interface{}) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) Upsert(ctx context.Context, collection string, filter Filter, doc interface{}) error {
	_, err := s.db.Collection(collection).ReplaceOne(ctx, toBSON(filter), doc,
		options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) FindOne(ctx context.Context, collection string, filter Filter, out interface{}) (bool, error) {
	err := s.db.Collection(collection).FindOne(ctx, toBSON(filter)).Decode(out)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MongoStore) Find(ctx context.Context, collection string, filter Filter, out interface{}) error {
	cursor, err := s.db.Collection(collection).Find(ctx, toBSON(filter))
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

func (s *MongoStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, toBSON(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func toBSON(filter Filter) bson.M {
	m := make(bson.M, len(filter))
	for k, v := range filter {
		m[k] = v
	}
	return m
}
