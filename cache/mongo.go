package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "content_cache"

type cacheDocument struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	StoredAt  time.Time `bson:"storedAt"`
	TTLMillis int64     `bson:"ttlMs"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// MongoStore keeps cache entries in a MongoDB collection so that every
// instance of the service sees the same cache.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(CollectionName)}
}

// EnsureIndexes creates the TTL index that lets MongoDB reap expired entries
// on its own schedule. Reads still check expiry themselves.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := s.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("create ttl index: %w", err)
	}
	log.Println("[INFO] Cache TTL index ensured")
	return nil
}

func (s *MongoStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var doc cacheDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{
		Data:     doc.Data,
		StoredAt: doc.StoredAt,
		TTL:      time.Duration(doc.TTLMillis) * time.Millisecond,
	}, true, nil
}

func (s *MongoStore) Set(ctx context.Context, key string, entry Entry) error {
	doc := cacheDocument{
		Key:       key,
		Data:      entry.Data,
		StoredAt:  entry.StoredAt,
		TTLMillis: entry.TTL.Milliseconds(),
		ExpiresAt: entry.ExpiresAt(),
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) DeleteStored(ctx context.Context, key string, storedAt time.Time) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key, "storedAt": storedAt})
	return err
}

func (s *MongoStore) Prune(ctx context.Context, now time.Time) (int, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lt": now}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}
