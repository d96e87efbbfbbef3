package noncestore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB, grounded on
// internal/storage.MongoDBStore's connect/ping/index-bootstrap idiom.
type MongoDBStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type nonceDocument struct {
	Key       string    `bson:"_id"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// NewMongoDBStore connects to MongoDB and ensures the nonce collection and
// its TTL index exist.
func NewMongoDBStore(connectionString, database string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	collection := client.Database(database).Collection("x402_nonces")
	store := &MongoDBStore{client: client, collection: collection}
	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("create nonce ttl index: %w", err)
	}
	return nil
}

// Reserve implements Store via an upsert-style insert that relies on _id's
// uniqueness constraint to make the check-and-set atomic.
func (s *MongoDBStore) Reserve(ctx context.Context, payer, scheme, nonce string, expiresAt time.Time) (bool, error) {
	k := key(payer, scheme, nonce)
	_, err := s.collection.InsertOne(ctx, nonceDocument{Key: k, ExpiresAt: expiresAt})
	if err == nil {
		return true, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		res, updateErr := s.collection.UpdateOne(ctx,
			bson.M{"_id": k, "expires_at": bson.M{"$lt": time.Now()}},
			bson.M{"$set": bson.M{"expires_at": expiresAt}},
		)
		if updateErr != nil {
			return false, fmt.Errorf("reserve expired nonce: %w", updateErr)
		}
		return res.ModifiedCount == 1, nil
	}
	return false, fmt.Errorf("reserve nonce: %w", err)
}

// Release implements Store.
func (s *MongoDBStore) Release(ctx context.Context, payer, scheme, nonce string) error {
	k := key(payer, scheme, nonce)
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": k})
	if err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
