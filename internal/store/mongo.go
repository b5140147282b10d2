package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists run audits in a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	runs   *mongo.Collection
}

// NewMongoStore connects to MongoDB and returns the audit store.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	db := client.Database(database)
	return &MongoStore{
		client: client,
		runs:   db.Collection("run_audits"),
	}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// RecordRun inserts one audit document.
func (s *MongoStore) RecordRun(ctx context.Context, audit RunAudit) error {
	_, err := s.runs.InsertOne(ctx, audit)
	return err
}

// LastSuccessful returns the most recent audit with a DONE status.
func (s *MongoStore) LastSuccessful(ctx context.Context) (RunAudit, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "finished_at", Value: -1}})
	var audit RunAudit
	err := s.runs.FindOne(ctx, bson.M{"status": "DONE"}, opts).Decode(&audit)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return RunAudit{}, ErrNotFound
	}
	if err != nil {
		return RunAudit{}, err
	}
	return audit, nil
}

// compile-time check
var _ AuditStore = (*MongoStore)(nil)

// connectTimeout bounds the initial MongoDB handshake.
const connectTimeout = 10 * time.Second

// NewMongoStoreWithTimeout wraps NewMongoStore with the standard connect
// timeout.
func NewMongoStoreWithTimeout(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return NewMongoStore(ctx, uri, database)
}
