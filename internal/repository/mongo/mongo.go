// Package mongo implements the repository interfaces on MongoDB. It is
// selected instead of SQLite when MONGO_URI is configured.
//
// Comments and ratings are embedded in the strategy document. Favorites are
// an array of strategy IDs on the user document. Document IDs are xid
// strings so they look the same as the SQLite store's.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection      = "users"
	strategiesCollection = "strategies"
)

// Store owns the client. Users() and Strategies() are views over one database.
type Store struct {
	client     *mongo.Client
	users      *UserStore
	strategies *StrategyStore
}

// Connect dials uri, pings the server and ensures the indexes exist.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	// Nested documents in strategy parameters decode as maps, not bson.D.
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client: client,
		users:  &UserStore{col: db.Collection(usersCollection)},
		strategies: &StrategyStore{
			col:   db.Collection(strategiesCollection),
			users: db.Collection(usersCollection),
		},
	}

	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) Users() *UserStore { return s.users }

func (s *Store) Strategies() *StrategyStore { return s.strategies }

// Ping reports whether the server is reachable. Used by GET /health.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.D{{Key: "githubId", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"githubId": bson.M{"$gt": 0}}),
		},
		{Keys: bson.D{{Key: "verificationToken", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "resetToken", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating user indexes: %w", err)
	}

	_, err = s.strategies.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdBy", Value: 1}, {Key: "copiedFrom", Value: 1}}},
		{Keys: bson.D{{Key: "isPublic", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "isTemplate", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating strategy indexes: %w", err)
	}
	return nil
}
