package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStateStore keeps one document per user in the storefront's document
// store.
type MongoStateStore struct {
	collection *mongo.Collection
}

func NewMongoStateStore(collection *mongo.Collection) *MongoStateStore {
	return &MongoStateStore{collection: collection}
}

func (m *MongoStateStore) Get(ctx context.Context, userID string) (*domain.RateLimitState, error) {
	var state domain.RateLimitState

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&state)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get rate limit state: %w", err)
	}

	return &state, nil
}

func (m *MongoStateStore) Put(ctx context.Context, state *domain.RateLimitState) error {
	filter := bson.M{"user_id": state.UserID}
	opts := options.Replace().SetUpsert(true)

	if _, err := m.collection.ReplaceOne(ctx, filter, state, opts); err != nil {
		return fmt.Errorf("failed to upsert rate limit state: %w", err)
	}

	return nil
}
