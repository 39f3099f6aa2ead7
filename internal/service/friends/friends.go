package friends

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Graph answers whether two users may message each other. The friend
// graph itself is owned elsewhere in the application; the chat core
// only consults it.
type Graph interface {
	Authorized(ctx context.Context, userA, userB int64) (bool, error)
}

// MongoGraph stores friendships as unordered pair documents with a
// canonical (low, high) key.
type MongoGraph struct {
	collection *mongo.Collection
}

func NewMongoGraph(db *mongo.Database) *MongoGraph {
	return &MongoGraph{
		collection: db.Collection("friends"),
	}
}

func (g *MongoGraph) Authorized(ctx context.Context, userA, userB int64) (bool, error) {
	lo, hi := ordered(userA, userB)

	err := g.collection.FindOne(ctx, bson.M{"lo": lo, "hi": hi}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Befriend records a mutual friendship. Idempotent.
func (g *MongoGraph) Befriend(ctx context.Context, userA, userB int64) error {
	lo, hi := ordered(userA, userB)

	filter := bson.M{"lo": lo, "hi": hi}
	update := bson.M{"$setOnInsert": bson.M{"lo": lo, "hi": hi}}
	_, err := g.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func ordered(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}
