package counters

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Counters hands out monotonically increasing int64 ids per named
// sequence, backed by a single mongo collection of counter documents.
type Counters struct {
	collection *mongo.Collection
}

func New(db *mongo.Database) *Counters {
	return &Counters{
		collection: db.Collection("counters"),
	}
}

func (c *Counters) Next(ctx context.Context, sequence string) (int64, error) {
	filter := bson.M{"_id": sequence}
	update := bson.M{"$inc": bson.M{"value": int64(1)}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc struct {
		Value int64 `bson:"value"`
	}
	if err := c.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Value, nil
}
