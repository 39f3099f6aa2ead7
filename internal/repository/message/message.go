package message

import (
	"context"
	"fmt"
	"time"

	"fitchat/internal/model"
	"fitchat/internal/repository/counters"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
		counters   *counters.Counters
	}
)

func NewMessageRepo(db *mongo.Database, counters *counters.Counters) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
		counters:   counters,
	}
}

// Insert persists the envelope with a server-assigned id and returns it.
func (r *MessageRepo) Insert(ctx context.Context, env *model.MessageEnvelope) (int64, error) {
	id, err := r.counters.Next(ctx, "messages")
	if err != nil {
		return 0, err
	}
	env.ID = id
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	if _, err := r.collection.InsertOne(ctx, env); err != nil {
		return 0, err
	}
	return id, nil
}

// Conversation returns every envelope between the two users in
// chronological order. The order is by id, which is assignment order,
// so it stays stable if pagination is added later.
func (r *MessageRepo) Conversation(ctx context.Context, userA, userB int64) ([]*model.MessageEnvelope, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"senderId": userA, "receiverId": userB},
			bson.M{"senderId": userB, "receiverId": userA},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var envelopes []*model.MessageEnvelope
	if err := cursor.All(ctx, &envelopes); err != nil {
		return nil, err
	}
	return envelopes, nil
}

// MarkRead flips the read flag. Only the receiver of the message may do
// so; the caller passes the authenticated user id.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID, readerID int64) error {
	filter := bson.M{"_id": messageID, "receiverId": readerID}
	update := bson.M{"$set": bson.M{"isRead": true}}

	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("message %d not found for reader %d", messageID, readerID)
	}
	return nil
}
