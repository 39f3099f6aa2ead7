package user

import (
	"context"
	"fmt"

	"fitchat/internal/model"
	"fitchat/internal/repository/counters"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type (
	UserRepo struct {
		collection *mongo.Collection
		counters   *counters.Counters
	}
)

func NewUserRepo(db *mongo.Database, counters *counters.Counters) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
		counters:   counters,
	}
}

func (r *UserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	filter := bson.M{
		"name": name,
	}

	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	filter := bson.M{
		"_id": id,
	}

	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) (int64, error) {
	id, err := r.counters.Next(ctx, "users")
	if err != nil {
		return 0, err
	}
	user.ID = id

	if _, err := r.collection.InsertOne(ctx, user); err != nil {
		return 0, err
	}
	return id, nil
}

// SetPublicKey records the user's exported public key half in the
// directory peers wrap message keys against.
func (r *UserRepo) SetPublicKey(ctx context.Context, userID int64, publicKey string) error {
	filter := bson.M{"_id": userID}
	update := bson.M{"$set": bson.M{"publicKey": publicKey}}

	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %d not found", userID)
	}
	return nil
}

// PublicKey implements the recipient key directory lookup.
func (r *UserRepo) PublicKey(ctx context.Context, userID int64) (string, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("user %d not found", userID)
	}
	if user.PublicKey == "" {
		return "", fmt.Errorf("user %d has not published a public key", userID)
	}
	return user.PublicKey, nil
}
