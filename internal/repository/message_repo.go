package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"carelink/internal/model"
)

type MessageRepo interface {
	Create(ctx context.Context, m *model.Message) error
	ListByConversation(ctx context.Context, convID string, limit int64) ([]model.Message, error)
	// MarkRead stamps readAt on the given messages. Messages that already
	// carry a readAt are left untouched so the stamp never moves.
	MarkRead(ctx context.Context, convID string, ids []string, at time.Time) error
}

type messageRepo struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepo{col: db.Collection("messages")}
}

func (r *messageRepo) Create(ctx context.Context, m *model.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.col.InsertOne(ctx, m)
	return err
}

func (r *messageRepo) ListByConversation(ctx context.Context, convID string, limit int64) ([]model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.col.Find(ctx, bson.M{"conversationId": convID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) MarkRead(ctx context.Context, convID string, ids []string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.col.UpdateMany(ctx, bson.M{
		"_id":            bson.M{"$in": ids},
		"conversationId": convID,
		"readAt":         nil,
	}, bson.M{
		"$set": bson.M{"readAt": at},
	})
	return err
}
