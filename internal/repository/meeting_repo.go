package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"carelink/internal/model"
)

type MeetingRepo interface {
	Create(ctx context.Context, m *model.Meeting) error
	GetByID(ctx context.Context, id string) (*model.Meeting, error)
	GetByCode(ctx context.Context, code string) (*model.Meeting, error)
	Update(ctx context.Context, m *model.Meeting) error
	// ListVisible returns meetings scoped to the given hospitals; an empty
	// scope means no filtering. Status narrows further when non-empty.
	ListVisible(ctx context.Context, hospitalIDs []string, status model.MeetingStatus) ([]model.Meeting, error)
}

type meetingRepo struct {
	col *mongo.Collection
}

func NewMeetingRepo(db *mongo.Database) MeetingRepo {
	return &meetingRepo{col: db.Collection("meetings")}
}

func (r *meetingRepo) Create(ctx context.Context, m *model.Meeting) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.col.InsertOne(ctx, m)
	return err
}

func (r *meetingRepo) GetByID(ctx context.Context, id string) (*model.Meeting, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var m model.Meeting
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *meetingRepo) GetByCode(ctx context.Context, code string) (*model.Meeting, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var m model.Meeting
	err := r.col.FindOne(ctx, bson.M{"roomCode": code}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *meetingRepo) Update(ctx context.Context, m *model.Meeting) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *meetingRepo) ListVisible(ctx context.Context, hospitalIDs []string, status model.MeetingStatus) ([]model.Meeting, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{}
	if len(hospitalIDs) > 0 {
		filter["hospitalIds"] = bson.M{"$in": hospitalIDs}
	}
	if status != "" {
		filter["status"] = status
	}

	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []model.Meeting
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
