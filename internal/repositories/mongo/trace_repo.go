package mongo

import (
	"context"
	"time"

	"github.com/yoockh/yoorelay/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const TraceCollection = "message_traces"

type TraceRepository interface {
	Open(ctx context.Context, t *models.MessageTrace) error
	PushStage(ctx context.Context, messageID string, mark models.StageMark) error
	GetByMessage(ctx context.Context, messageID string) (*models.MessageTrace, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.MessageTrace, error)
}

type traceRepo struct {
	col *mongo.Collection
}

func NewTraceRepo(db *mongo.Database) TraceRepository {
	return &traceRepo{col: db.Collection(TraceCollection)}
}

// Open upserts the trace header so a redelivered message reuses its record.
func (r *traceRepo) Open(ctx context.Context, t *models.MessageTrace) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	_, err := r.col.UpdateOne(ctx,
		bson.M{"message_id": t.MessageID},
		bson.M{
			"$setOnInsert": bson.M{
				"message_id": t.MessageID,
				"user_id":    t.UserID,
				"created_at": t.CreatedAt,
				"stages":     bson.A{},
			},
			"$set": bson.M{
				"kind":       t.Kind,
				"updated_at": now,
				"expires_at": t.ExpiresAt,
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *traceRepo) PushStage(ctx context.Context, messageID string, mark models.StageMark) error {
	if mark.At.IsZero() {
		mark.At = time.Now().UTC()
	}
	_, err := r.col.UpdateOne(ctx,
		bson.M{"message_id": messageID},
		bson.M{
			"$push": bson.M{"stages": mark},
			"$set":  bson.M{"updated_at": mark.At},
		},
	)
	return err
}

func (r *traceRepo) GetByMessage(ctx context.Context, messageID string) (*models.MessageTrace, error) {
	var out models.MessageTrace
	if err := r.col.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *traceRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]models.MessageTrace, error) {
	if limit <= 0 {
		limit = 50
	}

	cur, err := r.col.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.MessageTrace
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
