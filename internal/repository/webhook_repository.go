package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ledger-api/internal/models"
)

type WebhookRepository interface {
	Insert(ctx context.Context, log *models.WebhookLog) error
	GetByProviderReference(ctx context.Context, provider, reference string) (*models.WebhookLog, error)
	MarkProcessed(ctx context.Context, id primitive.ObjectID, status models.WebhookStatus) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, processErr string) error
	ListFailed(ctx context.Context, limit int) ([]*models.WebhookLog, error)
}

type webhookRepository struct {
	collection *mongo.Collection
}

func NewWebhookRepository(db *mongo.Database) WebhookRepository {
	return &webhookRepository{collection: db.Collection("webhook_logs")}
}

func (r *webhookRepository) Insert(ctx context.Context, log *models.WebhookLog) error {
	now := time.Now().UTC()
	log.CreatedAt = now
	log.UpdatedAt = now
	if log.Status == "" {
		log.Status = models.WebhookReceived
	}
	res, err := r.collection.InsertOne(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	log.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *webhookRepository) GetByProviderReference(ctx context.Context, provider, reference string) (*models.WebhookLog, error) {
	// The newest processed row wins; earlier failed attempts stay for the
	// forensic trail.
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var log models.WebhookLog
	err := r.collection.FindOne(ctx, bson.M{
		"provider":  provider,
		"reference": reference,
		"status":    models.WebhookProcessed,
	}, opts).Decode(&log)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get webhook log: %w", err)
	}
	return &log, nil
}

func (r *webhookRepository) MarkProcessed(ctx context.Context, id primitive.ObjectID, status models.WebhookStatus) error {
	now := time.Now().UTC()
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"status":       status,
			"error":        "",
			"processed_at": now,
			"updated_at":   now,
		},
		"$inc": bson.M{"attempts": 1},
	})
	if err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *webhookRepository) MarkFailed(ctx context.Context, id primitive.ObjectID, processErr string) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"status":     models.WebhookFailed,
			"error":      processErr,
			"updated_at": time.Now().UTC(),
		},
		"$inc": bson.M{"attempts": 1},
	})
	if err != nil {
		return fmt.Errorf("failed to mark webhook failed: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *webhookRepository) ListFailed(ctx context.Context, limit int) ([]*models.WebhookLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, bson.M{"status": models.WebhookFailed}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed webhooks: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []*models.WebhookLog
	for cursor.Next(ctx) {
		var log models.WebhookLog
		if err := cursor.Decode(&log); err != nil {
			return nil, fmt.Errorf("failed to decode webhook log: %w", err)
		}
		logs = append(logs, &log)
	}
	return logs, cursor.Err()
}

// CreateWebhookIndexes backs the dedupe lookup by provider reference.
func CreateWebhookIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "provider", Value: 1}, {Key: "reference", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
	}
	_, err := db.Collection("webhook_logs").Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create webhook indexes: %w", err)
	}
	return nil
}
