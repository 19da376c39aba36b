package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ledger-api/internal/models"
)

// AuditRepository is append-only; there are deliberately no update or
// delete methods.
type AuditRepository interface {
	Append(ctx context.Context, event *models.SecurityAuditEvent) error
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.SecurityAuditEvent, error)
	ListBySeverity(ctx context.Context, severity models.AuditSeverity, limit, offset int) ([]*models.SecurityAuditEvent, error)
}

type auditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) AuditRepository {
	return &auditRepository{collection: db.Collection("security_audit_log")}
}

func (r *auditRepository) Append(ctx context.Context, event *models.SecurityAuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	res, err := r.collection.InsertOne(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	event.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *auditRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.SecurityAuditEvent, error) {
	return r.list(ctx, bson.M{"user_id": userID}, limit, offset)
}

func (r *auditRepository) ListBySeverity(ctx context.Context, severity models.AuditSeverity, limit, offset int) ([]*models.SecurityAuditEvent, error) {
	return r.list(ctx, bson.M{"severity": severity}, limit, offset)
}

func (r *auditRepository) list(ctx context.Context, filter bson.M, limit, offset int) ([]*models.SecurityAuditEvent, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*models.SecurityAuditEvent
	for cursor.Next(ctx) {
		var event models.SecurityAuditEvent
		if err := cursor.Decode(&event); err != nil {
			return nil, fmt.Errorf("failed to decode audit event: %w", err)
		}
		events = append(events, &event)
	}
	return events, cursor.Err()
}

// CreateAuditIndexes backs the compliance review queries.
func CreateAuditIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "severity", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "event_type", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}
	_, err := db.Collection("security_audit_log").Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}
