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

type PayoutRepository interface {
	Create(ctx context.Context, payout *models.PayoutRequest) error
	GetByPayoutID(ctx context.Context, payoutID string) (*models.PayoutRequest, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.PayoutRequest, error)
	Update(ctx context.Context, payout *models.PayoutRequest) error
	ListPendingReview(ctx context.Context, limit, offset int) ([]*models.PayoutRequest, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.PayoutRequest, error)
}

type payoutRepository struct {
	collection *mongo.Collection
}

func NewPayoutRepository(db *mongo.Database) PayoutRepository {
	return &payoutRepository{collection: db.Collection("payout_requests")}
}

func (r *payoutRepository) Create(ctx context.Context, payout *models.PayoutRequest) error {
	res, err := r.collection.InsertOne(ctx, payout)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create payout request: %w", err)
	}
	payout.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *payoutRepository) GetByPayoutID(ctx context.Context, payoutID string) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	err := r.collection.FindOne(ctx, bson.M{"payout_id": payoutID}).Decode(&payout)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payout %s: %w", payoutID, err)
	}
	return &payout, nil
}

func (r *payoutRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	err := r.collection.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&payout)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payout for transaction %s: %w", transactionID, err)
	}
	return &payout, nil
}

func (r *payoutRepository) Update(ctx context.Context, payout *models.PayoutRequest) error {
	payout.UpdatedAt = time.Now().UTC()
	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": payout.ID}, payout)
	if err != nil {
		return fmt.Errorf("failed to update payout request: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *payoutRepository) ListPendingReview(ctx context.Context, limit, offset int) ([]*models.PayoutRequest, error) {
	return r.list(ctx, bson.M{"status": models.PayoutPendingReview}, limit, offset)
}

func (r *payoutRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.PayoutRequest, error) {
	return r.list(ctx, bson.M{"user_id": userID}, limit, offset)
}

func (r *payoutRepository) list(ctx context.Context, filter bson.M, limit, offset int) ([]*models.PayoutRequest, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout requests: %w", err)
	}
	defer cursor.Close(ctx)

	var payouts []*models.PayoutRequest
	for cursor.Next(ctx) {
		var payout models.PayoutRequest
		if err := cursor.Decode(&payout); err != nil {
			return nil, fmt.Errorf("failed to decode payout request: %w", err)
		}
		payouts = append(payouts, &payout)
	}
	return payouts, cursor.Err()
}

// CreatePayoutIndexes enforces at most one payout request per transaction.
func CreatePayoutIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "payout_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}
	_, err := db.Collection("payout_requests").Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create payout indexes: %w", err)
	}
	return nil
}
