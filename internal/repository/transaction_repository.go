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

type TransactionRepository interface {
	// Create inserts a header. A unique-index hit on idempotency_key
	// returns ErrDuplicate; the caller fetches and returns the original.
	Create(ctx context.Context, tx *models.Transaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	// GetByIdempotencyKey returns (nil, nil) when no header exists; absence
	// is the normal case for a first attempt, not an error.
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	GetByProviderReference(ctx context.Context, provider, reference string) (*models.Transaction, error)
	Update(ctx context.Context, tx *models.Transaction) error
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error)
}

type transactionRepository struct {
	collection *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) TransactionRepository {
	return &transactionRepository{collection: db.Collection("transactions")}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	res, err := r.collection.InsertOne(ctx, tx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	tx.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.collection.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", transactionID, err)
	}
	return &tx, nil
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.collection.FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w", err)
	}
	return &tx, nil
}

func (r *transactionRepository) GetByProviderReference(ctx context.Context, provider, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.collection.FindOne(ctx, bson.M{
		"provider":           provider,
		"provider_reference": reference,
	}).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by provider reference: %w", err)
	}
	return &tx, nil
}

func (r *transactionRepository) Update(ctx context.Context, tx *models.Transaction) error {
	tx.UpdatedAt = time.Now().UTC()
	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": tx.ID}, tx)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for user %d: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var txs []*models.Transaction
	for cursor.Next(ctx) {
		var tx models.Transaction
		if err := cursor.Decode(&tx); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		txs = append(txs, &tx)
	}
	return txs, cursor.Err()
}

// CreateTransactionIndexes creates the idempotency and lookup indexes.
func CreateTransactionIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$exists": true, "$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "provider", Value: 1}, {Key: "provider_reference", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"provider_reference": bson.M{"$exists": true, "$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
	}
	_, err := db.Collection("transactions").Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}
	return nil
}
