package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ledger-api/internal/models"
)

type CommissionRepository interface {
	// Resolve returns the most specific active setting for the pair: an
	// exact currency match wins over the AnyCurrency wildcard. ErrNotFound
	// when neither exists.
	Resolve(ctx context.Context, txType models.TransactionType, currency string) (*models.CommissionSetting, error)
	Upsert(ctx context.Context, setting *models.CommissionSetting) error
	List(ctx context.Context) ([]*models.CommissionSetting, error)
}

type commissionRepository struct {
	collection *mongo.Collection
}

func NewCommissionRepository(db *mongo.Database) CommissionRepository {
	return &commissionRepository{collection: db.Collection("commission_settings")}
}

func (r *commissionRepository) Resolve(ctx context.Context, txType models.TransactionType, currency string) (*models.CommissionSetting, error) {
	for _, cur := range []string{currency, models.AnyCurrency} {
		var setting models.CommissionSetting
		err := r.collection.FindOne(ctx, bson.M{
			"transaction_type": txType,
			"currency":         cur,
			"active":           true,
		}).Decode(&setting)
		if err == nil {
			return &setting, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to resolve commission setting: %w", err)
		}
	}
	return nil, ErrNotFound
}

func (r *commissionRepository) Upsert(ctx context.Context, setting *models.CommissionSetting) error {
	if err := setting.Validate(); err != nil {
		return err
	}
	setting.UpdatedAt = time.Now().UTC()
	if setting.CreatedAt.IsZero() {
		setting.CreatedAt = setting.UpdatedAt
	}
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"transaction_type": setting.TransactionType, "currency": setting.Currency},
		bson.M{"$set": setting},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert commission setting: %w", err)
	}
	return nil
}

func (r *commissionRepository) List(ctx context.Context) ([]*models.CommissionSetting, error) {
	opts := options.Find().SetSort(bson.D{{Key: "transaction_type", Value: 1}, {Key: "currency", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list commission settings: %w", err)
	}
	defer cursor.Close(ctx)

	var settings []*models.CommissionSetting
	for cursor.Next(ctx) {
		var setting models.CommissionSetting
		if err := cursor.Decode(&setting); err != nil {
			return nil, fmt.Errorf("failed to decode commission setting: %w", err)
		}
		settings = append(settings, &setting)
	}
	return settings, cursor.Err()
}

// CreateCommissionIndexes keeps one setting per (type, currency) pair.
func CreateCommissionIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("commission_settings").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "transaction_type", Value: 1}, {Key: "currency", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create commission indexes: %w", err)
	}
	return nil
}
