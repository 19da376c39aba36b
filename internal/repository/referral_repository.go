package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ledger-api/internal/models"
)

type ReferralRepository interface {
	Create(ctx context.Context, referral *models.AffiliateReferral) error
	// GetByReferredUser returns (nil, nil) when the user was not referred.
	GetByReferredUser(ctx context.Context, referredUserID int64) (*models.AffiliateReferral, error)
	IncrementEarned(ctx context.Context, id primitive.ObjectID, amount decimal.Decimal) error
}

type referralRepository struct {
	collection *mongo.Collection
}

func NewReferralRepository(db *mongo.Database) ReferralRepository {
	return &referralRepository{collection: db.Collection("affiliate_referrals")}
}

func (r *referralRepository) Create(ctx context.Context, referral *models.AffiliateReferral) error {
	now := time.Now().UTC()
	referral.CreatedAt = now
	referral.UpdatedAt = now
	res, err := r.collection.InsertOne(ctx, referral)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create referral: %w", err)
	}
	referral.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *referralRepository) GetByReferredUser(ctx context.Context, referredUserID int64) (*models.AffiliateReferral, error) {
	var referral models.AffiliateReferral
	err := r.collection.FindOne(ctx, bson.M{"referred_user_id": referredUserID}).Decode(&referral)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get referral for user %d: %w", referredUserID, err)
	}
	return &referral, nil
}

func (r *referralRepository) IncrementEarned(ctx context.Context, id primitive.ObjectID, amount decimal.Decimal) error {
	referral := new(models.AffiliateReferral)
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(referral)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load referral: %w", err)
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"total_earned": referral.TotalEarned.Add(amount),
			"updated_at":   time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to increment referral earnings: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateReferralIndexes enforces one referral row per referred user.
func CreateReferralIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "referred_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "referrer_id", Value: 1}},
		},
	}
	_, err := db.Collection("affiliate_referrals").Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create referral indexes: %w", err)
	}
	return nil
}
