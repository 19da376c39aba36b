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

type WalletRepository interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Wallet, error)
	GetByUserAndCurrency(ctx context.Context, userID int64, currency string) (*models.Wallet, error)
	// GetOrCreate returns the wallet for (userID, currency), creating it on
	// first need. Safe under concurrent callers: a lost insert race falls
	// back to reading the winner.
	GetOrCreate(ctx context.Context, userID int64, currency string) (*models.Wallet, error)
	GetPlatformWallet(ctx context.Context, currency string) (*models.Wallet, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Wallet, error)
	// ListAll pages over every wallet, used by the reconciliation sweep.
	ListAll(ctx context.Context, limit, offset int) ([]*models.Wallet, error)
	UpdateProjection(ctx context.Context, walletID primitive.ObjectID, balance models.Balance) error
	SetFrozen(ctx context.Context, walletID primitive.ObjectID, frozen bool) error
}

type walletRepository struct {
	collection *mongo.Collection
}

func NewWalletRepository(db *mongo.Database) WalletRepository {
	return &walletRepository{collection: db.Collection("wallets")}
}

func (r *walletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if err := wallet.Validate(); err != nil {
		return err
	}
	res, err := r.collection.InsertOne(ctx, wallet)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	wallet.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *walletRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&wallet)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetByUserAndCurrency(ctx context.Context, userID int64, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "currency": currency}).Decode(&wallet)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet for user %d: %w", userID, err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetOrCreate(ctx context.Context, userID int64, currency string) (*models.Wallet, error) {
	wallet, err := r.GetByUserAndCurrency(ctx, userID, currency)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	wallet = models.NewWallet(userID, currency)
	if err := r.Create(ctx, wallet); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost the insert race; the unique (user_id, currency) index
			// guarantees the winner is the wallet we want.
			return r.GetByUserAndCurrency(ctx, userID, currency)
		}
		return nil, err
	}
	return wallet, nil
}

func (r *walletRepository) GetPlatformWallet(ctx context.Context, currency string) (*models.Wallet, error) {
	return r.GetOrCreate(ctx, models.PlatformUserID, currency)
}

func (r *walletRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Wallet, error) {
	opts := options.Find().SetSort(bson.M{"currency": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets for user %d: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var wallets []*models.Wallet
	for cursor.Next(ctx) {
		var wallet models.Wallet
		if err := cursor.Decode(&wallet); err != nil {
			return nil, fmt.Errorf("failed to decode wallet: %w", err)
		}
		wallets = append(wallets, &wallet)
	}
	return wallets, cursor.Err()
}

func (r *walletRepository) ListAll(ctx context.Context, limit, offset int) ([]*models.Wallet, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer cursor.Close(ctx)

	var wallets []*models.Wallet
	for cursor.Next(ctx) {
		var wallet models.Wallet
		if err := cursor.Decode(&wallet); err != nil {
			return nil, fmt.Errorf("failed to decode wallet: %w", err)
		}
		wallets = append(wallets, &wallet)
	}
	return wallets, cursor.Err()
}

func (r *walletRepository) UpdateProjection(ctx context.Context, walletID primitive.ObjectID, balance models.Balance) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": walletID}, bson.M{
		"$set": bson.M{
			"balance":    balance,
			"updated_at": time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update balance projection: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *walletRepository) SetFrozen(ctx context.Context, walletID primitive.ObjectID, frozen bool) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": walletID}, bson.M{
		"$set": bson.M{
			"frozen":     frozen,
			"updated_at": time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set frozen flag: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateWalletIndexes creates the indexes backing the wallet invariants,
// most importantly at most one wallet per (user, currency).
func CreateWalletIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "currency", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "address", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err := db.Collection("wallets").Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create wallet indexes: %w", err)
	}
	return nil
}
