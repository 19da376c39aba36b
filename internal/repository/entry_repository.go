package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ledger-api/internal/models"
)

type EntryRepository interface {
	// Append inserts entries. A unique-index hit on
	// (reference, wallet_id, type) returns ErrDuplicate so a retried
	// posting is treated as already processed rather than double-posted.
	Append(ctx context.Context, entries ...*models.LedgerEntry) error
	ListByWallet(ctx context.Context, walletID primitive.ObjectID) ([]*models.LedgerEntry, error)
	ListByWalletPaged(ctx context.Context, walletID primitive.ObjectID, limit, offset int) ([]*models.LedgerEntry, error)
	ListByReference(ctx context.Context, reference string) ([]*models.LedgerEntry, error)
	// ResolvePending moves the pending entries referencing a transaction on
	// one wallet to confirmed or failed. This is the single permitted
	// mutation of a ledger entry (the payout review step); confirmed
	// entries are immutable.
	ResolvePending(ctx context.Context, reference string, walletID primitive.ObjectID, to models.EntryStatus) error
}

type entryRepository struct {
	collection *mongo.Collection
}

func NewEntryRepository(db *mongo.Database) EntryRepository {
	return &entryRepository{collection: db.Collection("ledger_entries")}
}

func (r *entryRepository) Append(ctx context.Context, entries ...*models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, len(entries))
	for i, e := range entries {
		docs[i] = e
	}
	// Ordered inserts: on a duplicate the whole batch is aborted by the
	// surrounding session transaction, never partially applied.
	res, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to append ledger entries: %w", err)
	}
	for i, id := range res.InsertedIDs {
		entries[i].ID = id.(primitive.ObjectID)
	}
	return nil
}

func (r *entryRepository) ListByWallet(ctx context.Context, walletID primitive.ObjectID) ([]*models.LedgerEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return r.list(ctx, bson.M{"wallet_id": walletID}, opts)
}

func (r *entryRepository) ListByWalletPaged(ctx context.Context, walletID primitive.ObjectID, limit, offset int) ([]*models.LedgerEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	return r.list(ctx, bson.M{"wallet_id": walletID}, opts)
}

func (r *entryRepository) ListByReference(ctx context.Context, reference string) ([]*models.LedgerEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return r.list(ctx, bson.M{"reference": reference}, opts)
}

func (r *entryRepository) list(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.LedgerEntry, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*models.LedgerEntry
	for cursor.Next(ctx) {
		var entry models.LedgerEntry
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, cursor.Err()
}

func (r *entryRepository) ResolvePending(ctx context.Context, reference string, walletID primitive.ObjectID, to models.EntryStatus) error {
	if to != models.EntryConfirmed && to != models.EntryFailed {
		return fmt.Errorf("pending entries resolve to confirmed or failed, not %q", to)
	}
	res, err := r.collection.UpdateMany(ctx,
		bson.M{
			"reference": reference,
			"wallet_id": walletID,
			"status":    models.EntryPending,
		},
		bson.M{"$set": bson.M{"status": to}},
	)
	if err != nil {
		return fmt.Errorf("failed to resolve pending entries: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateEntryIndexes creates the idempotency unique index and the read
// paths for balance projection.
func CreateEntryIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "reference", Value: 1},
				{Key: "wallet_id", Value: 1},
				{Key: "type", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "status", Value: 1}},
		},
	}
	_, err := db.Collection("ledger_entries").Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry indexes: %w", err)
	}
	return nil
}
