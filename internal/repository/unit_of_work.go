package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// UnitOfWork runs fn atomically: either every write inside fn is visible
// after Execute returns, or none is. Partial posting (a debit with no
// matching credit) must never be observable.
type UnitOfWork interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

type mongoUnitOfWork struct {
	client *mongo.Client
}

// NewUnitOfWork wraps fn in a MongoDB multi-document transaction. Requires
// a replica-set deployment.
func NewUnitOfWork(db *mongo.Database) UnitOfWork {
	return &mongoUnitOfWork{client: db.Client()}
}

func (u *mongoUnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := u.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
