package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	pfirestore "github.com/parcelhub/api/internal/platform/firestore"
)

type txContextKey struct{}

func withTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func transactionFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// UnitOfWork runs a function with all repository calls inside it sharing one
// Firestore transaction. Repositories in this package detect the transaction
// through the context and route reads and writes through it.
type UnitOfWork struct {
	provider *pfirestore.Provider
}

// NewUnitOfWork constructs a transactional boundary over the shared provider.
func NewUnitOfWork(provider *pfirestore.Provider) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider}, nil
}

// RunInTx executes fn within a Firestore transaction. Firestore requires all
// transactional reads to happen before the first write.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("unit of work not initialised")
	}
	if fn == nil {
		return errors.New("unit of work requires a function")
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(withTransaction(ctx, tx))
	})
}
