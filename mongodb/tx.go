package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/mealtrace/mealtrace/domain"
)

// TxRunner implements domain.TxRunner on MongoDB multi-document transactions.
// Requires a replica set or mongos; standalone servers reject transactions.
type TxRunner struct {
	client *mongo.Client
}

// NewTxRunner creates a TxRunner bound to the given client.
func NewTxRunner(client *mongo.Client) *TxRunner {
	return &TxRunner{client: client}
}

// RunInTransaction executes fn inside one transaction. Repository calls made
// with the context passed to fn join the transaction automatically.
func (t *TxRunner) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := t.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start mongo session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

var _ domain.TxRunner = (*TxRunner)(nil)
