package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle threaded through repository calls.
// The concrete type is infra-defined (pgx.Tx for Postgres). Repositories
// MUST gracefully accept a nil Tx (non-transactional path).
type Tx interface{}

// TransactionManager executes a function within a database transaction,
// passing the underlying handle via tx.
//
// The orchestrator deliberately never holds a transaction open across a
// gateway network call: it opens one transaction to persist intent, releases
// it, performs the call, then opens a second transaction to persist the
// outcome. Callers composing larger units of work can instead call the
// repositories directly with their own Tx.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
