package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is the transactional persistence port services depend on.
// *pgxpool.Pool satisfies it; tests substitute fakes.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
