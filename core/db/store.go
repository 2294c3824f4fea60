package db

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Session is what one export needs from the connection it runs on.
type Session interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// CopyTo streams the output of a COPY ... TO STDOUT statement into w and
	// returns the number of rows copied.
	CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error)
}

// Tx is a Session bound to an open transaction.
type Tx interface {
	Session
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner opens transactions.
type TxBeginner interface {
	Begin(ctx context.Context, opts pgx.TxOptions) (Tx, error)
}

// Store defines the interface for database operations.
// Implementations should handle connection management and transactions.
type Store interface {
	TxBeginner
	Connect() error
	Close() error
}
