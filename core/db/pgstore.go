package db

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fbz-tec/pg2parquet/core/config"
	"github.com/fbz-tec/pg2parquet/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgStore represents a PostgreSQL database store connection.
type PgStore struct {
	dsn  string
	conn *pgx.Conn
}

// NewPgStore creates a new PostgreSQL store instance with the given DSN.
func NewPgStore(dsn string) *PgStore {
	return &PgStore{dsn: dsn}
}

// Connect establishes a connection to the PostgreSQL database.
// Returns an error if the connection fails or if ping fails.
func (s *PgStore) Connect() error {
	if s.conn != nil {
		return nil // already connected
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Debug("Connection timeout: 10s")
	logger.Debug("Attempting to connect to database: %s", config.Sanitize(s.dsn))

	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	logger.Debug("Connection established, verifying connectivity (ping)...")

	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Debug("Database ping successful")
	s.conn = conn
	return nil
}

// Close closes the database connection.
func (s *PgStore) Close() error {
	logger.Debug("Closing database connection...")

	if s.conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := s.conn.Close(ctx)
		if err != nil {
			logger.Debug("Error closing database connection: %v", err)
		} else {
			logger.Debug("Database connection closed successfully")
		}
		s.conn = nil
		return err
	}
	return nil
}

// Begin starts a transaction on the store's single connection. Every export
// of a run goes through the returned Tx.
func (s *PgStore) Begin(ctx context.Context, opts pgx.TxOptions) (Tx, error) {
	if s.conn == nil {
		logger.Debug("No active database connection; transaction cannot be started")
		return nil, fmt.Errorf("database not connected")
	}

	logger.Debug("Beginning transaction (isolation: %s, access: %s)", isoName(opts.IsoLevel), accessName(opts.AccessMode))
	tx, err := s.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("unable to begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return query(ctx, t.tx, sql, args...)
}

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	logger.Debug("Exec: %s", sql)
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return tag, fmt.Errorf("statement failed: %w", err)
	}
	return tag, nil
}

func (t *pgTx) CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error) {
	logger.Debug("Copy: %s", sql)

	startTime := time.Now()
	tag, err := t.tx.Conn().PgConn().CopyTo(ctx, w, sql)
	if err != nil {
		return 0, fmt.Errorf("COPY failed: %w", err)
	}

	logger.Debug("COPY completed in %v (%d rows)", time.Since(startTime), tag.RowsAffected())
	return tag.RowsAffected(), nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	logger.Debug("Committing transaction")
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	logger.Debug("Rolling back transaction")
	return t.tx.Rollback(ctx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func query(ctx context.Context, q querier, sql string, args ...any) (pgx.Rows, error) {
	logger.Debug("Executing SQL query...")
	logger.Debug("Query: %s", sql)

	startTime := time.Now()
	rows, err := q.Query(ctx, sql, args...)
	duration := time.Since(startTime)

	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	logger.Debug("Query executed successfully in %v", duration)
	return rows, nil
}

func isoName(l pgx.TxIsoLevel) string {
	if l == "" {
		return "default"
	}
	return string(l)
}

func accessName(m pgx.TxAccessMode) string {
	if m == "" {
		return "default"
	}
	return string(m)
}
