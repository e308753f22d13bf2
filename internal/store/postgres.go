// ABOUTME: PostgreSQL backend for SQLStore using the pgx stdlib driver
// ABOUTME: Schema is versioned with goose migrations embedded in the binary

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Godpassdev247/talent-horizon/internal/store/migrations"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var postgresDialect = dialect{
	name:              "postgres",
	numbered:          true,
	mergeContext:      "context || ?::jsonb",
	likeOp:            "ILIKE",
	isUniqueViolation: isPgUniqueViolation,
	timeArg:           nativeTime,
	savepoints:        true,
}

// PostgresOptions tunes the connection pool.
type PostgresOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// NewPostgresStore opens a pooled PostgreSQL handle, verifies it and applies
// pending migrations.
func NewPostgresStore(ctx context.Context, dsn string, opts PostgresOptions) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := runPostgresMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := newPostgresStore(db, slog.Default().With("component", "store"))
	s.logger.Info("PostgreSQL store initialized")
	return s, nil
}

func newPostgresStore(db *sql.DB, logger *slog.Logger) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: postgresDialect,
		logger:  logger,
		now:     time.Now,
	}
}

// runPostgresMigrations sets up goose with the embedded migrations and runs them.
func runPostgresMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
