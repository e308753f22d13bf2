// ABOUTME: SQLStore is the database/sql implementation shared by the SQLite and PostgreSQL backends
// ABOUTME: Dialect differences (placeholders, JSON merge, timestamps, conflicts) live in the dialect struct

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// timeLayout is fixed width so that text timestamps sort the same way the
// times they encode do.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures what differs between the supported SQL engines.
type dialect struct {
	name string

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool

	// mergeContext is the SQL expression that merges one bound JSON object
	// parameter into the context column.
	mergeContext string

	// likeOp is the case-insensitive LIKE operator.
	likeOp string

	isUniqueViolation func(error) bool
	timeArg           func(time.Time) any

	// savepoints wraps conflicting inserts inside transactions, required on
	// engines that abort the whole transaction on a failed statement.
	savepoints bool
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

// Close releases the pooled database handle.
func (s *SQLStore) Close() error {
	s.logger.Info("closing store", "driver", s.dialect.name)
	return s.db.Close()
}

// Ping checks database reachability.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging %s: %w", s.dialect.name, err)
	}
	return nil
}

// DB exposes the underlying handle for health checks and tooling.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Driver returns the dialect name ("sqlite" or "postgres").
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, q dbtx, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q dbtx, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q dbtx, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// ts converts a time into the value the dialect stores.
func (s *SQLStore) ts(t time.Time) any {
	return s.dialect.timeArg(t.UTC())
}

func textTime(t time.Time) any {
	return t.UTC().Format(timeLayout)
}

func nativeTime(t time.Time) any {
	return t.UTC()
}

// dbTime scans either a native time value or one of our text timestamps.
type dbTime struct {
	t *time.Time
}

func (d dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d.t = v.UTC()
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case nil:
		return fmt.Errorf("scanning time: unexpected NULL")
	default:
		return fmt.Errorf("scanning time: unsupported type %T", src)
	}
}

func (d dbTime) parse(s string) error {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC3339.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	*d.t = t.UTC()
	return nil
}

// nullTime scans a nullable timestamp into a *time.Time.
type nullTime struct {
	t **time.Time
}

func (n nullTime) Scan(src any) error {
	if src == nil {
		*n.t = nil
		return nil
	}
	var t time.Time
	if err := (dbTime{t: &t}).Scan(src); err != nil {
		return err
	}
	*n.t = &t
	return nil
}

// Compile-time interface check
var _ Store = (*SQLStore)(nil)
