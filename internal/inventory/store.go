// Package inventory is the server-side store: endpoint registry, identity
// cache, snapshot reconciliation, shared software references and the task
// queue. It runs on PostgreSQL (lib/pq or pgx) or SQLite (modernc).
package inventory

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/fleetsync/inventory/internal/logging"
)

var log = logging.L("inventory")

//go:embed schema_postgres.sql
var schemaPostgres string

//go:embed schema_sqlite.sql
var schemaSQLite string

var (
	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrStaleTransition  = errors.New("stale task transition")
	ErrInvalidInput     = errors.New("invalid input")
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// Store wraps the relational database. All writes that touch more than one
// row run in a single transaction scoped to one endpoint.
type Store struct {
	db      *sql.DB
	dialect dialect
	ids     *IdentityCache
	now     func() time.Time
}

// Open connects using one of the supported drivers: "postgres" (lib/pq),
// "pgx" (pgx stdlib) or "sqlite" (modernc).
func Open(ctx context.Context, driver, dsn string, maxOpenConns int) (*Store, error) {
	var d dialect
	switch strings.ToLower(driver) {
	case "postgres", "pgx":
		d = dialectPostgres
	case "sqlite":
		d = dialectSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(strings.ToLower(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d == dialectSQLite {
		// One connection serializes writers; SQLite has no row locks.
		db.SetMaxOpenConns(1)
	} else if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if d == dialectSQLite {
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	log.Info("database opened", "driver", driver)
	return &Store{
		db:      db,
		dialect: d,
		ids:     NewIdentityCache(),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	schema := schemaPostgres
	if s.dialect == dialectSQLite {
		schema = schemaSQLite
	}
	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	log.Info("schema applied")
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Identities exposes the identity cache for administrative use.
func (s *Store) Identities() *IdentityCache {
	return s.ids
}

// Querier is the read side shared by *sql.DB and *sql.Tx wrappers. Queries
// are written with ? placeholders and rebound per dialect.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dbtx rebinds placeholders before handing queries to the driver.
type dbtx struct {
	r       sqlRunner
	dialect dialect
}

func (t *dbtx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.r.ExecContext(ctx, rebind(t.dialect, query), args...)
}

func (t *dbtx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.r.QueryContext(ctx, rebind(t.dialect, query), args...)
}

func (t *dbtx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.r.QueryRowContext(ctx, rebind(t.dialect, query), args...)
}

func (s *Store) conn() *dbtx {
	return &dbtx{r: s.db, dialect: s.dialect}
}

// withTx runs fn in a transaction, committing on nil and rolling back on any
// error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *dbtx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
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

	if err = fn(&dbtx{r: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// touchEndpoint bumps last_seen_at. Inside a transaction on PostgreSQL this
// takes the endpoint row lock, which serializes concurrent pushes for the
// same endpoint.
func touchEndpoint(ctx context.Context, tx *dbtx, endpointID int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE endpoint SET last_seen_at = ? WHERE id = ?`, now, endpointID)
	if err != nil {
		return fmt.Errorf("touch endpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch endpoint: %w", err)
	}
	if n == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func rebind(d dialect, query string) string {
	if d != dialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullUint(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func uintPtr(ni sql.NullInt64) *uint64 {
	if !ni.Valid {
		return nil
	}
	v := uint64(ni.Int64)
	return &v
}
