// Package postgres stores the indexed network in PostgreSQL, or in SQLite for
// local development, and serves it as a data plane.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/indexer"
	"github.com/blackmichael/bluesky-appview/internal/pagination"
)

// Dialect selects the SQL flavour of the underlying database.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) timestampType() string {
	if d == SQLite {
		return "TIMESTAMP"
	}
	return "TIMESTAMPTZ"
}

const sqlitePrefix = "sqlite:"

// Repository implements dataplane.Client for the read path and
// indexer.Store and indexer.CursorStore for the write path.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ dataplane.Client    = (*Repository)(nil)
	_ indexer.Store       = (*Repository)(nil)
	_ indexer.CursorStore = (*Repository)(nil)
)

// NewRepository connects to the database at databaseURL, waiting up to a
// minute for it to accept connections. A URL starting with "sqlite:" opens
// a SQLite file instead of PostgreSQL. The caller should call Close when the
// repository is no longer needed.
func NewRepository(ctx context.Context, databaseURL string, logger *slog.Logger) (*Repository, error) {
	driver, dsn, dialect := "postgres", databaseURL, Postgres
	if strings.HasPrefix(databaseURL, sqlitePrefix) {
		var err error
		dsn, err = prepareSQLiteDSN(strings.TrimPrefix(databaseURL, sqlitePrefix))
		if err != nil {
			return nil, err
		}
		driver, dialect = "sqlite", SQLite
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == SQLite {
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute
	attempt := 1
	err = backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			logger.Info("waiting for the database", "attempt", attempt, "error", err)
			attempt++
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Repository{db: db, dialect: dialect}, nil
}

// NewRepositoryFromDB wraps an open database handle.
func NewRepositoryFromDB(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{db: db, dialect: dialect}
}

// prepareSQLiteDSN sets journal mode, busy timeout, transaction locking and
// time format defaults unless the DSN already specifies them.
func prepareSQLiteDSN(dsn string) (string, error) {
	query := url.Values{}
	if i := strings.Index(dsn, "?"); i != -1 {
		var err error
		query, err = url.ParseQuery(dsn[i+1:])
		if err != nil {
			return dsn, fmt.Errorf("parse sqlite dsn: %w", err)
		}
		dsn = dsn[:i]
	}
	var journal, busy bool
	for _, val := range query["_pragma"] {
		journal = journal || strings.HasPrefix(val, "journal_mode")
		busy = busy || strings.HasPrefix(val, "busy_timeout")
	}
	if !journal {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !busy {
		query.Add("_pragma", "busy_timeout(1000)")
	}
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}
	if !query.Has("_time_format") {
		query.Set("_time_format", "sqlite")
	}
	return dsn + "?" + query.Encode(), nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders into the dialect's form.
func (r *Repository) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *Repository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, r.rebind(query), args...)
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.rebind(query), args...)
}

// inList returns n comma-separated placeholders.
func inList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// args appends vals to head as query arguments.
func args(head []any, vals ...[]string) []any {
	out := head
	for _, vs := range vals {
		for _, v := range vs {
			out = append(out, v)
		}
	}
	return out
}

// ts normalizes a time before it is stored. Cursors carry milliseconds, so
// stored sort keys do too.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// stringPairs runs a query selecting two text columns and maps the first to
// the second. The first row for a key wins.
func (r *Repository) stringPairs(ctx context.Context, query string, qargs ...any) (map[string]string, error) {
	rows, err := r.query(ctx, query, qargs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out, rows.Err()
}

// counts runs a query selecting a key and a count.
func (r *Repository) counts(ctx context.Context, query string, qargs ...any) (map[string]int64, error) {
	rows, err := r.query(ctx, query, qargs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[k] = n
	}
	return out, rows.Err()
}

// keyset appends a "before cursor" condition on (sortCol, keyCol) to the
// query and args. A malformed cursor matches no rows.
func keyset(cursor, sortCol, keyCol string, query string, qargs []any) (string, []any) {
	ks, ok, err := pagination.Unpack(cursor)
	if err != nil {
		return query + " AND 1 = 0", qargs
	}
	if !ok {
		return query, qargs
	}
	return query + fmt.Sprintf(" AND (%s, %s) < (?, ?)", sortCol, keyCol), append(qargs, ts(ks.SortAt), ks.Tiebreaker)
}

// fetchLimit is the row limit for a page query. One extra row is read to
// learn whether another page follows.
func fetchLimit(limit int) int {
	return pagination.Limit(limit) + 1
}

// trimPage cuts rows to the page size and returns the cursor for the next
// page, or "" on the last page.
func trimPage[T any](rows []T, limit int, keyOf func(T) (time.Time, string)) ([]T, string) {
	limit = pagination.Limit(limit)
	if len(rows) <= limit {
		return rows, ""
	}
	rows = rows[:limit]
	sortAt, key := keyOf(rows[len(rows)-1])
	return rows, pagination.Pack(sortAt, key)
}

// uriPage runs base, which selects (key, sort) columns, as one keyset page
// ordered newest first.
func (r *Repository) uriPage(ctx context.Context, base string, qargs []any, sortCol, keyCol, cursor string, limit int) (dataplane.Page, error) {
	query, qargs := keyset(cursor, sortCol, keyCol, base, qargs)
	query += fmt.Sprintf(" ORDER BY %s DESC, %s DESC LIMIT ?", sortCol, keyCol)
	rows, err := r.query(ctx, query, append(qargs, fetchLimit(limit))...)
	if err != nil {
		return dataplane.Page{}, err
	}
	defer rows.Close()

	type row struct {
		uri    string
		sortAt time.Time
	}
	var page []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.uri, &rw.sortAt); err != nil {
			return dataplane.Page{}, fmt.Errorf("scan page: %w", err)
		}
		page = append(page, rw)
	}
	if err := rows.Err(); err != nil {
		return dataplane.Page{}, err
	}

	page, next := trimPage(page, limit, func(rw row) (time.Time, string) { return rw.sortAt, rw.uri })
	out := dataplane.Page{Cursor: next}
	for _, rw := range page {
		out.URIs = append(out.URIs, rw.uri)
	}
	return out, nil
}

// GetCursor retrieves the saved firehose cursor for a service.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT cursor_value FROM cursors WHERE service = ?`), service,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the firehose cursor for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.exec(ctx, `
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`,
		service, cursor, ts(time.Now()),
	)
	return err
}
