// Package datastore opens the business data store and runs read-only queries against it.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/hyperjump/hubagent/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// ResultSet holds the rows returned by a query.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	// Truncated is set when rows beyond the configured maximum were dropped.
	Truncated bool `json:"truncated,omitempty"`
}

// Records returns the rows as column-keyed maps.
func (r *ResultSet) Records() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			if i < len(row) {
				m[c] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// DB is a shared connection pool that only issues read-only transactions.
type DB struct {
	db     *sql.DB
	driver string
}

// Open connects to the store described by cfg. SQLite files are opened in read-only mode.
func Open(ctx context.Context, cfg *config.DataStoreConfig) (*DB, error) {
	driver, dsn := cfg.Driver, cfg.DSN
	switch driver {
	case "sqlite3":
		dsn = readOnlySQLiteDSN(dsn)
	case "pgx", "postgres":
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported datastore driver %q", cfg.Driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping datastore: %w", err)
	}
	return &DB{db: db, driver: driver}, nil
}

// New wraps an existing handle; used with in-memory databases in tests.
func New(db *sql.DB, driver string) *DB {
	return &DB{db: db, driver: driver}
}

// readOnlySQLiteDSN turns a path or file: URI into a file: URI with mode=ro.
func readOnlySQLiteDSN(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "mode=") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + url.Values{"mode": {"ro"}}.Encode()
}

// Query runs query in a read-only transaction and returns at most maxRows rows.
// maxRows <= 0 means no cap.
func (d *DB) Query(ctx context.Context, query string, maxRows int) (*ResultSet, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) == maxRows {
			rs.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rs, nil
}

// Driver returns the database/sql driver name in use.
func (d *DB) Driver() string { return d.driver }

// Close closes the pool.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}
