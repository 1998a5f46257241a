package datastore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/hyperjump/hubagent/internal/config"
)

func seed(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE dealers (dealer_id INTEGER PRIMARY KEY, name TEXT, country TEXT)`,
		`INSERT INTO dealers (name, country) VALUES ('Auto Nord', 'DE'), ('Car Sud', 'FR'), ('Motor Ost', 'DE')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatal(err)
		}
	}
}

func openSeeded(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.db")
	seed(t, path)
	db, err := Open(context.Background(), &config.DataStoreConfig{Driver: "sqlite3", DSN: path, MaxOpenConns: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_Query(t *testing.T) {
	db := openSeeded(t)
	rs, err := db.Query(context.Background(), "SELECT COUNT(*) AS count FROM dealers WHERE country = 'DE'", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Columns) != 1 || rs.Columns[0] != "count" {
		t.Errorf("columns = %v", rs.Columns)
	}
	if len(rs.Rows) != 1 || rs.Rows[0][0] != int64(2) {
		t.Errorf("rows = %v", rs.Rows)
	}
	rec := rs.Records()
	if rec[0]["count"] != int64(2) {
		t.Errorf("records = %v", rec)
	}
}

func TestDB_Query_truncates(t *testing.T) {
	db := openSeeded(t)
	rs, err := db.Query(context.Background(), "SELECT name FROM dealers ORDER BY dealer_id", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Rows) != 2 || !rs.Truncated {
		t.Errorf("expected 2 rows and truncated flag, got %d rows truncated=%v", len(rs.Rows), rs.Truncated)
	}
	if rs.Rows[0][0] != "Auto Nord" {
		t.Errorf("first row = %v", rs.Rows[0])
	}
}

func TestDB_Query_readOnly(t *testing.T) {
	db := openSeeded(t)
	if _, err := db.Query(context.Background(), "DELETE FROM dealers", 0); err == nil {
		t.Error("expected write to fail on read-only connection")
	}
	rs, err := db.Query(context.Background(), "SELECT COUNT(*) FROM dealers", 0)
	if err != nil {
		t.Fatal(err)
	}
	if rs.Rows[0][0] != int64(3) {
		t.Errorf("rows were modified: %v", rs.Rows)
	}
}

func TestDB_Query_malformed(t *testing.T) {
	db := openSeeded(t)
	if _, err := db.Query(context.Background(), "SELECT FROM WHERE", 0); err == nil {
		t.Error("expected error for malformed query")
	}
}

func TestOpen_errors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, &config.DataStoreConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
	missing := filepath.Join(t.TempDir(), "missing.db")
	if _, err := Open(ctx, &config.DataStoreConfig{Driver: "sqlite3", DSN: missing}); err == nil {
		t.Error("expected error for missing read-only database")
	}
}

func TestReadOnlySQLiteDSN(t *testing.T) {
	tests := map[string]string{
		"/data/sales.db":             "file:/data/sales.db?mode=ro",
		"file:sales.db?cache=shared": "file:sales.db?cache=shared&mode=ro",
		"file:sales.db?mode=rw":      "file:sales.db?mode=rw",
		":memory:":                   ":memory:",
	}
	for in, want := range tests {
		if got := readOnlySQLiteDSN(in); got != want {
			t.Errorf("readOnlySQLiteDSN(%q) = %q, want %q", in, got, want)
		}
	}
}
