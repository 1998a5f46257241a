package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/hubagent/internal/models"
)

// ErrChunkNotFound is returned by GetChunk for unknown IDs.
var ErrChunkNotFound = errors.New("chunk not found")

// SQLiteStorage is the ChunkStore of one generation, kept in a single SQLite file.
type SQLiteStorage struct {
	db *sql.DB
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
}

// NewSQLiteStorage creates the chunk database of a generation being built,
// creating parent directories as needed.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create chunk store directory: %w", err)
	}
	return openSQLite(dbPath)
}

// OpenSQLiteStorage opens the chunk database of a published generation.
// A missing file is an error rather than an empty store.
func OpenSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("chunk store: %w", err)
	}
	return openSQLite(dbPath)
}

func openSQLite(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	stmts := append(append([]string(nil), pragmas...), schema)
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare chunk store: %w", err)
		}
	}
	return &SQLiteStorage{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	title TEXT,
	content TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	source TEXT NOT NULL,
	content TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	char_offset INTEGER NOT NULL,
	char_length INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_seq ON document_chunks(seq);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON document_chunks(document_id);
`

// insertAll runs query once per item inside a single transaction.
func insertAll[T any](ctx context.Context, db *sql.DB, query string, items []T, args func(T) (string, []any)) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		key, values := args(item)
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("insert %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// SaveDocuments stores the source documents of the generation.
func (s *SQLiteStorage) SaveDocuments(ctx context.Context, docs []*models.Document) error {
	return insertAll(ctx, s.db,
		`INSERT INTO documents (id, source, title, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		docs, func(d *models.Document) (string, []any) {
			return d.Source, []any{d.ID, d.Source, d.Title, d.Content, d.CreatedAt}
		})
}

// SaveChunks stores chunks. Their documents must already be saved.
func (s *SQLiteStorage) SaveChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	return insertAll(ctx, s.db,
		`INSERT INTO document_chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chunks, func(c *models.DocumentChunk) (string, []any) {
			return c.ID, []any{c.ID, c.DocumentID, c.Source, c.Content, c.ChunkIndex, c.Seq, c.Offset, c.Length}
		})
}

const chunkColumns = `id, document_id, source, content, chunk_index, seq, char_offset, char_length`

func scanChunk(sc interface{ Scan(...any) error }) (*models.DocumentChunk, error) {
	var ch models.DocumentChunk
	if err := sc.Scan(&ch.ID, &ch.DocumentID, &ch.Source, &ch.Content,
		&ch.ChunkIndex, &ch.Seq, &ch.Offset, &ch.Length); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChunks returns all chunks ordered by seq.
func (s *SQLiteStorage) ListChunks(ctx context.Context) ([]*models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM document_chunks ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.DocumentChunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// GetChunk returns a chunk by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.DocumentChunk, error) {
	ch, err := scanChunk(s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM document_chunks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// CountDocuments returns the number of source documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	return s.count(ctx, "documents")
}

// CountChunks returns the number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, "document_chunks")
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
