// Package models defines core data structures for questions, routing, documents and answers.
package models

import "time"

// Document is a source policy document after text extraction.
type Document struct {
	ID        string    `json:"id" db:"id"`
	Source    string    `json:"source" db:"source"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DocumentChunk is a bounded, possibly overlapping span of a document's text.
// Offset and Length are measured in runes of the document content.
type DocumentChunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Source     string    `json:"source" db:"source"`
	Content    string    `json:"content" db:"content"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Seq        int       `json:"seq" db:"seq"`
	Offset     int       `json:"offset" db:"offset"`
	Length     int       `json:"length" db:"length"`
	Embedding  []float32 `json:"-" db:"-"`
}
