// Package indexer turns a policy source directory into chunked documents ready for indexing.
package indexer

import (
	"fmt"

	"github.com/hyperjump/hubagent/internal/fileid"
	"github.com/hyperjump/hubagent/internal/models"
)

// Span is a half-open rune range [Offset, Offset+Length) of a text.
type Span struct {
	Offset int
	Length int
}

// ValidateChunking checks that size and overlap describe a forward-moving window.
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return nil
}

// Split cuts text into windows of size runes that start every size-overlap runes.
// Every rune of text lies in at least one span; the last span ends at the end of text.
// Invalid parameters fall back to non-overlapping windows.
func Split(text string, size, overlap int) []Span {
	n := len([]rune(text))
	if n == 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}
	step := size - overlap
	if overlap < 0 || step <= 0 {
		step = size
	}
	var spans []Span
	for start := 0; ; start += step {
		end := start + size
		if end > n {
			end = n
		}
		spans = append(spans, Span{Offset: start, Length: end - start})
		if end >= n {
			break
		}
	}
	return spans
}

// Chunker splits documents into overlapping rune windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in runes).
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if err := ValidateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Chunk splits doc.Content into DocumentChunks. Seq is left at zero for the caller to assign.
func (c *Chunker) Chunk(doc *models.Document) []*models.DocumentChunk {
	runes := []rune(doc.Content)
	spans := Split(doc.Content, c.chunkSize, c.chunkOverlap)
	chunks := make([]*models.DocumentChunk, 0, len(spans))
	for i, sp := range spans {
		chunks = append(chunks, &models.DocumentChunk{
			ID:         fileid.ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			Source:     doc.Source,
			Content:    string(runes[sp.Offset : sp.Offset+sp.Length]),
			ChunkIndex: i,
			Offset:     sp.Offset,
			Length:     sp.Length,
		})
	}
	return chunks
}

// ChunkAll chunks docs in order and numbers the chunks with a global Seq.
func (c *Chunker) ChunkAll(docs []*models.Document) []*models.DocumentChunk {
	var all []*models.DocumentChunk
	for _, doc := range docs {
		for _, ch := range c.Chunk(doc) {
			ch.Seq = len(all)
			all = append(all, ch)
		}
	}
	return all
}
