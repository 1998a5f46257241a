// Package fileid derives stable document IDs from source paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

const prefix = "doc:"

// DocID returns a stable document ID for a path relative to the policy source directory.
// Separators are normalized so the same document gets the same ID on every platform.
func DocID(relPath string) string {
	normalized := filepath.ToSlash(filepath.Clean(relPath))
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:12])
}

// ChunkID returns the ID of the index-th chunk of document docID.
func ChunkID(docID string, index int) string {
	return docID + "#" + strconv.Itoa(index)
}
