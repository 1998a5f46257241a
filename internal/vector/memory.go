package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory vector index using brute-force inner product search.
// Policy corpora are small enough that exhaustive search is fast.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Add appends vectors with the given IDs. Insertion order is the tie-break order for Search.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the top-k vectors by inner product. Equal scores keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*Match, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	results := make([]*Match, len(m.ids))
	for i, vec := range m.vectors {
		results[i] = &Match{ID: m.ids[i], Score: Dot(query, vec)}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// vectorMagic opens every vectors file; the version follows it.
const (
	vectorMagic   = "HJVX"
	vectorVersion = 1
)

// ErrCorrupt is returned by Load for files that fail validation.
var ErrCorrupt = errors.New("vector file corrupt")

// Save writes the index to path through a temporary file and a rename, so a
// reader never sees a partial file.
//
// Layout (little endian): magic, version u16, dimensions u32, count u32, then
// per vector a uvarint ID length, the ID, and dimensions float32s; a CRC-32 of
// everything before it closes the file.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	data := m.encode()
	m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create vector dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create vector file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write vector file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync vector file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close vector file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish vector file: %w", err)
	}
	return nil
}

func (m *MemoryIndex) encode() []byte {
	buf := make([]byte, 0, 14+len(m.ids)*(m.dimensions*4+binary.MaxVarintLen32+16)+4)
	buf = append(buf, vectorMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, vectorVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.dimensions))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.ids)))
	for i, id := range m.ids {
		buf = binary.AppendUvarint(buf, uint64(len(id)))
		buf = append(buf, id...)
		for _, v := range m.vectors[i] {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// Load replaces the contents of the index with the file at path. Missing,
// truncated or altered files and a dimension different from the index's are errors.
func (m *MemoryIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read vector file: %w", err)
	}
	ids, vectors, err := decodeVectors(data, m.dimensions)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	m.mu.Lock()
	m.ids, m.vectors = ids, vectors
	m.mu.Unlock()
	return nil
}

func decodeVectors(data []byte, dimensions int) ([]string, [][]float32, error) {
	const header = len(vectorMagic) + 2 + 4 + 4
	if len(data) < header+4 {
		return nil, nil, fmt.Errorf("%w: short file", ErrCorrupt)
	}
	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if string(body[:len(vectorMagic)]) != vectorMagic {
		return nil, nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	p := body[len(vectorMagic):]
	if v := binary.LittleEndian.Uint16(p); v != vectorVersion {
		return nil, nil, fmt.Errorf("unsupported vector file version %d", v)
	}
	if dim := int(binary.LittleEndian.Uint32(p[2:])); dim != dimensions {
		return nil, nil, fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, dimensions)
	}
	n := int(binary.LittleEndian.Uint32(p[6:]))
	p = p[10:]

	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		idLen, k := binary.Uvarint(p)
		if k <= 0 || uint64(len(p)-k) < idLen+uint64(dimensions*4) {
			return nil, nil, fmt.Errorf("%w: record %d truncated", ErrCorrupt, i)
		}
		p = p[k:]
		ids = append(ids, string(p[:idLen]))
		p = p[idLen:]
		vec := make([]float32, dimensions)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(p[j*4:]))
		}
		vectors = append(vectors, vec)
		p = p[dimensions*4:]
	}
	if len(p) != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(p))
	}
	return ids, vectors, nil
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
