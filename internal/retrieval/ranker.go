package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/hubagent/internal/embedding"
	"github.com/hyperjump/hubagent/internal/index"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/pkg/utils"
)

// Hit is a ranked chunk.
type Hit struct {
	Chunk *models.DocumentChunk
	Score float64
}

// Ranker returns up to k chunks of g that clear its relevance floor,
// highest score first with ties in document order.
type Ranker interface {
	Rank(ctx context.Context, g *index.Generation, question string, k int) ([]Hit, error)
	Name() string
}

func sortHits(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Seq < hits[j].Chunk.Seq
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// LexicalRanker scores a chunk by how many distinct question terms it contains.
type LexicalRanker struct{}

// Name returns "lexical".
func (LexicalRanker) Name() string { return "lexical" }

// Rank keeps chunks with a score above zero.
func (LexicalRanker) Rank(ctx context.Context, g *index.Generation, question string, k int) ([]Hit, error) {
	terms := utils.Terms(question)
	if len(terms) == 0 {
		return nil, nil
	}
	var hits []Hit
	for _, c := range g.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		present := make(map[string]struct{})
		for _, tok := range utils.Tokens(c.Content) {
			present[tok] = struct{}{}
		}
		score := 0
		for _, t := range terms {
			if _, ok := present[t]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, Hit{Chunk: c, Score: float64(score)})
		}
	}
	return sortHits(hits, k), nil
}

// KeywordRanker ranks with the generation's full-text index.
type KeywordRanker struct{}

// Name returns "keyword".
func (KeywordRanker) Name() string { return "keyword" }

// Rank returns full-text matches with a positive score.
func (KeywordRanker) Rank(ctx context.Context, g *index.Generation, question string, k int) ([]Hit, error) {
	if len(utils.Terms(question)) == 0 {
		return nil, nil
	}
	// Bleve orders equal scores by its own doc order, so every match is fetched
	// and the Seq tie-break is applied before cutting to k.
	results, err := g.Keywords.Search(ctx, question, len(g.Chunks))
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if c, ok := g.Chunk(r.ID); ok && r.Score > 0 {
			hits = append(hits, Hit{Chunk: c, Score: r.Score})
		}
	}
	return sortHits(hits, k), nil
}

// SemanticRanker ranks by embedding similarity above a floor.
type SemanticRanker struct {
	embedder      embedding.Embedder
	minSimilarity float64
}

// NewSemanticRanker creates a ranker. Hits at or below minSimilarity are dropped.
func NewSemanticRanker(embedder embedding.Embedder, minSimilarity float64) *SemanticRanker {
	return &SemanticRanker{embedder: embedder, minSimilarity: minSimilarity}
}

// Name returns "semantic".
func (s *SemanticRanker) Name() string { return "semantic" }

// Rank embeds the question and searches the generation's vectors.
func (s *SemanticRanker) Rank(ctx context.Context, g *index.Generation, question string, k int) ([]Hit, error) {
	if len(utils.Terms(question)) == 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	limit := k
	if limit <= 0 {
		limit = len(g.Chunks)
	}
	results, err := g.Vectors.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if r.Score <= s.minSimilarity {
			continue
		}
		if c, ok := g.Chunk(r.ID); ok {
			hits = append(hits, Hit{Chunk: c, Score: r.Score})
		}
	}
	return sortHits(hits, k), nil
}
