package retrieval

import (
	"context"

	"github.com/hyperjump/hubagent/internal/embedding"
	"github.com/hyperjump/hubagent/internal/index"
	"github.com/hyperjump/hubagent/internal/models"
)

// FusionRanker merges full-text and embedding hits with a weighted sum.
// Keyword scores are scaled to [0,1] by the best keyword score; similarities are used as-is.
type FusionRanker struct {
	keyword        Ranker
	semantic       Ranker
	keywordWeight  float64
	semanticWeight float64
}

// NewFusionRanker creates a hybrid ranker over the keyword index and embeddings.
// Non-positive weights default to an even split.
func NewFusionRanker(embedder embedding.Embedder, minSimilarity, keywordWeight, semanticWeight float64) *FusionRanker {
	if keywordWeight <= 0 && semanticWeight <= 0 {
		keywordWeight, semanticWeight = 0.5, 0.5
	}
	return &FusionRanker{
		keyword:        KeywordRanker{},
		semantic:       NewSemanticRanker(embedder, minSimilarity),
		keywordWeight:  keywordWeight,
		semanticWeight: semanticWeight,
	}
}

// Name returns "hybrid".
func (f *FusionRanker) Name() string { return "hybrid" }

// Rank fuses both candidate lists; a chunk found by only one side keeps that side's share.
func (f *FusionRanker) Rank(ctx context.Context, g *index.Generation, question string, k int) ([]Hit, error) {
	candidates := k * 2
	if k <= 0 {
		candidates = 0
	}
	kw, err := f.keyword.Rank(ctx, g, question, candidates)
	if err != nil {
		return nil, err
	}
	sem, err := f.semantic.Rank(ctx, g, question, candidates)
	if err != nil {
		return nil, err
	}
	return sortHits(fuse(normalizeByMax(kw), scoresOf(sem), f.keywordWeight, f.semanticWeight), k), nil
}

type scored struct {
	chunk *models.DocumentChunk
	score float64
}

// normalizeByMax scales hit scores to [0,1] by the highest score.
func normalizeByMax(hits []Hit) map[string]scored {
	out := make(map[string]scored, len(hits))
	maxScore := 0.0
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	for _, h := range hits {
		s := 0.0
		if maxScore > 0 {
			s = h.Score / maxScore
		}
		out[h.Chunk.ID] = scored{chunk: h.Chunk, score: s}
	}
	return out
}

func scoresOf(hits []Hit) map[string]scored {
	out := make(map[string]scored, len(hits))
	for _, h := range hits {
		out[h.Chunk.ID] = scored{chunk: h.Chunk, score: h.Score}
	}
	return out
}

func fuse(keyword, semantic map[string]scored, keywordWeight, semanticWeight float64) []Hit {
	merged := make(map[string]*Hit, len(keyword)+len(semantic))
	for id, s := range keyword {
		merged[id] = &Hit{Chunk: s.chunk, Score: keywordWeight * s.score}
	}
	for id, s := range semantic {
		if h, ok := merged[id]; ok {
			h.Score += semanticWeight * s.score
		} else {
			merged[id] = &Hit{Chunk: s.chunk, Score: semanticWeight * s.score}
		}
	}
	hits := make([]Hit, 0, len(merged))
	for _, h := range merged {
		if h.Score > 0 {
			hits = append(hits, *h)
		}
	}
	return hits
}
