// Package search converts raw vector-index neighbors into ranked,
// similarity-scored retrieval results.
package search

import (
	"context"
	"fmt"

	"github.com/phuslu/log"

	"ragengine/internal/domain"
)

// Gateway sits between the vector index and the orchestrator. The index
// speaks cosine distances; callers want similarities in [0,1] filtered by
// a minimum threshold.
type Gateway struct {
	index  domain.VectorIndex
	logger *log.Logger
}

func NewGateway(index domain.VectorIndex, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Gateway{index: index, logger: logger}
}

// Search fetches topK nearest neighbors, converts each distance d to a
// similarity 1-d clamped to [0,1], and drops results below minSimilarity.
// The threshold applies after the index limit, so a strict threshold can
// return fewer than topK results even when more chunks would qualify.
func (g *Gateway) Search(ctx context.Context, vector []float32, topK int, minSimilarity float64, documentIDs []string) ([]domain.RetrievalResult, domain.SearchStats, error) {
	neighbors, err := g.index.Search(ctx, vector, topK, documentIDs)
	if err != nil {
		return nil, domain.SearchStats{}, fmt.Errorf("vector search: %w", err)
	}

	results := make([]domain.RetrievalResult, 0, len(neighbors))
	var sum float64
	for _, n := range neighbors {
		score := clamp01(1 - n.Distance)
		if score < minSimilarity {
			continue
		}
		results = append(results, domain.RetrievalResult{
			ChunkID:     n.ChunkID,
			DocumentID:  n.DocumentID,
			ChunkNumber: n.ChunkNumber,
			Text:        n.Text,
			Score:       score,
			Rank:        len(results) + 1,
		})
		sum += score
	}

	stats := domain.SearchStats{NumResults: len(results)}
	if len(results) > 0 {
		stats.AvgSimilarity = sum / float64(len(results))
	}
	g.logger.Debug().
		Int("candidates", len(neighbors)).
		Int("results", stats.NumResults).
		Float64("avg_similarity", stats.AvgSimilarity).
		Msg("similarity search complete")
	return results, stats, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
