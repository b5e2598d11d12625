package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"ragengine/internal/domain"
	"ragengine/internal/vectorstore"
)

// Storage is an in-memory vector index using brute-force cosine distance.
// It is the dev/test backend; production deployments use Milvus.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	chunks    []domain.Chunk
}

var _ vectorstore.Storage = (*Storage)(nil)

func NewStorage() *Storage { return &Storage{} }

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	return nil
}

func (s *Storage) InsertChunk(_ context.Context, chunk domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(chunk.Embedding) != s.dimension {
		return errors.New("vector dimension mismatch")
	}
	stored := chunk
	stored.Embedding = append([]float32(nil), chunk.Embedding...)
	s.chunks = append(s.chunks, stored)
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, topK int, documentIDs []string) ([]domain.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	var allowed map[string]struct{}
	if len(documentIDs) > 0 {
		allowed = make(map[string]struct{}, len(documentIDs))
		for _, id := range documentIDs {
			allowed[id] = struct{}{}
		}
	}
	neighbors := make([]domain.Neighbor, 0, len(s.chunks))
	for _, ch := range s.chunks {
		if allowed != nil {
			if _, ok := allowed[ch.DocumentID]; !ok {
				continue
			}
		}
		neighbors = append(neighbors, domain.Neighbor{
			ChunkID:     ch.ID,
			DocumentID:  ch.DocumentID,
			ChunkNumber: ch.Number,
			Text:        ch.Text,
			Distance:    cosineDistance(vector, ch.Embedding),
		})
	}
	// Stable keeps insertion order for equal distances, which fixes
	// tie-breaking for downstream ranking.
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})
	if topK < len(neighbors) {
		neighbors = neighbors[:topK]
	}
	return neighbors, nil
}

func (s *Storage) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[:0]
	for _, ch := range s.chunks {
		if ch.DocumentID != documentID {
			kept = append(kept, ch)
		}
	}
	s.chunks = kept
	return nil
}

// cosineDistance is 1 - cos(a, b), in [0,2]. Zero vectors are treated as
// maximally distant.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
