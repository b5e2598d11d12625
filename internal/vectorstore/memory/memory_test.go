package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragengine/internal/domain"
)

func seed(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage()
	require.NoError(t, s.Init(context.Background(), 2))
	chunks := []domain.Chunk{
		{ID: "c1", DocumentID: "d1", Number: 1, Text: "east", Embedding: []float32{1, 0}},
		{ID: "c2", DocumentID: "d1", Number: 2, Text: "north", Embedding: []float32{0, 1}},
		{ID: "c3", DocumentID: "d2", Number: 1, Text: "west", Embedding: []float32{-1, 0}},
	}
	for _, ch := range chunks {
		require.NoError(t, s.InsertChunk(context.Background(), ch))
	}
	return s
}

func TestSearch_OrderedByDistance(t *testing.T) {
	s := seed(t)
	got, err := s.Search(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[0].ChunkID)
	assert.InDelta(t, 0.0, got[0].Distance, 1e-9)
	assert.Equal(t, "c2", got[1].ChunkID)
	assert.InDelta(t, 1.0, got[1].Distance, 1e-9)
	assert.Equal(t, "c3", got[2].ChunkID)
	assert.InDelta(t, 2.0, got[2].Distance, 1e-9)
}

func TestSearch_TopKLimit(t *testing.T) {
	s := seed(t)
	got, err := s.Search(context.Background(), []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ChunkID)
}

func TestSearch_DocumentFilter(t *testing.T) {
	s := seed(t)
	got, err := s.Search(context.Background(), []float32{1, 0}, 10, []string{"d2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c3", got[0].ChunkID)
}

func TestInsertChunk_DimensionMismatch(t *testing.T) {
	s := NewStorage()
	require.NoError(t, s.Init(context.Background(), 3))
	err := s.InsertChunk(context.Background(), domain.Chunk{ID: "c", Embedding: []float32{1, 2}})
	assert.Error(t, err)
}

func TestDeleteDocument(t *testing.T) {
	s := seed(t)
	require.NoError(t, s.DeleteDocument(context.Background(), "d1"))
	got, err := s.Search(context.Background(), []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d2", got[0].DocumentID)
}
