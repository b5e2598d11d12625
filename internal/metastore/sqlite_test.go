package metastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragengine/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Path:     filepath.Join(t.TempDir(), "meta.db"),
		PoolSize: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDocument(id string) *domain.Document {
	return &domain.Document{
		ID:            id,
		Filename:      "notes.md",
		Format:        "md",
		FileSizeBytes: 2048,
		TextSizeBytes: 1900,
		Status:        domain.StatusPending,
	}
}

func TestDocumentLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, sampleDocument("d1")))

	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", domain.StatusChunking, ""))
	require.NoError(t, s.SetDocumentCounts(ctx, "d1", 7, 420))
	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", domain.StatusReady, ""))

	doc, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, doc.Status)
	assert.Equal(t, 7, doc.ChunkCount)
	assert.Equal(t, 420, doc.TotalTokens)
	assert.Equal(t, "notes.md", doc.Filename)
	assert.False(t, doc.CreatedAt.IsZero())
}

func TestUpdateDocumentStatus_RecordsError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, sampleDocument("d1")))
	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", domain.StatusError, "embedding service unavailable"))

	doc, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, doc.Status)
	assert.Equal(t, "embedding service unavailable", doc.ErrorMessage)
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetDocument(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateDocumentStatus_NotFound(t *testing.T) {
	s := newStore(t)
	err := s.UpdateDocumentStatus(context.Background(), "missing", domain.StatusReady, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDocuments(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, sampleDocument("d1")))
	require.NoError(t, s.InsertDocument(ctx, sampleDocument("d2")))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestInsertChunk_DuplicateNumberRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, sampleDocument("d1")))
	chunk := domain.Chunk{ID: "c1", DocumentID: "d1", Number: 1, TokenCount: 10, CharCount: 50, EmbeddingModel: "nomic-embed-text"}
	require.NoError(t, s.InsertChunk(ctx, chunk))

	chunk.ID = "c2"
	err := s.InsertChunk(ctx, chunk)
	assert.Error(t, err, "same (document_id, chunk_number) must be unique")
}

func TestDeleteDocument_CascadesChunks(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, sampleDocument("d1")))
	require.NoError(t, s.InsertChunk(ctx, domain.Chunk{ID: "c1", DocumentID: "d1", Number: 1, EmbeddingModel: "m"}))

	require.NoError(t, s.DeleteDocument(ctx, "d1"))
	_, err := s.GetDocument(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Chunk number 1 is free again once the cascade removed the old row.
	require.NoError(t, s.InsertDocument(ctx, sampleDocument("d1")))
	assert.NoError(t, s.InsertChunk(ctx, domain.Chunk{ID: "c9", DocumentID: "d1", Number: 1, EmbeddingModel: "m"}))
}

func TestDeleteDocument_CascadesOnEveryPooledConnection(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDocument(ctx, sampleDocument("d1")))
	require.NoError(t, s.InsertChunk(ctx, domain.Chunk{ID: "c1", DocumentID: "d1", Number: 1, EmbeddingModel: "m"}))

	// Hold one pooled connection so the delete is forced onto a fresh
	// one; the cascade must fire there too.
	held, err := s.db.Conn(ctx)
	require.NoError(t, err)
	defer held.Close()

	require.NoError(t, s.DeleteDocument(ctx, "d1"))

	var n int
	require.NoError(t, held.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, "d1").Scan(&n))
	assert.Equal(t, 0, n, "chunks must cascade away with the document")
}

func TestInsertQueryAudit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	record := &domain.QueryRecord{
		ID:                  "q1",
		Text:                "what is chunk overlap",
		EmbeddingModel:      "nomic-embed-text",
		SelectedDocuments:   []string{"d1", "d2"},
		TopK:                5,
		SimilarityThreshold: 0.5,
		ResponseText:        "overlap repeats trailing tokens",
		PromptTokens:        40,
		CompletionTokens:    12,
		TotalTimeMs:         123.4,
		Status:              "SUCCESS",
	}
	results := []domain.RetrievalResult{
		{ChunkID: "c1", DocumentID: "d1", ChunkNumber: 1, Score: 0.9, Rank: 1},
		{ChunkID: "c2", DocumentID: "d2", ChunkNumber: 3, Score: 0.7, Rank: 2},
	}
	require.NoError(t, s.InsertQueryAudit(ctx, record, results))

	n, err := s.QueryAuditCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
