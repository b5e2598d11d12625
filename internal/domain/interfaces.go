package domain

import "context"

// Chunker splits extracted document text into overlapping token windows.
type Chunker interface {
	Chunk(text string) ([]ChunkPiece, error)
}

// EmbeddingClient converts text into fixed-dimension vectors via the
// external model service.
type EmbeddingClient interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// BatchEmbed embeds texts sequentially, preserving order so that
	// vectors[i] corresponds to texts[i]. When progress is non-nil an
	// event is sent after each item; sends never block.
	BatchEmbed(ctx context.Context, texts []string, progress chan<- Progress) ([][]float32, error)
	// Model returns the embedding model identifier.
	Model() string
}

// GenerationClient produces an answer from a chat-style prompt. When sink
// is non-nil the endpoint is asked to stream and every fragment is passed
// to sink as it arrives; the full aggregated text is returned either way.
type GenerationClient interface {
	Generate(ctx context.Context, messages []Message, sink func(fragment string)) (string, error)
}

// VectorIndex is the external vector-capable store. Implementations own
// the similarity index; callers only see cosine distances.
type VectorIndex interface {
	// Init ensures the index exists for the given vector dimension.
	Init(ctx context.Context, dimension int) error
	// InsertChunk persists one chunk together with its vector.
	InsertChunk(ctx context.Context, chunk Chunk) error
	// Search returns up to topK nearest rows ordered by cosine distance
	// ascending, optionally restricted to the given document IDs.
	Search(ctx context.Context, vector []float32, topK int, documentIDs []string) ([]Neighbor, error)
	// DeleteDocument removes all chunks belonging to a document.
	DeleteDocument(ctx context.Context, documentID string) error
}

// Searcher is the similarity gateway consumed by the orchestrator. It
// layers distance-to-similarity conversion, threshold filtering, ranking
// and aggregate statistics on top of a VectorIndex.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, minSimilarity float64, documentIDs []string) ([]RetrievalResult, SearchStats, error)
}

// MetadataStore persists document lifecycle rows, chunk metadata and the
// query audit trail.
type MetadataStore interface {
	InsertDocument(ctx context.Context, doc *Document) error
	UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, errorMessage string) error
	SetDocumentCounts(ctx context.Context, id string, chunkCount, totalTokens int) error
	InsertChunk(ctx context.Context, chunk Chunk) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error
	InsertQueryAudit(ctx context.Context, record *QueryRecord, results []RetrievalResult) error
	Close() error
}
