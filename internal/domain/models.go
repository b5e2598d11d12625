package domain

import "time"

// DocumentStatus tracks a document through the ingest state machine.
// READY is only reachable when every chunk was embedded and persisted;
// ERROR is terminal and reachable from any earlier state.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusChunking   DocumentStatus = "CHUNKING"
	StatusEmbedding  DocumentStatus = "EMBEDDING"
	StatusPersisting DocumentStatus = "PERSISTING"
	StatusReady      DocumentStatus = "READY"
	StatusError      DocumentStatus = "ERROR"
)

// Document is one ingested source text. Immutable after creation except
// for Status, ErrorMessage and the counts finalized during ingest.
type Document struct {
	ID                 string
	Filename           string
	Format             string
	FileSizeBytes      int64
	TextSizeBytes      int64
	ChunkCount         int
	TotalTokens        int
	EmbeddingDimension int
	OCRProcessed       bool
	Status             DocumentStatus
	ErrorMessage       string
	CreatedAt          time.Time
}

// Chunk is a token-windowed slice of a document's text carrying one
// embedding vector. Chunk numbers are contiguous and 1-based per document.
type Chunk struct {
	ID             string
	DocumentID     string
	Number         int
	Text           string
	TokenCount     int
	CharCount      int
	Embedding      []float32
	EmbeddingModel string
}

// ChunkPiece is the chunker's output before identity and embedding are
// attached. Token counts are approximate when the whitespace tokenizer
// is in use.
type ChunkPiece struct {
	Text       string
	TokenCount int
	CharCount  int
}

// RetrievalResult is one ranked similarity-search hit. Score is in [0,1]
// and ranks are dense and 1-based in store insertion order for ties.
type RetrievalResult struct {
	ChunkID     string
	DocumentID  string
	ChunkNumber int
	Text        string
	Score       float64
	Rank        int
}

// Neighbor is a raw nearest-neighbor row as returned by a vector index:
// the stored chunk (without its vector) plus the cosine distance to the
// query vector. Rows are ordered by distance ascending.
type Neighbor struct {
	ChunkID     string
	DocumentID  string
	ChunkNumber int
	Text        string
	Distance    float64
}

// SearchStats summarizes one similarity search for the caller.
type SearchStats struct {
	NumResults    int
	AvgSimilarity float64
}

// Message is a single chat turn sent to the generation endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Progress reports completion of one item in a batch operation.
type Progress struct {
	Completed int
	Total     int
}

// DocumentMetadata is the ingest pipeline's return value.
type DocumentMetadata struct {
	DocumentID         string
	Filename           string
	FileFormat         string
	FileSizeBytes      int64
	ChunkCount         int
	TotalTokens        int
	EmbeddingDimension int
	OCRProcessed       bool
	UploadTimeMs       float64
}

// QueryMetrics carries per-stage timings and token estimates for one ask.
// Token counts are word-count approximations.
type QueryMetrics struct {
	EmbeddingTimeMs  float64
	SearchTimeMs     float64
	GenerationTimeMs float64
	TotalTimeMs      float64
	PromptTokens     int
	CompletionTokens int
	NumResults       int
	AvgSimilarity    float64
}

// QueryResult is the ask pipeline's return value.
type QueryResult struct {
	QueryID  string
	Response string
	Results  []RetrievalResult
	Metrics  QueryMetrics
}

// QueryRecord is the append-only audit row persisted for each ask.
type QueryRecord struct {
	ID                  string
	Text                string
	EmbeddingModel      string
	SelectedDocuments   []string
	TopK                int
	SimilarityThreshold float64
	ResponseText        string
	PromptTokens        int
	CompletionTokens    int
	EmbeddingTimeMs     float64
	SearchTimeMs        float64
	GenerationTimeMs    float64
	TotalTimeMs         float64
	Status              string
	ErrorMessage        string
	CreatedAt           time.Time
}

// IngestRequest carries already-extracted plain text into the ingest
// pipeline. Extraction and OCR happen upstream; the flag is recorded as-is.
type IngestRequest struct {
	Filename      string
	Format        string
	FileSizeBytes int64
	Text          string
	OCRProcessed  bool

	// Progress, when non-nil, receives an event after each chunk is
	// embedded. Sends never block; slow consumers miss events.
	Progress chan<- Progress
}

// AskRequest is one question against the ingested collection.
type AskRequest struct {
	Query         string
	DocumentIDs   []string
	TopK          int      // 0 means the configured default
	MinSimilarity *float64 // nil means the configured default

	// Sink, when non-nil, receives response fragments as they stream in.
	// The aggregated response is always returned from Ask regardless.
	Sink func(fragment string)
}
