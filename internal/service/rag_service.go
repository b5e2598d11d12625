// Package service hosts the orchestrator that drives the ingest and ask
// pipelines end to end.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"ragengine/internal/domain"
	"ragengine/internal/metrics"
)

const systemPrompt = "You are a helpful assistant. Use the following context to answer the user's question accurately. If the context doesn't contain relevant information, say so."

const maxQueryLength = 10000

// Options bounds and defaults for the pipelines.
type Options struct {
	MaxFileSizeBytes int64
	AllowedFormats   []string
	DefaultTopK      int
	MinSimilarity    float64
	Dimension        int
}

// Service orchestrates chunking, embedding, persistence, retrieval and
// generation.
type Service struct {
	chunker   domain.Chunker
	embedder  domain.EmbeddingClient
	generator domain.GenerationClient
	index     domain.VectorIndex
	searcher  domain.Searcher
	meta      domain.MetadataStore
	recorder  *metrics.Recorder
	opts      Options
	logger    *log.Logger
}

func New(
	chunker domain.Chunker,
	embedder domain.EmbeddingClient,
	generator domain.GenerationClient,
	index domain.VectorIndex,
	searcher domain.Searcher,
	meta domain.MetadataStore,
	recorder *metrics.Recorder,
	opts Options,
	logger *log.Logger,
) *Service {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	return &Service{
		chunker:   chunker,
		embedder:  embedder,
		generator: generator,
		index:     index,
		searcher:  searcher,
		meta:      meta,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
	}
}

// Ingest runs the upload pipeline: validate, register the document, chunk,
// embed and persist each chunk, then finalize counts and status. Any
// failure after registration marks the document ERROR with the cause and
// removes already-persisted vectors best-effort.
func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.DocumentMetadata, error) {
	started := time.Now()
	if err := s.validateIngest(req); err != nil {
		return nil, err
	}

	doc := &domain.Document{
		ID:            uuid.NewString(),
		Filename:      req.Filename,
		Format:        strings.ToLower(req.Format),
		FileSizeBytes: req.FileSizeBytes,
		TextSizeBytes: int64(len(req.Text)),
		OCRProcessed:  req.OCRProcessed,
		Status:        domain.StatusPending,
	}
	if err := s.meta.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info().Str("document_id", doc.ID).Str("filename", doc.Filename).Msg("ingest started")

	meta, stages, err := s.runIngest(ctx, doc, req)
	if err != nil {
		s.failDocument(ctx, doc.ID, err)
		stages.DocumentID = doc.ID
		stages.FileSizeBytes = req.FileSizeBytes
		stages.UploadTimeMs = msSince(started)
		s.recorder.RecordUpload(stages)
		return nil, err
	}

	meta.UploadTimeMs = msSince(started)
	stages.DocumentID = doc.ID
	stages.Success = true
	stages.FileSizeBytes = req.FileSizeBytes
	stages.ChunkCount = meta.ChunkCount
	stages.TotalTokens = meta.TotalTokens
	stages.UploadTimeMs = meta.UploadTimeMs
	s.recorder.RecordUpload(stages)
	s.logger.Info().
		Str("document_id", doc.ID).
		Int("chunks", meta.ChunkCount).
		Float64("upload_ms", meta.UploadTimeMs).
		Msg("ingest complete")
	return meta, nil
}

func (s *Service) runIngest(ctx context.Context, doc *domain.Document, req domain.IngestRequest) (*domain.DocumentMetadata, metrics.UploadSample, error) {
	var stages metrics.UploadSample

	if err := s.meta.UpdateDocumentStatus(ctx, doc.ID, domain.StatusChunking, ""); err != nil {
		return nil, stages, err
	}
	chunkStart := time.Now()
	pieces, err := s.chunker.Chunk(req.Text)
	if err != nil {
		return nil, stages, err
	}
	stages.ChunkingTimeMs = msSince(chunkStart)
	totalTokens := 0
	for _, p := range pieces {
		totalTokens += p.TokenCount
	}
	if err := s.meta.SetDocumentCounts(ctx, doc.ID, len(pieces), totalTokens); err != nil {
		return nil, stages, err
	}

	if err := s.meta.UpdateDocumentStatus(ctx, doc.ID, domain.StatusEmbedding, ""); err != nil {
		return nil, stages, err
	}
	dimension := s.opts.Dimension
	for i, piece := range pieces {
		embedStart := time.Now()
		vec, err := s.embedder.Embed(ctx, piece.Text)
		if err != nil {
			return nil, stages, fmt.Errorf("embed chunk %d/%d: %w", i+1, len(pieces), err)
		}
		stages.EmbeddingTimeMs += msSince(embedStart)
		dimension = len(vec)
		chunk := domain.Chunk{
			ID:             uuid.NewString(),
			DocumentID:     doc.ID,
			Number:         i + 1,
			Text:           piece.Text,
			TokenCount:     piece.TokenCount,
			CharCount:      piece.CharCount,
			Embedding:      vec,
			EmbeddingModel: s.embedder.Model(),
		}
		persistStart := time.Now()
		if err := s.meta.InsertChunk(ctx, chunk); err != nil {
			return nil, stages, err
		}
		if err := s.index.InsertChunk(ctx, chunk); err != nil {
			return nil, stages, err
		}
		stages.PersistTimeMs += msSince(persistStart)
		if req.Progress != nil {
			select {
			case req.Progress <- domain.Progress{Completed: i + 1, Total: len(pieces)}:
			default:
			}
		}
	}

	if err := s.meta.UpdateDocumentStatus(ctx, doc.ID, domain.StatusPersisting, ""); err != nil {
		return nil, stages, err
	}
	if err := s.meta.UpdateDocumentStatus(ctx, doc.ID, domain.StatusReady, ""); err != nil {
		return nil, stages, err
	}

	return &domain.DocumentMetadata{
		DocumentID:         doc.ID,
		Filename:           doc.Filename,
		FileFormat:         doc.Format,
		FileSizeBytes:      doc.FileSizeBytes,
		ChunkCount:         len(pieces),
		TotalTokens:        totalTokens,
		EmbeddingDimension: dimension,
		OCRProcessed:       doc.OCRProcessed,
	}, stages, nil
}

// failDocument marks the document ERROR and drops its vectors. Both are
// best-effort; the original pipeline error is what the caller sees.
func (s *Service) failDocument(ctx context.Context, documentID string, cause error) {
	s.logger.Error().Err(cause).Str("document_id", documentID).Msg("ingest failed")
	if err := s.meta.UpdateDocumentStatus(ctx, documentID, domain.StatusError, cause.Error()); err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("could not record error status")
	}
	if err := s.index.DeleteDocument(ctx, documentID); err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("could not clean up vectors")
	}
}

func (s *Service) validateIngest(req domain.IngestRequest) error {
	if req.Filename == "" {
		return &domain.InputError{Op: "ingest", Field: "filename", Reason: "must not be empty"}
	}
	format := strings.ToLower(strings.TrimPrefix(req.Format, "."))
	allowed := false
	for _, f := range s.opts.AllowedFormats {
		if format == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return &domain.InputError{
			Op:     "ingest",
			Field:  "format",
			Reason: fmt.Sprintf("%q is not one of %s", req.Format, strings.Join(s.opts.AllowedFormats, ", ")),
		}
	}
	if s.opts.MaxFileSizeBytes > 0 && req.FileSizeBytes > s.opts.MaxFileSizeBytes {
		return &domain.InputError{
			Op:     "ingest",
			Field:  "file_size",
			Reason: fmt.Sprintf("%d bytes exceeds limit of %d", req.FileSizeBytes, s.opts.MaxFileSizeBytes),
		}
	}
	return nil
}

// Ask runs the query pipeline: embed the question, retrieve similar
// chunks, assemble the context prompt, generate an answer and record the
// audit row and metrics.
func (s *Service) Ask(ctx context.Context, req domain.AskRequest) (*domain.QueryResult, error) {
	started := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, &domain.InputError{Op: "ask", Field: "query", Reason: "must not be empty"}
	}
	if len(query) > maxQueryLength {
		return nil, &domain.InputError{Op: "ask", Field: "query", Reason: fmt.Sprintf("longer than %d characters", maxQueryLength)}
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.opts.DefaultTopK
	}
	minSimilarity := s.opts.MinSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}

	queryID := uuid.NewString()
	record := &domain.QueryRecord{
		ID:                  queryID,
		Text:                query,
		EmbeddingModel:      s.embedder.Model(),
		SelectedDocuments:   req.DocumentIDs,
		TopK:                topK,
		SimilarityThreshold: minSimilarity,
	}

	embedStart := time.Now()
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.finishAsk(ctx, record, nil, nil, started, false, err)
		return nil, err
	}
	embeddingMs := msSince(embedStart)

	searchStart := time.Now()
	results, stats, err := s.searcher.Search(ctx, vector, topK, minSimilarity, req.DocumentIDs)
	if err != nil {
		s.finishAsk(ctx, record, nil, nil, started, false, err)
		return nil, err
	}
	searchMs := msSince(searchStart)

	messages := buildPrompt(query, results)
	generateStart := time.Now()
	response, err := s.generator.Generate(ctx, messages, req.Sink)
	if err != nil {
		s.finishAsk(ctx, record, results, nil, started, false, err)
		return nil, err
	}
	generationMs := msSince(generateStart)

	result := &domain.QueryResult{
		QueryID:  queryID,
		Response: response,
		Results:  results,
		Metrics: domain.QueryMetrics{
			EmbeddingTimeMs:  embeddingMs,
			SearchTimeMs:     searchMs,
			GenerationTimeMs: generationMs,
			TotalTimeMs:      msSince(started),
			PromptTokens:     countWords(messages),
			CompletionTokens: len(strings.Fields(response)),
			NumResults:       stats.NumResults,
			AvgSimilarity:    stats.AvgSimilarity,
		},
	}
	record.ResponseText = response
	record.PromptTokens = result.Metrics.PromptTokens
	record.CompletionTokens = result.Metrics.CompletionTokens
	record.EmbeddingTimeMs = embeddingMs
	record.SearchTimeMs = searchMs
	record.GenerationTimeMs = generationMs
	s.finishAsk(ctx, record, results, result, started, true, nil)
	return result, nil
}

// finishAsk persists the audit row and records the metrics sample. Audit
// failures are logged, never surfaced; the answer already exists.
func (s *Service) finishAsk(ctx context.Context, record *domain.QueryRecord, results []domain.RetrievalResult, result *domain.QueryResult, started time.Time, success bool, cause error) {
	record.TotalTimeMs = msSince(started)
	if success {
		record.Status = "SUCCESS"
	} else {
		record.Status = "ERROR"
		if cause != nil {
			record.ErrorMessage = cause.Error()
		}
	}
	if err := s.meta.InsertQueryAudit(ctx, record, results); err != nil {
		s.logger.Warn().Err(err).Str("query_id", record.ID).Msg("could not persist query audit")
	}
	sample := metrics.QuerySampleFrom(result, success)
	sample.QueryID = record.ID
	if result == nil {
		sample.TotalTimeMs = record.TotalTimeMs
	}
	s.recorder.RecordQuery(sample)
}

// ListDocuments returns every document row, newest first.
func (s *Service) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return s.meta.ListDocuments(ctx)
}

// GetDocument returns one document row.
func (s *Service) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return s.meta.GetDocument(ctx, id)
}

// DeleteDocument removes the document's vectors and metadata. The vector
// side goes first so a partial failure never leaves searchable chunks
// without a document row.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.meta.GetDocument(ctx, id); err != nil {
		return err
	}
	if err := s.index.DeleteDocument(ctx, id); err != nil {
		return err
	}
	return s.meta.DeleteDocument(ctx, id)
}

// Stats exposes the in-process metrics recorder.
func (s *Service) Stats() *metrics.Recorder { return s.recorder }

func buildPrompt(query string, results []domain.RetrievalResult) []domain.Message {
	pieces := make([]string, len(results))
	for i, r := range results {
		pieces[i] = fmt.Sprintf("From %s: %s", r.DocumentID, r.Text)
	}
	context := strings.Join(pieces, "\n\n")
	return []domain.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", context, query)},
	}
}

func countWords(messages []domain.Message) int {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
