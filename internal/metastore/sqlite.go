// Package metastore persists document lifecycle rows, chunk metadata and
// the query audit trail in SQLite.
package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"
	_ "modernc.org/sqlite"

	"ragengine/internal/domain"
)

// ErrNotFound is returned when a document ID has no row.
var ErrNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id                  TEXT PRIMARY KEY,
	filename            TEXT NOT NULL,
	format              TEXT NOT NULL,
	file_size_bytes     INTEGER NOT NULL,
	text_size_bytes     INTEGER NOT NULL,
	chunk_count         INTEGER NOT NULL DEFAULT 0,
	total_tokens        INTEGER NOT NULL DEFAULT 0,
	embedding_dimension INTEGER NOT NULL DEFAULT 0,
	ocr_processed       INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	error_message       TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id              TEXT PRIMARY KEY,
	document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_number    INTEGER NOT NULL,
	token_count     INTEGER NOT NULL,
	char_count      INTEGER NOT NULL,
	embedding_model TEXT NOT NULL,
	UNIQUE (document_id, chunk_number)
);

CREATE TABLE IF NOT EXISTS queries (
	id                   TEXT PRIMARY KEY,
	query_text           TEXT NOT NULL,
	embedding_model      TEXT NOT NULL,
	selected_documents   TEXT NOT NULL DEFAULT '',
	top_k                INTEGER NOT NULL,
	similarity_threshold REAL NOT NULL,
	response_text        TEXT NOT NULL DEFAULT '',
	prompt_tokens        INTEGER NOT NULL DEFAULT 0,
	completion_tokens    INTEGER NOT NULL DEFAULT 0,
	embedding_time_ms    REAL NOT NULL DEFAULT 0,
	search_time_ms       REAL NOT NULL DEFAULT 0,
	generation_time_ms   REAL NOT NULL DEFAULT 0,
	total_time_ms        REAL NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	error_message        TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS query_results (
	query_id         TEXT NOT NULL REFERENCES queries(id) ON DELETE CASCADE,
	rank             INTEGER NOT NULL,
	chunk_id         TEXT NOT NULL,
	document_id      TEXT NOT NULL,
	chunk_number     INTEGER NOT NULL,
	similarity_score REAL NOT NULL,
	PRIMARY KEY (query_id, rank)
);
`

// Config tunes the SQLite connection.
type Config struct {
	Path     string
	PoolSize int
	Logger   *log.Logger
}

// Store implements domain.MetadataStore on a single SQLite database.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if needed) the database, applies pragmas and
// bootstraps the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = &log.DefaultLogger
	}
	// Pragmas go in the DSN so every pooled connection gets them; an
	// Exec-ed PRAGMA only applies to whichever connection ran it, and
	// foreign_keys off anywhere would break the delete cascades.
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", cfg.Path, err)
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	logger.Debug().Str("path", cfg.Path).Msg("metadata store ready")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) InsertDocument(ctx context.Context, doc *domain.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, format, file_size_bytes, text_size_bytes,
			chunk_count, total_tokens, embedding_dimension, ocr_processed, status,
			error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.Format, doc.FileSizeBytes, doc.TextSizeBytes,
		doc.ChunkCount, doc.TotalTokens, doc.EmbeddingDimension, doc.OCRProcessed,
		string(doc.Status), doc.ErrorMessage, doc.CreatedAt)
	if err != nil {
		return &domain.DataError{Op: "insert document", Err: err}
	}
	return nil
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ? WHERE id = ?`,
		string(status), errorMessage, id)
	if err != nil {
		return &domain.DataError{Op: "update document status", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.DataError{Op: "update document status", Err: ErrNotFound}
	}
	return nil
}

func (s *Store) SetDocumentCounts(ctx context.Context, id string, chunkCount, totalTokens int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET chunk_count = ?, total_tokens = ? WHERE id = ?`,
		chunkCount, totalTokens, id)
	if err != nil {
		return &domain.DataError{Op: "set document counts", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.DataError{Op: "set document counts", Err: ErrNotFound}
	}
	return nil
}

func (s *Store) InsertChunk(ctx context.Context, chunk domain.Chunk) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_number, token_count, char_count, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.DocumentID, chunk.Number, chunk.TokenCount, chunk.CharCount, chunk.EmbeddingModel)
	if err != nil {
		return &domain.DataError{Op: "insert chunk", Err: err}
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, format, file_size_bytes, text_size_bytes, chunk_count,
			total_tokens, embedding_dimension, ocr_processed, status, error_message, created_at
		FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.DataError{Op: "get document", Err: ErrNotFound}
	}
	if err != nil {
		return nil, &domain.DataError{Op: "get document", Err: err}
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, format, file_size_bytes, text_size_bytes, chunk_count,
			total_tokens, embedding_dimension, ocr_processed, status, error_message, created_at
		FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, &domain.DataError{Op: "list documents", Err: err}
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, &domain.DataError{Op: "list documents", Err: err}
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.DataError{Op: "list documents", Err: err}
	}
	return docs, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return &domain.DataError{Op: "delete document", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.DataError{Op: "delete document", Err: ErrNotFound}
	}
	return nil
}

// InsertQueryAudit writes the query row and its per-result rows in one
// transaction.
func (s *Store) InsertQueryAudit(ctx context.Context, record *domain.QueryRecord, results []domain.RetrievalResult) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.DataError{Op: "insert query audit", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queries (id, query_text, embedding_model, selected_documents, top_k,
			similarity_threshold, response_text, prompt_tokens, completion_tokens,
			embedding_time_ms, search_time_ms, generation_time_ms, total_time_ms,
			status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Text, record.EmbeddingModel,
		strings.Join(record.SelectedDocuments, ","), record.TopK,
		record.SimilarityThreshold, record.ResponseText, record.PromptTokens,
		record.CompletionTokens, record.EmbeddingTimeMs, record.SearchTimeMs,
		record.GenerationTimeMs, record.TotalTimeMs, record.Status,
		record.ErrorMessage, record.CreatedAt)
	if err != nil {
		return &domain.DataError{Op: "insert query audit", Err: err}
	}
	for _, r := range results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO query_results (query_id, rank, chunk_id, document_id, chunk_number, similarity_score)
			VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID, r.Rank, r.ChunkID, r.DocumentID, r.ChunkNumber, r.Score)
		if err != nil {
			return &domain.DataError{Op: "insert query audit", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &domain.DataError{Op: "insert query audit", Err: err}
	}
	return nil
}

// QueryAuditCount reports how many ask operations have been recorded.
func (s *Store) QueryAuditCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries`).Scan(&n); err != nil {
		return 0, &domain.DataError{Op: "count queries", Err: err}
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status string
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Format, &doc.FileSizeBytes,
		&doc.TextSizeBytes, &doc.ChunkCount, &doc.TotalTokens,
		&doc.EmbeddingDimension, &doc.OCRProcessed, &status, &doc.ErrorMessage,
		&doc.CreatedAt)
	if err != nil {
		return nil, err
	}
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}
