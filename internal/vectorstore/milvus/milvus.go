// Package milvus implements the vector index on a Milvus collection with
// an HNSW/COSINE index.
package milvus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/phuslu/log"

	"ragengine/internal/domain"
	"ragengine/internal/vectorstore"
)

var _ vectorstore.Storage = (*Storage)(nil)

// Collection field names.
const (
	FieldID             = "chunk_id"
	FieldDocumentID     = "document_id"
	FieldChunkNumber    = "chunk_number"
	FieldText           = "chunk_text"
	FieldTokenCount     = "token_count"
	FieldEmbeddingModel = "embedding_model"
	FieldVector         = "embedding"
)

const (
	DefaultCollection = "chunks"
	maxIDLength       = "64"
	maxTextLength     = "65535"

	// HNSW build parameters.
	hnswM              = 16
	hnswEfConstruction = 200
)

// Config contains connection details for the Milvus backend.
type Config struct {
	Address    string
	Collection string
	Logger     *log.Logger
}

// Storage stores chunks with their vectors in one Milvus collection.
type Storage struct {
	client     *milvusclient.Client
	collection string
	dimension  int
	logger     *log.Logger
}

// NewStorage connects to Milvus. Init must be called before inserts or
// searches.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &log.DefaultLogger
	}
	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("connect to milvus at %s: %w", cfg.Address, err)
	}
	return &Storage{client: c, collection: cfg.Collection, logger: logger}, nil
}

// Close releases the connection.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// Init ensures the chunk collection exists with the given vector
// dimension, builds the HNSW index and loads the collection for search.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension

	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	if !exists {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "Document chunks with embedding vectors",
			Fields: []*entity.Field{
				{
					Name:       FieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:       FieldDocumentID,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:     FieldChunkNumber,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       FieldText,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxTextLength},
				},
				{
					Name:     FieldTokenCount,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       FieldEmbeddingModel,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:       FieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", dimension)},
				},
			},
		}
		if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, schema)); err != nil {
			return fmt.Errorf("create collection %s: %w", s.collection, err)
		}
		idx := index.NewHNSWIndex(entity.COSINE, hnswM, hnswEfConstruction)
		if _, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, FieldVector, idx)); err != nil {
			return fmt.Errorf("create vector index: %w", err)
		}
		s.logger.Info().Str("collection", s.collection).Int("dimension", dimension).Msg("created chunk collection")
	}

	if _, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection)); err != nil {
		return fmt.Errorf("load collection %s: %w", s.collection, err)
	}
	return nil
}

// InsertChunk persists one chunk row with its vector.
func (s *Storage) InsertChunk(ctx context.Context, chunk domain.Chunk) error {
	if len(chunk.Embedding) != s.dimension {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(chunk.Embedding), s.dimension)
	}
	opt := milvusclient.NewColumnBasedInsertOption(s.collection,
		column.NewColumnVarChar(FieldID, []string{chunk.ID}),
		column.NewColumnVarChar(FieldDocumentID, []string{chunk.DocumentID}),
		column.NewColumnInt64(FieldChunkNumber, []int64{int64(chunk.Number)}),
		column.NewColumnVarChar(FieldText, []string{chunk.Text}),
		column.NewColumnInt64(FieldTokenCount, []int64{int64(chunk.TokenCount)}),
		column.NewColumnVarChar(FieldEmbeddingModel, []string{chunk.EmbeddingModel}),
		column.NewColumnFloatVector(FieldVector, s.dimension, [][]float32{chunk.Embedding}),
	)
	if _, err := s.client.Insert(ctx, opt); err != nil {
		return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

// Search runs an ANN query and returns rows ordered by cosine distance
// ascending. Milvus reports COSINE scores as similarities, so they are
// converted back to distances to keep the index contract uniform across
// backends.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int, documentIDs []string) ([]domain.Neighbor, error) {
	if topK <= 0 {
		topK = 5
	}
	opt := milvusclient.NewSearchOption(s.collection, topK, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldVector).
		WithOutputFields(FieldDocumentID, FieldChunkNumber, FieldText)
	if len(documentIDs) > 0 {
		opt = opt.WithFilter(documentFilter(documentIDs))
	}

	resultSets, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("search collection %s: %w", s.collection, err)
	}
	if len(resultSets) == 0 {
		return nil, nil
	}

	rs := resultSets[0]
	ids, ok := rs.IDs.(*column.ColumnVarChar)
	if !ok {
		return nil, errors.New("unexpected primary key column type")
	}
	docIDs, _ := rs.GetColumn(FieldDocumentID).(*column.ColumnVarChar)
	numbers, _ := rs.GetColumn(FieldChunkNumber).(*column.ColumnInt64)
	texts, _ := rs.GetColumn(FieldText).(*column.ColumnVarChar)

	neighbors := make([]domain.Neighbor, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		n := domain.Neighbor{
			ChunkID:  ids.Data()[i],
			Distance: 1 - float64(rs.Scores[i]),
		}
		if docIDs != nil && i < len(docIDs.Data()) {
			n.DocumentID = docIDs.Data()[i]
		}
		if numbers != nil && i < len(numbers.Data()) {
			n.ChunkNumber = int(numbers.Data()[i])
		}
		if texts != nil && i < len(texts.Data()) {
			n.Text = texts.Data()[i]
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, nil
}

// DeleteDocument removes every chunk row belonging to the document.
func (s *Storage) DeleteDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`%s == "%s"`, FieldDocumentID, escape(documentID))
	if _, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.collection).WithExpr(expr)); err != nil {
		return fmt.Errorf("delete chunks for document %s: %w", documentID, err)
	}
	return nil
}

func documentFilter(documentIDs []string) string {
	quoted := make([]string, len(documentIDs))
	for i, id := range documentIDs {
		quoted[i] = `"` + escape(id) + `"`
	}
	return fmt.Sprintf("%s in [%s]", FieldDocumentID, strings.Join(quoted, ", "))
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
