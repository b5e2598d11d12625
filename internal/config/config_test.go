package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.Endpoint)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSizeTokens)
	assert.Equal(t, 10, cfg.Chunking.OverlapPercentage)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 0.5, cfg.Retrieval.MinSimilarity)
	assert.Equal(t, 768, cfg.Retrieval.Dimension)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, int64(100<<20), cfg.Ingest.MaxFileSizeBytes)
}

func TestLoad_PartialFileGetsDefaults(t *testing.T) {
	path := writeConfig(t, `
chunking:
  chunk_size_tokens: 200
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Chunking.ChunkSizeTokens)
	assert.Equal(t, "nomic-embed-text", cfg.Ollama.EmbeddingModel)
	assert.Equal(t, 10, cfg.Metadata.PoolSize)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://models.internal:11434")
	path := writeConfig(t, `
ollama:
  endpoint: ${OLLAMA_HOST}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://models.internal:11434", cfg.Ollama.Endpoint)
}

func TestLoad_ExplicitZerosAreKept(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  min_similarity: 0
retry:
  jitter_bound_ms: 0
chunking:
  overlap_percentage: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Retrieval.MinSimilarity, "zero threshold must not fall back to the default")
	assert.Equal(t, 0, cfg.Retry.JitterBoundMs, "jitter can be disabled")
	assert.Equal(t, 0, cfg.Chunking.OverlapPercentage)
	assert.Equal(t, 5, cfg.Retrieval.TopK, "absent keys still default")
}

func TestLoad_RejectsOutOfRangeValues(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  min_similarity: 1.5
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsFullOverlap(t *testing.T) {
	path := writeConfig(t, `
chunking:
  chunk_size_tokens: 100
  overlap_percentage: 100
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMilvusWithoutAddress(t *testing.T) {
	path := writeConfig(t, `
vector_store:
  type: milvus
  milvus:
    address: ""
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.Retrieval.TopK = 9
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Retrieval.TopK)
	assert.Equal(t, cfg.Ollama, loaded.Ollama)
}
