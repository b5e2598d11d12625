// Package app assembles the configured components into a running engine.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"ragengine/internal/chunker"
	"ragengine/internal/config"
	"ragengine/internal/metastore"
	"ragengine/internal/metrics"
	"ragengine/internal/ollama"
	"ragengine/internal/retry"
	"ragengine/internal/search"
	"ragengine/internal/service"
	"ragengine/internal/vectorstore"
	"ragengine/internal/vectorstore/memory"
	"ragengine/internal/vectorstore/milvus"
)

// Engine bundles the orchestrator with the resources it owns.
type Engine struct {
	Service  *service.Service
	Recorder *metrics.Recorder

	meta  *metastore.Store
	close func(context.Context) error
}

// Close releases storage connections.
func (e *Engine) Close(ctx context.Context) error {
	var first error
	if err := e.meta.Close(); err != nil {
		first = err
	}
	if e.close != nil {
		if err := e.close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build wires every component from the configuration and initializes the
// vector index for the configured dimension.
func Build(ctx context.Context, cfg *config.AppConfig, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = &log.DefaultLogger
	}

	tok, err := chunker.NewTokenChunker(cfg.Chunking.ChunkSizeTokens, cfg.Chunking.OverlapPercentage)
	if err != nil {
		return nil, err
	}

	client := ollama.NewClient(ollama.Config{
		BaseURL:        cfg.Ollama.Endpoint,
		EmbeddingModel: cfg.Ollama.EmbeddingModel,
		ChatModel:      cfg.Ollama.ChatModel,
		Timeout:        time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
			JitterBound: time.Duration(cfg.Retry.JitterBoundMs) * time.Millisecond,
		},
		Logger: logger,
	})

	var (
		index      vectorstore.Storage
		closeIndex func(context.Context) error
	)
	switch cfg.VectorStore.Type {
	case "memory", "":
		index = memory.NewStorage()
	case "milvus":
		st, err := milvus.NewStorage(ctx, milvus.Config{
			Address:    cfg.VectorStore.Milvus.Address,
			Collection: cfg.VectorStore.Milvus.Collection,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		index = st
		closeIndex = st.Close
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
	if err := index.Init(ctx, cfg.Retrieval.Dimension); err != nil {
		return nil, err
	}

	meta, err := metastore.Open(ctx, metastore.Config{
		Path:     cfg.Metadata.Path,
		PoolSize: cfg.Metadata.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	recorder := metrics.NewRecorder()
	svc := service.New(
		tok,
		client,
		client,
		index,
		search.NewGateway(index, logger),
		meta,
		recorder,
		service.Options{
			MaxFileSizeBytes: cfg.Ingest.MaxFileSizeBytes,
			AllowedFormats:   cfg.Ingest.AllowedFormats,
			DefaultTopK:      cfg.Retrieval.TopK,
			MinSimilarity:    cfg.Retrieval.MinSimilarity,
			Dimension:        cfg.Retrieval.Dimension,
		},
		logger,
	)

	return &Engine{Service: svc, Recorder: recorder, meta: meta, close: closeIndex}, nil
}
