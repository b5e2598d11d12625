package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragengine/internal/domain"
	"ragengine/internal/retry"
)

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Microsecond,
		MaxDelay:    time.Millisecond,
		JitterBound: time.Microsecond,
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:        srv.URL,
		EmbeddingModel: "nomic-embed-text",
		ChatModel:      "gemma3:270m",
		Retry:          fastRetry(),
	})
}

func TestEmbed_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Prompt)
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, c.Dimension())
}

func TestEmbed_ConcurrentCallersAgreeOnDimension(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := c.Embed(context.Background(), "hello")
			assert.NoError(t, err)
			assert.Len(t, vec, 3)
			assert.Equal(t, 3, c.Dimension())
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, c.Dimension())
}

func TestEmbed_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1}})
	}))

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbed_ExhaustsRetriesWithServiceError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))

	_, err := c.Embed(context.Background(), "hello")
	var serr *domain.ServiceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "embed", serr.Op)
	assert.Equal(t, 3, serr.Attempts)
	assert.Equal(t, int32(3), calls.Load(), "never a fourth attempt")
}

func TestEmbed_MalformedRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))

	_, err := c.Embed(context.Background(), "hello")
	var serr *domain.ServiceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 1, serr.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBatchEmbed_OrderAndProgress(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Derive a distinguishable vector from the input.
		v := float64(len(req.Prompt))
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{v}})
	}))

	texts := []string{"a", "bb", "ccc"}
	progress := make(chan domain.Progress, len(texts))
	vectors, err := c.BatchEmbed(context.Background(), texts, progress)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{1}, vectors[0])
	assert.Equal(t, []float32{2}, vectors[1])
	assert.Equal(t, []float32{3}, vectors[2])

	close(progress)
	var events []domain.Progress
	for p := range progress {
		events = append(events, p)
	}
	require.Len(t, events, 3)
	assert.Equal(t, domain.Progress{Completed: 1, Total: 3}, events[0])
	assert.Equal(t, domain.Progress{Completed: 3, Total: 3}, events[2])
}

func TestGenerate_NonStreaming(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		json.NewEncoder(w).Encode(chatResponse{
			Message: domain.Message{Role: "assistant", Content: "the answer"},
			Done:    true,
		})
	}))

	msgs := []domain.Message{
		{Role: "system", Content: "use the context"},
		{Role: "user", Content: "question"},
	}
	text, err := c.Generate(context.Background(), msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, "the answer", text)
}

func TestGenerate_StreamingCollectsFragments(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		enc := json.NewEncoder(w)
		for _, frag := range []string{"the ", "answer"} {
			enc.Encode(chatResponse{Message: domain.Message{Role: "assistant", Content: frag}})
		}
		enc.Encode(chatResponse{Done: true})
	}))

	var fragments []string
	text, err := c.Generate(context.Background(), []domain.Message{{Role: "user", Content: "q"}}, func(f string) {
		fragments = append(fragments, f)
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", text)
	assert.Equal(t, []string{"the ", "answer"}, fragments)
}

func TestGenerate_InterruptedStreamNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
		fmt.Fprintln(w, `not json`)
	}))

	_, err := c.Generate(context.Background(), []domain.Message{{Role: "user", Content: "q"}}, func(string) {})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "no replay after partial delivery")
}
