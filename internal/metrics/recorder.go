// Package metrics keeps bounded in-process histories of query, upload and
// system samples and derives aggregate statistics from them.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"ragengine/internal/domain"
)

// History caps. When a buffer is full the oldest sample is evicted.
const (
	MaxQuerySamples  = 1000
	MaxUploadSamples = 1000
	MaxSystemSamples = 100
)

// QuerySample is one recorded ask operation.
type QuerySample struct {
	QueryID          string
	Success          bool
	EmbeddingTimeMs  float64
	SearchTimeMs     float64
	GenerationTimeMs float64
	TotalTimeMs      float64
	PromptTokens     int
	CompletionTokens int
	NumResults       int
	AvgSimilarity    float64
	RecordedAt       time.Time
}

// UploadSample is one recorded ingest operation with per-stage timings.
type UploadSample struct {
	DocumentID      string
	Success         bool
	FileSizeBytes   int64
	ChunkCount      int
	TotalTokens     int
	ChunkingTimeMs  float64
	EmbeddingTimeMs float64
	PersistTimeMs   float64
	UploadTimeMs    float64
	RecordedAt      time.Time
}

// SystemSample is a point-in-time process snapshot.
type SystemSample struct {
	HeapAllocBytes uint64
	NumGoroutine   int
	RecordedAt     time.Time
}

// QueryStats aggregates the retained query history.
type QueryStats struct {
	Count               int
	SuccessRate         float64
	AvgTotalTimeMs      float64
	AvgEmbeddingTimeMs  float64
	AvgSearchTimeMs     float64
	AvgGenerationTimeMs float64
	AvgPromptTokens     float64
	AvgCompletionTokens float64
	AvgResultsPerQuery  float64
	AvgSimilarity       float64
}

// UploadStats aggregates the retained upload history.
type UploadStats struct {
	Count           int
	SuccessRate     float64
	AvgUploadTimeMs float64
	AvgChunkCount   float64
	TotalTokens     int
}

// Recorder is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	queries []QuerySample
	uploads []UploadSample
	system  []SystemSample
}

func NewRecorder() *Recorder { return &Recorder{} }

// RecordQuery appends one ask sample, evicting the oldest at capacity.
func (r *Recorder) RecordQuery(s QuerySample) {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = appendBounded(r.queries, s, MaxQuerySamples)
}

// RecordUpload appends one ingest sample, evicting the oldest at capacity.
func (r *Recorder) RecordUpload(s UploadSample) {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = appendBounded(r.uploads, s, MaxUploadSamples)
}

// RecordSystem snapshots current process memory and goroutine counts.
func (r *Recorder) RecordSystem() SystemSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := SystemSample{
		HeapAllocBytes: ms.HeapAlloc,
		NumGoroutine:   runtime.NumGoroutine(),
		RecordedAt:     time.Now(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.system = appendBounded(r.system, s, MaxSystemSamples)
	return s
}

// QueryStats computes aggregates over the lastN most recent query
// samples, or all retained samples when lastN is 0.
func (r *Recorder) QueryStats(lastN int) QueryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	window := lastSamples(r.queries, lastN)
	stats := QueryStats{Count: len(window)}
	if stats.Count == 0 {
		return stats
	}
	var ok int
	for _, s := range window {
		if s.Success {
			ok++
		}
		stats.AvgTotalTimeMs += s.TotalTimeMs
		stats.AvgEmbeddingTimeMs += s.EmbeddingTimeMs
		stats.AvgSearchTimeMs += s.SearchTimeMs
		stats.AvgGenerationTimeMs += s.GenerationTimeMs
		stats.AvgPromptTokens += float64(s.PromptTokens)
		stats.AvgCompletionTokens += float64(s.CompletionTokens)
		stats.AvgResultsPerQuery += float64(s.NumResults)
		stats.AvgSimilarity += s.AvgSimilarity
	}
	n := float64(stats.Count)
	stats.SuccessRate = float64(ok) / n
	stats.AvgTotalTimeMs /= n
	stats.AvgEmbeddingTimeMs /= n
	stats.AvgSearchTimeMs /= n
	stats.AvgGenerationTimeMs /= n
	stats.AvgPromptTokens /= n
	stats.AvgCompletionTokens /= n
	stats.AvgResultsPerQuery /= n
	stats.AvgSimilarity /= n
	return stats
}

// UploadStats computes aggregates over the lastN most recent upload
// samples, or all retained samples when lastN is 0.
func (r *Recorder) UploadStats(lastN int) UploadStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	window := lastSamples(r.uploads, lastN)
	stats := UploadStats{Count: len(window)}
	if stats.Count == 0 {
		return stats
	}
	var ok int
	for _, s := range window {
		if s.Success {
			ok++
		}
		stats.AvgUploadTimeMs += s.UploadTimeMs
		stats.AvgChunkCount += float64(s.ChunkCount)
		stats.TotalTokens += s.TotalTokens
	}
	n := float64(stats.Count)
	stats.SuccessRate = float64(ok) / n
	stats.AvgUploadTimeMs /= n
	stats.AvgChunkCount /= n
	return stats
}

// RecentQueries returns up to n samples, newest last.
func (r *Recorder) RecentQueries(n int) []QuerySample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.queries) {
		n = len(r.queries)
	}
	out := make([]QuerySample, n)
	copy(out, r.queries[len(r.queries)-n:])
	return out
}

// RecentUploads returns up to n samples, newest last.
func (r *Recorder) RecentUploads(n int) []UploadSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.uploads) {
		n = len(r.uploads)
	}
	out := make([]UploadSample, n)
	copy(out, r.uploads[len(r.uploads)-n:])
	return out
}

// RecentSystem returns up to n system snapshots, newest last.
func (r *Recorder) RecentSystem(n int) []SystemSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.system) {
		n = len(r.system)
	}
	out := make([]SystemSample, n)
	copy(out, r.system[len(r.system)-n:])
	return out
}

// QuerySampleFrom builds a sample from an ask result.
func QuerySampleFrom(result *domain.QueryResult, success bool) QuerySample {
	s := QuerySample{Success: success}
	if result != nil {
		s.QueryID = result.QueryID
		s.EmbeddingTimeMs = result.Metrics.EmbeddingTimeMs
		s.SearchTimeMs = result.Metrics.SearchTimeMs
		s.GenerationTimeMs = result.Metrics.GenerationTimeMs
		s.TotalTimeMs = result.Metrics.TotalTimeMs
		s.PromptTokens = result.Metrics.PromptTokens
		s.CompletionTokens = result.Metrics.CompletionTokens
		s.NumResults = result.Metrics.NumResults
		s.AvgSimilarity = result.Metrics.AvgSimilarity
	}
	return s
}

func lastSamples[T any](buf []T, n int) []T {
	if n <= 0 || n > len(buf) {
		return buf
	}
	return buf[len(buf)-n:]
}

func appendBounded[T any](buf []T, s T, limit int) []T {
	if len(buf) >= limit {
		copy(buf, buf[1:])
		buf[len(buf)-1] = s
		return buf
	}
	return append(buf, s)
}
