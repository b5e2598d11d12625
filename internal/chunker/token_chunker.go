package chunker

import (
	"fmt"
	"strings"

	"ragengine/internal/domain"
)

// TokenChunker splits text into token-based windows with overlap.
//
// Tokens are produced by whitespace splitting, so token counts are
// approximate relative to any model tokenizer. Callers must treat them
// as estimates.
type TokenChunker struct {
	chunkSize     int
	overlapTokens int
}

// NewTokenChunker builds a chunker for windows of chunkSizeTokens tokens,
// advancing by chunkSizeTokens - floor(chunkSizeTokens*overlapPercentage/100)
// each step. A configuration that yields a step of zero or less cannot make
// forward progress and is rejected.
func NewTokenChunker(chunkSizeTokens, overlapPercentage int) (*TokenChunker, error) {
	if chunkSizeTokens <= 0 {
		return nil, &domain.ValidationError{Field: "chunking.chunk_size_tokens", Reason: "must be positive"}
	}
	if overlapPercentage < 0 || overlapPercentage >= 100 {
		return nil, &domain.ValidationError{Field: "chunking.overlap_percentage", Reason: "must be in [0,100)"}
	}
	overlap := chunkSizeTokens * overlapPercentage / 100
	if chunkSizeTokens-overlap <= 0 {
		return nil, &domain.ValidationError{
			Field:  "chunking.overlap_percentage",
			Reason: fmt.Sprintf("overlap of %d tokens leaves no forward step for chunk size %d", overlap, chunkSizeTokens),
		}
	}
	return &TokenChunker{chunkSize: chunkSizeTokens, overlapTokens: overlap}, nil
}

// OverlapTokens returns the number of tokens shared between consecutive chunks.
func (c *TokenChunker) OverlapTokens() int { return c.overlapTokens }

// Chunk slides a window of chunkSize tokens over the text. The final chunk
// may be shorter. Empty text yields no chunks and no error.
func (c *TokenChunker) Chunk(text string) ([]domain.ChunkPiece, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, nil
	}
	step := c.chunkSize - c.overlapTokens
	var pieces []domain.ChunkPiece
	for start := 0; start < len(tokens); start += step {
		end := start + c.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		joined := strings.Join(window, " ")
		pieces = append(pieces, domain.ChunkPiece{
			Text:       joined,
			TokenCount: len(window),
			CharCount:  len(joined),
		})
		if end == len(tokens) {
			break
		}
	}
	return pieces, nil
}
