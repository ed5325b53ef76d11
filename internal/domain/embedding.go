package domain

import (
	"fmt"
	"math"
	"time"
)

// TokenUsage mirrors the provider's usage counters
type TokenUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingResult is the vector produced for one chunk
type EmbeddingResult struct {
	ChunkID string     `json:"chunk_id"`
	Vector  []float32  `json:"vector"`
	Model   string     `json:"model"`
	Usage   TokenUsage `json:"usage"`
}

// EmbeddingBatch is the outcome of embedding a set of chunks. Failed lists the
// chunk ids that did not receive a vector.
type EmbeddingBatch struct {
	Embeddings  []EmbeddingResult `json:"embeddings"`
	TotalTokens int               `json:"total_tokens"`
	Elapsed     time.Duration     `json:"elapsed"`
	Requested   int               `json:"requested"`
	Failed      []string          `json:"failed,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
	SuccessRate float64           `json:"success_rate"`
}

// ByChunkID indexes the embeddings of a batch by chunk id.
func (b *EmbeddingBatch) ByChunkID() map[string][]float32 {
	out := make(map[string][]float32, len(b.Embeddings))
	for _, e := range b.Embeddings {
		out[e.ChunkID] = e.Vector
	}
	return out
}

// ValidateVector checks that a vector is non-empty, finite and of the
// expected dimension.
func ValidateVector(v []float32, dimensions int) error {
	if len(v) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if dimensions > 0 && len(v) != dimensions {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(v), dimensions)
	}
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("embedding value at %d is not finite", i)
		}
	}
	return nil
}
