// Package embed provides the embedding seam keep's write/read pipeline
// embeds content and queries through. It intentionally exposes a
// narrow Embedder interface with two implementations: a real provider
// (Ollama's local HTTP API) and a dependency-free static fallback for
// when no provider is reachable.
package embed

import (
	"context"
	"math"
)

// DefaultDimensions is the vector width used by the static fallback
// and as an auto-detection backstop for providers that don't return one.
const DefaultDimensions = 768

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single piece of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName identifies the underlying model, for diagnostics.
	ModelName() string

	// Close releases any held resources (network connections, etc).
	Close() error
}

// normalizeVector scales v to unit length, leaving zero vectors as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	magnitude := math.Sqrt(sumSquares)
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
