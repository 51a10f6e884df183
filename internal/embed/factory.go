package embed

import (
	"context"
	"log/slog"
	"strings"
)

// ProviderType selects which Embedder implementation NewEmbedder builds.
type ProviderType string

const (
	// ProviderOllama embeds via a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses dependency-free hash-based embeddings, for
	// offline use or when no Ollama server is reachable.
	ProviderStatic ProviderType = "static"
)

// ParseProvider maps a config/env string to a ProviderType, defaulting
// to ProviderOllama for an empty or unrecognized value.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

// NewEmbedder constructs an Embedder for the given provider. model and
// host override the provider's defaults when non-empty. If provider is
// ProviderOllama and the server can't be reached, NewEmbedder falls
// back to the static embedder rather than failing keep's write path.
func NewEmbedder(ctx context.Context, provider ProviderType, model, host string) (Embedder, error) {
	switch provider {
	case ProviderStatic:
		return NewStaticEmbedder(DefaultDimensions), nil
	case ProviderOllama:
		cfg := DefaultOllamaConfig()
		if model != "" {
			cfg.Model = model
		}
		if host != "" {
			cfg.Host = host
		}
		embedder, err := NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			slog.Warn("ollama embedder unavailable, falling back to static embedder",
				"host", cfg.Host, "model", cfg.Model, "error", err)
			return NewStaticEmbedder(DefaultDimensions), nil
		}
		return embedder, nil
	default:
		return NewStaticEmbedder(DefaultDimensions), nil
	}
}
