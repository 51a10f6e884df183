package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	kerrors "github.com/hughpyle/keep/internal/errors"
)

// OllamaConfig configures a connection to a local Ollama server.
type OllamaConfig struct {
	// Host is the Ollama server base URL, e.g. "http://localhost:11434".
	Host string

	// Model is the embedding model name, e.g. "nomic-embed-text".
	Model string

	// Timeout bounds a single embed request.
	Timeout time.Duration

	// MaxRetries bounds retry attempts on transient failures.
	MaxRetries int
}

// DefaultOllamaConfig returns sensible defaults for a local Ollama install.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:       "http://localhost:11434",
		Model:      "nomic-embed-text",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder embeds text via a local Ollama server's HTTP API.
type OllamaEmbedder struct {
	client *http.Client
	cfg    OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to cfg.Host and probes cfg.Model once to
// learn its output dimensionality.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaConfig().Host
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaConfig().Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOllamaConfig().Timeout
	}

	e := &OllamaEmbedder{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}

	probe, err := e.embedOnce(ctx, "probe")
	if err != nil {
		return nil, kerrors.ProviderUnavailable(fmt.Sprintf("ollama: probing model %q at %s: %v", cfg.Model, cfg.Host, err))
	}
	e.dims = len(probe)
	return e, nil
}

// Embed generates the embedding for a single piece of text, retrying
// transient failures with exponential backoff.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("ollama embedder is closed")
	}

	retryCfg := kerrors.DefaultRetryConfig()
	retryCfg.MaxRetries = e.cfg.MaxRetries
	return kerrors.RetryWithResult(ctx, retryCfg, func() ([]float32, error) {
		return e.embedOnce(ctx, text)
	})
}

func (e *OllamaEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama embed request: %w", err)
	}

	url := e.cfg.Host + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build ollama embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, kerrors.ProviderTransient("ollama request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, kerrors.ProviderTransient(fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal ollama response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, kerrors.ProviderTransient("ollama returned an empty embedding", nil)
	}

	return normalizeVector(parsed.Embeddings[0]), nil
}

// Dimensions returns the embedding width learned during construction.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName identifies the underlying Ollama model.
func (e *OllamaEmbedder) ModelName() string {
	return e.cfg.Model
}

// Close releases the embedder's HTTP client resources.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
