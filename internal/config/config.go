// Package config loads and validates keep's on-disk configuration: a
// YAML file carrying store paths, default tags, search fusion
// parameters, recency decay, and remote task service settings. It
// mirrors the teacher's layered-precedence loader (defaults → user
// config → project config → environment) adapted to keep's schema.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is keep's complete configuration tree, persisted as keep.yaml.
type Config struct {
	Version     int               `yaml:"version"`
	Store       StoreConfig       `yaml:"store"`
	DefaultTags map[string]string `yaml:"default_tags"`
	Summary     SummaryConfig     `yaml:"summary"`
	Search      SearchConfig      `yaml:"search"`
	Edges       EdgesConfig       `yaml:"edges"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Remote      RemoteConfig      `yaml:"remote"`
	Daemon      DaemonConfig      `yaml:"daemon"`
	LogLevel    string            `yaml:"log_level"`
}

// StoreConfig locates the on-disk store layout.
type StoreConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// SummaryConfig bounds generated/truncated summaries.
type SummaryConfig struct {
	MaxLength int `yaml:"max_length"`
}

// SearchConfig configures hybrid-search fusion and recency decay.
type SearchConfig struct {
	// SemanticWeight and FTSWeight are the RRF list weights
	// (w_semantic=1, w_fts=2 by default per spec).
	SemanticWeight float64 `yaml:"semantic_weight"`
	FTSWeight      float64 `yaml:"fts_weight"`
	RRFConstant    int     `yaml:"rrf_constant"`
	// HalfLifeDays enables recency decay when > 0: score *= 0.5^(days/half_life).
	HalfLifeDays float64 `yaml:"half_life_days"`
	DefaultLimit int     `yaml:"default_limit"`
}

// EdgesConfig configures edge materialization scope.
type EdgesConfig struct {
	// IncludeVersionPath also materializes edges from archived version
	// tags, not just the head. Default false (Open Question #1).
	IncludeVersionPath bool `yaml:"include_version_path"`
}

// EmbeddingConfig selects the embedding provider used for write- and
// query-time vectors.
type EmbeddingConfig struct {
	// Provider is "ollama" or "static" (see internal/embed.ParseProvider).
	Provider string `yaml:"provider"`
	// Model overrides the provider's default model name.
	Model string `yaml:"model"`
	// Host overrides the provider's default server URL (ollama only).
	Host string `yaml:"host"`
}

// RemoteConfig configures the optional remote task service.
type RemoteConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

// DaemonConfig configures the background pending-queue processor.
type DaemonConfig struct {
	MaxSummaryAttempts int    `yaml:"max_summary_attempts"`
	StaleClaimTimeout  string `yaml:"stale_claim_timeout"`
	SystemDocsVersion  int    `yaml:"system_docs_version"`
}

// Default returns a Config populated with keep's built-in defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Path:       defaultStorePath(),
			Collection: "default",
		},
		DefaultTags: map[string]string{},
		Summary: SummaryConfig{
			MaxLength: 500,
		},
		Search: SearchConfig{
			SemanticWeight: 1,
			FTSWeight:      2,
			RRFConstant:    60,
			HalfLifeDays:   0,
			DefaultLimit:   20,
		},
		Edges: EdgesConfig{
			IncludeVersionPath: false,
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			Host:     "http://localhost:11434",
		},
		Daemon: DaemonConfig{
			MaxSummaryAttempts: 5,
			StaleClaimTimeout:  "5m",
			SystemDocsVersion:  1,
		},
		LogLevel: "info",
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".keep")
	}
	return filepath.Join(home, ".keep")
}

// UserConfigPath returns the XDG-following path to the user config
// file: $XDG_CONFIG_HOME/keep/keep.yaml, or ~/.config/keep/keep.yaml.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "keep", "keep.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "keep", "keep.yaml")
	}
	return filepath.Join(home, ".config", "keep", "keep.yaml")
}

// Load builds the final configuration: built-in defaults, then the
// user config file (if present), then a project-local keep.yaml/.keep.yaml
// in dir (if present), then KEEP_* environment overrides.
func Load(dir string) (*Config, error) {
	cfg := Default()

	if path := UserConfigPath(); fileExists(path) {
		if err := cfg.mergeFile(path); err != nil {
			return nil, fmt.Errorf("loading user config %s: %w", path, err)
		}
	}

	for _, name := range []string{"keep.yaml", ".keep.yaml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.mergeFile(path); err != nil {
				return nil, fmt.Errorf("loading project config %s: %w", path, err)
			}
			break
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return err
	}
	c.mergeWith(&parsed)
	return nil
}

func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.Collection != "" {
		c.Store.Collection = other.Store.Collection
	}
	for k, v := range other.DefaultTags {
		c.DefaultTags[k] = v
	}
	if other.Summary.MaxLength != 0 {
		c.Summary.MaxLength = other.Summary.MaxLength
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.FTSWeight != 0 {
		c.Search.FTSWeight = other.Search.FTSWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.HalfLifeDays != 0 {
		c.Search.HalfLifeDays = other.Search.HalfLifeDays
	}
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Edges.IncludeVersionPath {
		c.Edges.IncludeVersionPath = true
	}
	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Host != "" {
		c.Embedding.Host = other.Embedding.Host
	}
	if other.Remote.APIURL != "" {
		c.Remote.APIURL = other.Remote.APIURL
	}
	if other.Remote.APIKey != "" {
		c.Remote.APIKey = other.Remote.APIKey
	}
	if other.Daemon.MaxSummaryAttempts != 0 {
		c.Daemon.MaxSummaryAttempts = other.Daemon.MaxSummaryAttempts
	}
	if other.Daemon.StaleClaimTimeout != "" {
		c.Daemon.StaleClaimTimeout = other.Daemon.StaleClaimTimeout
	}
	if other.Daemon.SystemDocsVersion != 0 {
		c.Daemon.SystemDocsVersion = other.Daemon.SystemDocsVersion
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies KEEP_* environment variables, the highest
// precedence layer. KEEP_TAG_* entries become default tags (lowercased
// key, spec §4.4's "environment tags" merged into every write).
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KEEP_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("KEEP_VERBOSE"); v == "1" {
		c.LogLevel = "debug"
	}
	if v := os.Getenv("KEEP_EMBEDDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("KEEP_EMBEDDER_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("KEEP_EMBEDDER_HOST"); v != "" {
		c.Embedding.Host = v
	}
	if v := os.Getenv("KEEPNOTES_API_URL"); v != "" {
		c.Remote.APIURL = v
	}
	if v := os.Getenv("KEEPNOTES_API_KEY"); v != "" {
		c.Remote.APIKey = v
	}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "KEEP_TAG_") {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(kv[:eq], "KEEP_TAG_"))
		c.DefaultTags[key] = kv[eq+1:]
	}
}

// Validate checks the configuration for internally-consistent values.
func (c *Config) Validate() error {
	if c.Summary.MaxLength <= 0 {
		return fmt.Errorf("summary.max_length must be positive, got %d", c.Summary.MaxLength)
	}
	if c.Search.SemanticWeight < 0 || c.Search.FTSWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.HalfLifeDays < 0 {
		return fmt.Errorf("search.half_life_days must be non-negative, got %f", c.Search.HalfLifeDays)
	}
	if c.Daemon.MaxSummaryAttempts <= 0 {
		return fmt.Errorf("daemon.max_summary_attempts must be positive, got %d", c.Daemon.MaxSummaryAttempts)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %s", c.LogLevel)
	}
	return nil
}

// WriteYAML persists the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Watch starts an fsnotify watch on path (typically the project
// config file) and invokes onChange with a freshly reloaded Config
// whenever the file is written. Watch returns a stop function; errors
// from individual reloads are passed to onChange as (nil, err).
func Watch(path, dir string, onChange func(*Config, error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, loadErr := Load(dir)
				onChange(cfg, loadErr)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onChange(nil, watchErr)
			}
		}
	}()

	return watcher.Close, nil
}
