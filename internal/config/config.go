// Package config provides YAML-based configuration for corpusd.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. CORPUSD_CONFIG environment variable
//  3. ./corpusd.yaml
//  4. ~/.config/corpusd/config.yaml
//
// If no file is found the system runs entirely from env vars (backwards compatible).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Server configures the HTTP server and its auth and rate limiting.
	Server ServerConfig `yaml:"server"`

	// Store configures the SQLite relational store.
	Store StoreConfig `yaml:"store"`

	// Blob configures raw upload storage.
	Blob BlobConfig `yaml:"blob"`

	// Index configures the vector index backend.
	Index IndexConfig `yaml:"index"`

	// Embedder configures the embedding provider for raw-text ingestion.
	Embedder EmbedderConfig `yaml:"embedder"`

	// Ingest configures chunking and the background worker pool.
	Ingest IngestConfig `yaml:"ingest"`

	// Query configures retrieval limits.
	Query QueryConfig `yaml:"query"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// AdminToken is the Bearer token for the management plane.
	// Prefer env var CORPUSD_ADMIN_TOKEN.
	AdminToken string `yaml:"admin_token"`
	// RateLimitRPS is the per-IP request rate on the data plane.
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// RateLimitBurst is the per-IP burst capacity on the data plane.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	// Path is the SQLite database file. Defaults to ~/.corpusd/corpus.db.
	Path string `yaml:"path"`
}

// BlobConfig holds raw upload storage settings.
type BlobConfig struct {
	// Dir is the directory uploaded files are stored under.
	// Defaults to ~/.corpusd/blobs.
	Dir string `yaml:"dir"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	// Backend selects the index: exact (in-memory) or qdrant.
	Backend string `yaml:"backend"`
	// QdrantHost is the Qdrant server hostname.
	QdrantHost string `yaml:"qdrant_host"`
	// QdrantPort is the Qdrant gRPC port.
	QdrantPort int `yaml:"qdrant_port"`
	// QdrantAPIKey is the Qdrant API key. Prefer env var CORPUSD_QDRANT_API_KEY.
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	// QdrantTLS enables TLS for the Qdrant connection.
	QdrantTLS bool `yaml:"qdrant_tls"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
}

// EmbedderConfig holds embedding provider settings.
type EmbedderConfig struct {
	// Provider selects the backend: ollama, openai, azure, none.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the embedding API key. Prefer env var CORPUSD_EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
}

// IngestConfig holds chunking and worker pool settings.
type IngestConfig struct {
	// ChunkSize is the maximum chunk size in bytes.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the byte overlap between consecutive chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// EmbedBatch is the number of texts per embedding call.
	EmbedBatch int `yaml:"embed_batch"`
	// Workers is the background worker count.
	Workers int `yaml:"workers"`
	// QueueDepth is the bounded job queue capacity.
	QueueDepth int `yaml:"queue_depth"`
	// JobTimeoutSeconds bounds one ingestion job's runtime.
	JobTimeoutSeconds int `yaml:"job_timeout_seconds"`
}

// QueryConfig holds retrieval limits.
type QueryConfig struct {
	// DefaultTopK is used when a query omits top_k.
	DefaultTopK int `yaml:"default_top_k"`
	// MaxTopK bounds top_k; larger requests are rejected.
	MaxTopK int `yaml:"max_top_k"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"CORPUSD_HOST", func(c *Config) string { return c.Server.Host }},
	{"CORPUSD_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"CORPUSD_ADMIN_TOKEN", func(c *Config) string { return c.Server.AdminToken }},
	{"CORPUSD_RATE_LIMIT_RPS", func(c *Config) string { return floatStr(c.Server.RateLimitRPS) }},
	{"CORPUSD_RATE_LIMIT_BURST", func(c *Config) string { return intStr(c.Server.RateLimitBurst) }},
	{"CORPUSD_DB_PATH", func(c *Config) string { return c.Store.Path }},
	{"CORPUSD_BLOB_DIR", func(c *Config) string { return c.Blob.Dir }},
	{"CORPUSD_INDEX_BACKEND", func(c *Config) string { return c.Index.Backend }},
	{"CORPUSD_QDRANT_HOST", func(c *Config) string { return c.Index.QdrantHost }},
	{"CORPUSD_QDRANT_PORT", func(c *Config) string { return intStr(c.Index.QdrantPort) }},
	{"CORPUSD_QDRANT_API_KEY", func(c *Config) string { return c.Index.QdrantAPIKey }},
	{"CORPUSD_QDRANT_TLS", func(c *Config) string { return boolStr(c.Index.QdrantTLS) }},
	{"CORPUSD_QDRANT_COLLECTION", func(c *Config) string { return c.Index.Collection }},
	{"CORPUSD_EMBEDDER", func(c *Config) string { return c.Embedder.Provider }},
	{"CORPUSD_EMBEDDING_MODEL", func(c *Config) string { return c.Embedder.Model }},
	{"CORPUSD_EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedder.Endpoint }},
	{"CORPUSD_EMBEDDING_API_KEY", func(c *Config) string { return c.Embedder.APIKey }},
	{"CORPUSD_EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedder.Dimensions) }},
	{"CORPUSD_CHUNK_SIZE", func(c *Config) string { return intStr(c.Ingest.ChunkSize) }},
	{"CORPUSD_CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Ingest.ChunkOverlap) }},
	{"CORPUSD_EMBED_BATCH", func(c *Config) string { return intStr(c.Ingest.EmbedBatch) }},
	{"CORPUSD_WORKERS", func(c *Config) string { return intStr(c.Ingest.Workers) }},
	{"CORPUSD_QUEUE_DEPTH", func(c *Config) string { return intStr(c.Ingest.QueueDepth) }},
	{"CORPUSD_JOB_TIMEOUT_SECONDS", func(c *Config) string { return intStr(c.Ingest.JobTimeoutSeconds) }},
	{"CORPUSD_DEFAULT_TOP_K", func(c *Config) string { return intStr(c.Query.DefaultTopK) }},
	{"CORPUSD_MAX_TOP_K", func(c *Config) string { return intStr(c.Query.MaxTopK) }},
	{"CORPUSD_LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"CORPUSD_LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("CORPUSD_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	if _, err := os.Stat("corpusd.yaml"); err == nil {
		return "corpusd.yaml"
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".config", "corpusd", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
