package embedder

import (
	"fmt"
	"os"
	"strconv"

	"github.com/corpusworks/corpusd/internal/model"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ — override with CORPUSD_EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
)

// NewFromEnv constructs an Embedder from environment variables, which the
// config layer has already populated from the config file for any key the
// environment left unset.
//
// Resolution order:
//
//  1. CORPUSD_EMBEDDER — backend name; "none" disables embedding (chunk-only
//     deployments). If unset: openai when an OpenAI key is present, else ollama.
//  2. CORPUSD_EMBEDDING_MODEL — overrides the default model for the backend
//  3. CORPUSD_EMBEDDING_API_KEY — overrides the provider-native key variable
//  4. CORPUSD_EMBEDDING_ENDPOINT — overrides the provider-native endpoint
//  5. CORPUSD_EMBEDDING_DIMENSIONS — overrides the default vector width
//
// A nil, nil return means embedding is disabled; raw-text ingestion is
// rejected but pre-embedded ingestion and query still work.
func NewFromEnv() (Embedder, error) {
	backend := getEnv("CORPUSD_EMBEDDER")
	if backend == "" {
		if getEnv("CORPUSD_EMBEDDING_API_KEY") != "" || getEnv("OPENAI_API_KEY") != "" {
			backend = "openai"
		} else {
			backend = "ollama"
		}
	}

	switch backend {
	case "none":
		return nil, nil

	case "ollama":
		host := getEnv("CORPUSD_EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       host,
			Model:      getEnvOrDefault("CORPUSD_EMBEDDING_MODEL", defaultOllamaModel),
			Dimensions: getEnvInt("CORPUSD_EMBEDDING_DIMENSIONS", defaultOllamaDimensions),
		}), nil

	case "openai":
		apiKey := getEnv("CORPUSD_EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or CORPUSD_EMBEDDING_API_KEY")
		}
		baseURL := getEnv("CORPUSD_EMBEDDING_ENDPOINT")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      getEnvOrDefault("CORPUSD_EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("CORPUSD_EMBEDDING_DIMENSIONS", model.EmbeddingDim),
		}), nil

	case "azure":
		apiKey := getEnv("CORPUSD_EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or CORPUSD_EMBEDDING_API_KEY")
		}
		endpoint := getEnv("CORPUSD_EMBEDDING_ENDPOINT")
		if endpoint == "" {
			endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or CORPUSD_EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      getEnvOrDefault("CORPUSD_EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("CORPUSD_EMBEDDING_DIMENSIONS", model.EmbeddingDim),
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q — valid values: ollama, openai, azure, none", backend)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
