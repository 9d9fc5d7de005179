package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every knob the core recognises. Values come from the process
// environment, optionally seeded from a .env file.
type Config struct {
	ChatProvider  string // openai | anthropic
	OpenAIAPIKey  string
	OpenAIBaseURL string

	AnthropicAPIKey  string
	AnthropicBaseURL string

	ModelEmbeddings string
	ModelChatbot    string
	ModelFast       string
	ModelNormalizer string
	EmbeddingDim    int

	DataRoot         string
	VectorStorePath  string
	CollectionName   string
	ChunkMaxTokens   int
	ChunkOverlap     int
	SectionDelimiter string
	MaxRetries       int

	HistoryBackend string // memory | redis | mongo
	RedisAddr      string
	MongoURI       string
	PGDSN          string

	Tracing string // off | stdout | otlp
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; existing env vars win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ChatProvider:     envOr("CHAT_PROVIDER", "openai"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		ModelEmbeddings:  envOr("MODEL_EMBEDDINGS", "text-embedding-3-large"),
		ModelChatbot:     envOr("MODEL_CHATBOT", "gpt-4o"),
		ModelFast:        envOr("MODEL_FAST", "gpt-4o-mini"),
		ModelNormalizer:  envOr("MODEL_NORMALIZER", "gpt-4o-mini"),
		EmbeddingDim:     envInt("EMBEDDING_DIM", 3072),
		DataRoot:         envOr("DATA_ROOT", "data"),
		CollectionName:   envOr("COLLECTION_NAME", "contratos_defensa"),
		ChunkMaxTokens:   envInt("CHUNK_MAX_TOKENS", 500),
		ChunkOverlap:     envInt("CHUNK_OVERLAP", 50),
		SectionDelimiter: envOr("SECTION_DELIMITER", "==="),
		MaxRetries:       envInt("MAX_RETRIES", 2),
		HistoryBackend:   envOr("HISTORY_BACKEND", "memory"),
		RedisAddr:        envOr("REDIS_ADDR", "localhost:6379"),
		MongoURI:         os.Getenv("MONGO_URI"),
		PGDSN:            os.Getenv("PG_DSN"),
		Tracing:          envOr("CONTRATOS_TRACING", "off"),
	}
	cfg.VectorStorePath = envOr("VECTORSTORE_PATH", filepath.Join(cfg.DataRoot, "vectorstore"))

	v := NewValidator()
	v.ValidateOneOf("CHAT_PROVIDER", cfg.ChatProvider, "openai", "anthropic")
	v.RequireNonEmpty("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	if cfg.ChatProvider == "anthropic" {
		v.RequireNonEmpty("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	}
	v.RequirePositive("CHUNK_MAX_TOKENS", cfg.ChunkMaxTokens)
	v.ValidateRange("CHUNK_OVERLAP", cfg.ChunkOverlap, 0, cfg.ChunkMaxTokens)
	v.ValidateRange("MAX_RETRIES", cfg.MaxRetries, 0, 10)
	v.ValidateOneOf("HISTORY_BACKEND", cfg.HistoryBackend, "memory", "redis", "mongo")
	v.ValidateOneOf("CONTRATOS_TRACING", cfg.Tracing, "off", "stdout", "otlp")
	if err := v.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ContractsDir returns the PDF input directory.
func (c *Config) ContractsDir() string {
	return filepath.Join(c.DataRoot, "contracts")
}

// NormalizedDir returns the canonical Markdown output directory.
func (c *Config) NormalizedDir() string {
	return filepath.Join(c.DataRoot, "normalized")
}

// BM25Path returns the lexical index file location.
func (c *Config) BM25Path() string {
	return filepath.Join(c.DataRoot, "bm25_index.gob")
}

// ReviewQueuePath returns the human-in-the-loop queue file.
func (c *Config) ReviewQueuePath() string {
	return "pending_review.json"
}

// QueryLogPath returns the served-query log file.
func (c *Config) QueryLogPath() string {
	return filepath.Join("logs", "queries.jsonl")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
