// Package config provides configuration loading and validation for the
// service. Values come from the environment; a .env file is loaded by the
// command entry point before this package reads anything.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything the service needs at startup. Required external
// services are validated here so a misconfigured process fails fast
// instead of degrading call by call.
type Config struct {
	// Server
	Port int

	// Durable store
	DatabaseURL string

	// Language model
	GeminiAPIKey string
	GeminiModel  string

	// Vector index
	VectorDBPath     string
	VectorCollection string
	EmbedBaseURL     string
	EmbedAPIKey      string
	EmbedModel       string

	// Pipeline tuning
	ChunkSize     int
	ChunkOverlap  int
	BatchWidth    int
	ContextChunks int

	// Task retention
	TaskRetention   time.Duration
	CleanupInterval time.Duration
}

// Load reads configuration from the environment, applying defaults for
// optional values.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             8080,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      os.Getenv("GEMINI_MODEL"),
		VectorDBPath:     envOr("VECTOR_DB_PATH", "./vectordb"),
		VectorCollection: envOr("VECTOR_COLLECTION", "rfp_documents"),
		EmbedBaseURL:     os.Getenv("EMBEDDINGS_BASE_URL"),
		EmbedAPIKey:      os.Getenv("EMBEDDINGS_API_KEY"),
		EmbedModel:       envOr("EMBEDDINGS_MODEL", "text-embedding-3-small"),
		ChunkSize:        1000,
		ChunkOverlap:     200,
		BatchWidth:       5,
		ContextChunks:    5,
		TaskRetention:    7 * 24 * time.Hour,
		CleanupInterval:  24 * time.Hour,
	}

	var err error
	if cfg.Port, err = envIntOr("PORT", cfg.Port); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = envIntOr("CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap, err = envIntOr("CHUNK_OVERLAP", cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.BatchWidth, err = envIntOr("BATCH_WIDTH", cfg.BatchWidth); err != nil {
		return nil, err
	}
	if cfg.ContextChunks, err = envIntOr("CONTEXT_CHUNKS", cfg.ContextChunks); err != nil {
		return nil, err
	}
	if cfg.TaskRetention, err = envDurationOr("TASK_RETENTION", cfg.TaskRetention); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = envDurationOr("CLEANUP_INTERVAL", cfg.CleanupInterval); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required settings are present and numeric ranges
// make sense.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config error: DATABASE_URL is required")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("config error: GEMINI_API_KEY is required (answer generation cannot run without it)")
	}
	if c.EmbedBaseURL == "" {
		return fmt.Errorf("config error: EMBEDDINGS_BASE_URL is required (document ingestion cannot run without it)")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("config error: CHUNK_SIZE must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("config error: CHUNK_OVERLAP must be non-negative and smaller than CHUNK_SIZE")
	}
	if c.BatchWidth < 1 {
		return fmt.Errorf("config error: BATCH_WIDTH must be at least 1")
	}
	if c.ContextChunks < 1 {
		return fmt.Errorf("config error: CONTEXT_CHUNKS must be at least 1")
	}
	if c.TaskRetention <= 0 {
		return fmt.Errorf("config error: TASK_RETENTION must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("config error: CLEANUP_INTERVAL must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config error: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func envDurationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config error: %s must be a duration: %w", key, err)
	}
	return d, nil
}
