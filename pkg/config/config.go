// Package config loads process configuration from the environment.
// The Config struct is built once at startup and treated as immutable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrConfig marks missing or invalid configuration.
var ErrConfig = errors.New("configuration error")

// Defaults for optional settings.
const (
	DefaultEmbedDim           = 1536
	DefaultDedupThreshold     = 0.92
	DefaultMinRetention       = 0.2
	DefaultPromotionStability = 0.9
	DefaultPromotionAccess    = 10
	DefaultTimeout            = 30 * time.Second
	DefaultConsolidateTimeout = 5 * time.Minute
)

// Config carries everything the CLI needs to assemble a memory engine.
type Config struct {
	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string

	// EmbedProvider selects the embedding backend: openai, ollama,
	// gemini or dummy. Empty means dummy.
	EmbedProvider string
	EmbedModel    string
	EmbedDim      int

	// ScoringProvider selects the scoring backend: openai, anthropic or
	// heuristic. Empty means heuristic.
	ScoringProvider string
	ScoringModel    string

	DedupThreshold     float64
	MinRetention       float64
	PromotionStability float64
	PromotionAccess    int

	// Timeout bounds every store and provider call. The consolidator
	// gets its own, more generous deadline.
	Timeout            time.Duration
	ConsolidateTimeout time.Duration
}

// FromEnv builds a Config from environment variables, applying defaults
// and validating ranges. MEMORY_DB_URL is the only required variable.
func FromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:        os.Getenv("MEMORY_DB_URL"),
		EmbedProvider:      os.Getenv("ENGRAM_EMBED_PROVIDER"),
		EmbedModel:         os.Getenv("ENGRAM_EMBED_MODEL"),
		ScoringProvider:    os.Getenv("ENGRAM_SCORING_PROVIDER"),
		ScoringModel:       os.Getenv("ENGRAM_SCORING_MODEL"),
		EmbedDim:           DefaultEmbedDim,
		DedupThreshold:     DefaultDedupThreshold,
		MinRetention:       DefaultMinRetention,
		PromotionStability: DefaultPromotionStability,
		PromotionAccess:    DefaultPromotionAccess,
		Timeout:            DefaultTimeout,
		ConsolidateTimeout: DefaultConsolidateTimeout,
	}

	var err error
	if cfg.EmbedDim, err = envInt("ENGRAM_EMBED_DIM", cfg.EmbedDim); err != nil {
		return Config{}, err
	}
	if cfg.DedupThreshold, err = envFloat("ENGRAM_DEDUP_THRESHOLD", cfg.DedupThreshold); err != nil {
		return Config{}, err
	}
	if cfg.MinRetention, err = envFloat("ENGRAM_MIN_RETENTION", cfg.MinRetention); err != nil {
		return Config{}, err
	}
	if cfg.PromotionStability, err = envFloat("ENGRAM_PROMOTION_STABILITY", cfg.PromotionStability); err != nil {
		return Config{}, err
	}
	if cfg.PromotionAccess, err = envInt("ENGRAM_PROMOTION_ACCESS", cfg.PromotionAccess); err != nil {
		return Config{}, err
	}
	if cfg.Timeout, err = envDuration("ENGRAM_TIMEOUT", cfg.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.ConsolidateTimeout, err = envDuration("ENGRAM_CONSOLIDATE_TIMEOUT", cfg.ConsolidateTimeout); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: MEMORY_DB_URL is required", ErrConfig)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrConfig, c.EmbedDim)
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("%w: dedup threshold must be in (0, 1], got %g", ErrConfig, c.DedupThreshold)
	}
	if c.MinRetention < 0 || c.MinRetention > 1 {
		return fmt.Errorf("%w: min retention must be in [0, 1], got %g", ErrConfig, c.MinRetention)
	}
	if c.PromotionStability <= 0 || c.PromotionStability > 1 {
		return fmt.Errorf("%w: promotion stability must be in (0, 1], got %g", ErrConfig, c.PromotionStability)
	}
	if c.PromotionAccess < 0 {
		return fmt.Errorf("%w: promotion access count must be non-negative, got %d", ErrConfig, c.PromotionAccess)
	}
	if c.Timeout <= 0 || c.ConsolidateTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	}
	return nil
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrConfig, key, raw)
	}
	return val, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrConfig, key, raw)
	}
	return val, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrConfig, key, raw)
	}
	return val, nil
}
