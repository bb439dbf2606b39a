// Package config provides configuration management for mnema. Settings load
// from environment variables with the MNEMA_ prefix with sensible defaults
// for every option; tuning knobs (tier weights, decay bands, token budgets)
// may additionally be overridden from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the mnema engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	External  ExternalConfig  `yaml:"external"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Decay     DecayConfig     `yaml:"decay"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // default: 7171
	Host string `yaml:"host"` // default: 0.0.0.0

	// SecurityMode is "development" or "production"; production requires
	// the API token on every request.
	SecurityMode string `yaml:"security_mode"`
	APIToken     string `yaml:"api_token"`

	// RateLimit requests per second, with RateBurst burst capacity.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	// Engine is "sqlite" (default) or "postgres".
	Engine string `yaml:"engine"`

	// DSN is the database path (sqlite) or connection string (postgres).
	DSN string `yaml:"dsn"`
}

// ExternalConfig points at the external collaborators: the embedding
// service, the summary rewriter, and the optional sufficiency judge.
type ExternalConfig struct {
	EmbedderURL string `yaml:"embedder_url"` // empty disables vector search
	RewriterURL string `yaml:"rewriter_url"` // empty falls back to deterministic summaries
	JudgeURL    string `yaml:"judge_url"`    // empty falls back to the heuristic

	// CallTimeout bounds each external call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// RetrievalConfig tunes the tiered retrieval engine and context assembler.
type RetrievalConfig struct {
	// TierTimeout bounds store queries per tier.
	TierTimeout time.Duration `yaml:"tier_timeout"`

	// TotalTimeout bounds the whole retrieval.
	TotalTimeout time.Duration `yaml:"total_timeout"`

	// Tier2TopN entities fetched in Tier 2.
	Tier2TopN int `yaml:"tier2_top_n"`

	// Hybrid fusion weights (Tier 3).
	VectorWeight  float64 `yaml:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight"`
	GraphWeight   float64 `yaml:"graph_weight"`

	// Assembler scoring weights.
	ImportanceWeight float64 `yaml:"importance_weight"`
	RecencyWeight    float64 `yaml:"recency_weight"`
	RelevanceWeight  float64 `yaml:"relevance_weight"`
	FrequencyWeight  float64 `yaml:"frequency_weight"`

	// HalfLifeDays for the assembler's recency decay.
	HalfLifeDays float64 `yaml:"half_life_days"`

	// Token budget partitions (fractions summing to 1.0).
	SummaryShare float64 `yaml:"summary_share"`
	EntityShare  float64 `yaml:"entity_share"`
	MatchShare   float64 `yaml:"match_share"`

	// DefaultMaxTokens when the caller passes none.
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}

// DecayBand configures one importance-decay tier. Product-tuned constants;
// configuration, not fixed behavior.
type DecayBand struct {
	Tier      string        `yaml:"tier"`
	Threshold time.Duration `yaml:"threshold"` // zero = never decays
	Retention float64       `yaml:"retention"`
}

// DecayConfig tunes the maintenance jobs.
type DecayConfig struct {
	Bands []DecayBand `yaml:"bands"`

	// Floor below which decayed entities are archived.
	Floor float64 `yaml:"floor"`

	// ArchivalWindow for unaccessed low/trivial entities.
	ArchivalWindow time.Duration `yaml:"archival_window"`

	// ConsolidationThreshold is the embedding cosine similarity above which
	// an entity pair is flagged for merge review.
	ConsolidationThreshold float64 `yaml:"consolidation_threshold"`

	// Interval for the optional in-process scheduler.
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("MNEMA_PORT", 7171),
			Host:         getEnv("MNEMA_HOST", "0.0.0.0"),
			SecurityMode: getEnv("MNEMA_SECURITY_MODE", "development"),
			APIToken:     getEnv("MNEMA_API_TOKEN", ""),
			RateLimit:    getEnvFloat("MNEMA_RATE_LIMIT", 10.0),
			RateBurst:    getEnvInt("MNEMA_RATE_BURST", 20),
		},
		Storage: StorageConfig{
			Engine: getEnv("MNEMA_STORAGE_ENGINE", "sqlite"),
			DSN:    getEnv("MNEMA_STORAGE_DSN", "./data/mnema.db"),
		},
		External: ExternalConfig{
			EmbedderURL: getEnv("MNEMA_EMBEDDER_URL", ""),
			RewriterURL: getEnv("MNEMA_REWRITER_URL", ""),
			JudgeURL:    getEnv("MNEMA_JUDGE_URL", ""),
			CallTimeout: getEnvDuration("MNEMA_EXTERNAL_TIMEOUT", 2*time.Second),
		},
		Retrieval: RetrievalConfig{
			TierTimeout:      getEnvDuration("MNEMA_TIER_TIMEOUT", 300*time.Millisecond),
			TotalTimeout:     getEnvDuration("MNEMA_RETRIEVAL_TIMEOUT", 2*time.Second),
			Tier2TopN:        getEnvInt("MNEMA_TIER2_TOP_N", 10),
			VectorWeight:     0.6,
			KeywordWeight:    0.3,
			GraphWeight:      0.1,
			ImportanceWeight: 0.30,
			RecencyWeight:    0.25,
			RelevanceWeight:  0.35,
			FrequencyWeight:  0.10,
			HalfLifeDays:     14,
			SummaryShare:     0.30,
			EntityShare:      0.40,
			MatchShare:       0.30,
			DefaultMaxTokens: 2000,
		},
		Decay: DecayConfig{
			Bands:                  DefaultDecayBands(),
			Floor:                  0.05,
			ArchivalWindow:         180 * 24 * time.Hour,
			ConsolidationThreshold: 0.92,
			Interval:               24 * time.Hour,
		},
	}
	return cfg
}

// DefaultDecayBands returns the default importance-decay schedule.
func DefaultDecayBands() []DecayBand {
	return []DecayBand{
		{Tier: "trivial", Threshold: 7 * 24 * time.Hour, Retention: 0.80},
		{Tier: "low", Threshold: 14 * 24 * time.Hour, Retention: 0.85},
		{Tier: "medium", Threshold: 30 * 24 * time.Hour, Retention: 0.90},
		{Tier: "high", Threshold: 90 * 24 * time.Hour, Retention: 0.95},
		{Tier: "critical", Threshold: 0, Retention: 1.0}, // never decays
	}
}

// LoadFile overlays values from a YAML file onto cfg. Missing file is not
// an error when optional is true.
func (c *Config) LoadFile(path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Storage.Engine != "sqlite" && c.Storage.Engine != "postgres" {
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Server.SecurityMode == "production" && c.Server.APIToken == "" {
		return fmt.Errorf("config: production mode requires MNEMA_API_TOKEN")
	}
	// The limiter divides by RateLimit; zero or negative values would
	// produce a degenerate interval instead of disabling the limit.
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("config: rate limit %.2f must be positive", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("config: rate burst %d must be at least 1", c.Server.RateBurst)
	}
	shares := c.Retrieval.SummaryShare + c.Retrieval.EntityShare + c.Retrieval.MatchShare
	if shares < 0.99 || shares > 1.01 {
		return fmt.Errorf("config: token budget shares sum to %.2f, want 1.0", shares)
	}
	for _, band := range c.Decay.Bands {
		if band.Retention <= 0 || band.Retention > 1 {
			return fmt.Errorf("config: decay tier %s retention %.2f outside (0,1]", band.Tier, band.Retention)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
