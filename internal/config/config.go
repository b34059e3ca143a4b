// Package config loads prospector configuration from YAML with environment
// overrides. A .env file next to the config is honored for API keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all prospector configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Research ResearchConfig `yaml:"research"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LLMConfig configures the model client.
type LLMConfig struct {
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	PlannerModel  string `yaml:"planner_model"`
	VerifierModel string `yaml:"verifier_model"`
	Timeout       string `yaml:"timeout"`
	MaxRetries    int    `yaml:"max_retries"`
}

// SearchConfig configures the search engines.
type SearchConfig struct {
	PerplexityAPIKey string `yaml:"perplexity_api_key"`
	TavilyAPIKey     string `yaml:"tavily_api_key"`
	MaxResults       int    `yaml:"max_results"` // per query, capped at 20
	Timeout          string `yaml:"timeout"`
}

// FetchConfig configures page fetching and extraction.
type FetchConfig struct {
	Timeout        string   `yaml:"timeout"`
	ChunkSize      int      `yaml:"chunk_size"`     // concurrent fetches per batch
	MaxBodyBytes   int64    `yaml:"max_body_bytes"` // per-page download cap
	UserAgent      string   `yaml:"user_agent"`
	BlockedDomains []string `yaml:"blocked_domains"` // extra entries on top of builtins
	DynamicFetch   bool     `yaml:"dynamic_fetch"`   // headless browser fallback
}

// ResearchConfig holds the discovery loop tunables.
type ResearchConfig struct {
	MaxIterations       int     `yaml:"max_iterations"`
	WorkerPageBudget    int     `yaml:"worker_page_budget"`
	MaxQueueSize        int     `yaml:"max_queue_size"`
	SaturationThreshold float64 `yaml:"saturation_threshold"`
	ScorerBatchSize     int     `yaml:"scorer_batch_size"`
	ScorerConcurrency   int     `yaml:"scorer_concurrency"`
	WorkerTimeout       string  `yaml:"worker_timeout"`
}

// StorageConfig configures the sqlite-backed stores.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, text
	Dir        string          `yaml:"dir"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "prospector",
		Version: "0.3.0",

		LLM: LLMConfig{
			Model:         "gemini-2.0-flash-exp",
			PlannerModel:  "gemini-1.5-pro",
			VerifierModel: "gemini-1.5-flash",
			Timeout:       "30s",
			MaxRetries:    5,
		},

		Search: SearchConfig{
			MaxResults: 5,
			Timeout:    "45s",
		},

		Fetch: FetchConfig{
			Timeout:      "90s",
			ChunkSize:    10,
			MaxBodyBytes: 1024 * 1024,
			UserAgent:    "Mozilla/5.0 (compatible; prospector/0.3; +https://github.com/prospector)",
			DynamicFetch: false,
		},

		Research: ResearchConfig{
			MaxIterations:       5,
			WorkerPageBudget:    50,
			MaxQueueSize:        100,
			SaturationThreshold: 0.05,
			ScorerBatchSize:     8,
			ScorerConcurrency:   3,
			WorkerTimeout:       "5m",
		},

		Storage: StorageConfig{
			DatabasePath: "data/prospector.db",
		},

		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
			Format:  "text",
			Dir:     "data/logs",
		},
	}
}

// Load loads configuration from a YAML file, then applies .env and
// environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// .env is best-effort: absence is not an error.
	_ = godotenv.Load()
	if path != "" {
		_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("PERPLEXITY_API_KEY"); key != "" {
		c.Search.PerplexityAPIKey = key
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Search.TavilyAPIKey = key
	}
	if v := os.Getenv("PERPLEXITY_MAX_RESULTS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if path := os.Getenv("PROSPECTOR_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if dir := os.Getenv("PROSPECTOR_LOG_DIR"); dir != "" {
		c.Logging.Dir = dir
	}

	// Search result count is bounded by the engine APIs.
	if c.Search.MaxResults > 20 {
		c.Search.MaxResults = 20
	}
}

// parseDuration is a helper with a fallback for misconfigured values.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the per-call model timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 30*time.Second)
}

// GetSearchTimeout returns the search call timeout.
func (c *Config) GetSearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 45*time.Second)
}

// GetFetchTimeout returns the per-page fetch timeout.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDuration(c.Fetch.Timeout, 90*time.Second)
}

// GetWorkerTimeout returns the per-iteration worker timeout.
func (c *Config) GetWorkerTimeout() time.Duration {
	return parseDuration(c.Research.WorkerTimeout, 5*time.Minute)
}
