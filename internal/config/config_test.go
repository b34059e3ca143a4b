package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Research.MaxQueueSize != 100 {
		t.Errorf("MaxQueueSize = %d, want 100", cfg.Research.MaxQueueSize)
	}
	if cfg.Research.SaturationThreshold != 0.05 {
		t.Errorf("SaturationThreshold = %v, want 0.05", cfg.Research.SaturationThreshold)
	}
	if cfg.Fetch.ChunkSize != 10 {
		t.Errorf("ChunkSize = %d, want 10", cfg.Fetch.ChunkSize)
	}
	if cfg.Research.ScorerConcurrency != 3 {
		t.Errorf("ScorerConcurrency = %d, want 3", cfg.Research.ScorerConcurrency)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
research:
  max_iterations: 2
  worker_page_budget: 10
search:
  max_results: 7
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PERPLEXITY_API_KEY", "pplx-test")
	t.Setenv("PERPLEXITY_MAX_RESULTS", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Research.MaxIterations != 2 {
		t.Errorf("MaxIterations = %d, want 2", cfg.Research.MaxIterations)
	}
	if cfg.Research.WorkerPageBudget != 10 {
		t.Errorf("WorkerPageBudget = %d, want 10", cfg.Research.WorkerPageBudget)
	}
	if cfg.Search.PerplexityAPIKey != "pplx-test" {
		t.Errorf("PerplexityAPIKey = %q, want env override", cfg.Search.PerplexityAPIKey)
	}
	// Env beats YAML for the result cap.
	if cfg.Search.MaxResults != 12 {
		t.Errorf("MaxResults = %d, want 12", cfg.Search.MaxResults)
	}
}

func TestSearchMaxResultsCapped(t *testing.T) {
	t.Setenv("PERPLEXITY_MAX_RESULTS", "50")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.MaxResults != 20 {
		t.Errorf("MaxResults = %d, want cap 20", cfg.Search.MaxResults)
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "garbage"
	if got := cfg.GetLLMTimeout(); got != 30*time.Second {
		t.Errorf("GetLLMTimeout = %v, want 30s fallback", got)
	}
	cfg.Research.WorkerTimeout = "2m"
	if got := cfg.GetWorkerTimeout(); got != 2*time.Minute {
		t.Errorf("GetWorkerTimeout = %v, want 2m", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Research.MaxIterations = 9
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Research.MaxIterations != 9 {
		t.Errorf("round trip lost MaxIterations: %d", loaded.Research.MaxIterations)
	}
}
