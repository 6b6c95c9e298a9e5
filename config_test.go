package magnet

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	if cfg.Clustering.MaxClusters != 25 || cfg.Clustering.RandomSeed != 42 || cfg.Clustering.UseDensity {
		t.Errorf("unexpected clustering defaults: %+v", cfg.Clustering)
	}
	w := cfg.Scoring.Weights
	if w.Engagement != 0.35 || w.NegSentiment != 0.20 || w.Question != 0.15 ||
		w.Pain != 0.15 || w.Density != 0.10 || w.TimeDecay != 0.05 {
		t.Errorf("unexpected weights: %+v", w)
	}
	if cfg.Trend.BucketHours != 6 || cfg.Trend.MinSupport != 3 || cfg.Trend.Delta != 0.15 {
		t.Errorf("unexpected trend defaults: %+v", cfg.Trend)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max clusters", func(c *Config) { c.Clustering.MaxClusters = 0 }},
		{"nan weight", func(c *Config) { c.Scoring.Weights.Pain = math.NaN() }},
		{"negative density norm", func(c *Config) { c.Scoring.DensityNorm = -1 }},
		{"zero bucket hours", func(c *Config) { c.Trend.BucketHours = 0 }},
		{"max df above one", func(c *Config) { c.Summary.MaxDocFreq = 1.5 }},
		{"too many keywords", func(c *Config) { c.Summary.MaxKeywords = 6 }},
		{"zero half life", func(c *Config) { c.Scoring.HalfLifeHours = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
clustering:
  max_clusters: 7
  use_hdbscan: true
scoring:
  weights:
    w_e: 0.5
  density_norm: 10
trend:
  trend_delta: 0.3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Clustering.MaxClusters != 7 || !cfg.Clustering.UseDensity {
		t.Errorf("clustering not loaded: %+v", cfg.Clustering)
	}
	if cfg.Scoring.Weights.Engagement != 0.5 || cfg.Scoring.DensityNorm != 10 {
		t.Errorf("scoring not loaded: %+v", cfg.Scoring)
	}
	// Values absent from the file keep their defaults.
	if cfg.Scoring.Weights.NegSentiment != 0.20 || cfg.Trend.BucketHours != 6 {
		t.Errorf("defaults lost: %+v %+v", cfg.Scoring.Weights, cfg.Trend)
	}
	if cfg.Trend.Delta != 0.3 {
		t.Errorf("trend_delta = %v, want 0.3", cfg.Trend.Delta)
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("MAX_CLUSTERS", "9")
	t.Setenv("W_N", "0.4")
	t.Setenv("MAGNET_TREND_MIN_SUPPORT", "5")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Clustering.MaxClusters != 9 {
		t.Errorf("max_clusters = %d, want 9", cfg.Clustering.MaxClusters)
	}
	if cfg.Scoring.Weights.NegSentiment != 0.4 {
		t.Errorf("w_n = %v, want 0.4", cfg.Scoring.Weights.NegSentiment)
	}
	if cfg.Trend.MinSupport != 5 {
		t.Errorf("min_support = %d, want 5", cfg.Trend.MinSupport)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("api key not loaded")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("TREND_BUCKET_HOURS", "0")
	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for zero bucket hours")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
