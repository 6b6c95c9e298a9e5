package magnet

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds every recognized option. It is built once by LoadConfig and
// handed to component constructors by value.
type Config struct {
	Clustering ClusteringConfig `yaml:"clustering" envconfig:"CLUSTERING"`
	Summary    SummaryConfig    `yaml:"summary" envconfig:"SUMMARY"`
	Scoring    ScoringConfig    `yaml:"scoring" envconfig:"SCORING"`
	Trend      TrendConfig      `yaml:"trend" envconfig:"TREND"`
	Embedding  EmbeddingConfig  `yaml:"embedding" envconfig:"EMBEDDING"`
	Annotator  AnnotatorConfig  `yaml:"annotator" envconfig:"ANNOTATOR"`
	Storage    StorageConfig    `yaml:"storage" envconfig:"STORAGE"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
}

// ClusteringConfig configures the cluster assigner.
type ClusteringConfig struct {
	MaxClusters    int   `yaml:"max_clusters" envconfig:"MAX_CLUSTERS"`
	RandomSeed     int64 `yaml:"clustering_random_seed" envconfig:"CLUSTERING_RANDOM_SEED"`
	UseDensity     bool  `yaml:"use_hdbscan" envconfig:"USE_HDBSCAN"`
	MinClusterSize int   `yaml:"clustering_min_cluster_size" envconfig:"CLUSTERING_MIN_CLUSTER_SIZE"`
	MinSamples     int   `yaml:"clustering_min_samples" envconfig:"CLUSTERING_MIN_SAMPLES"`
	NInit          int   `yaml:"kmeans_n_init" envconfig:"KMEANS_N_INIT"`
	MaxIterations  int   `yaml:"kmeans_max_iterations" envconfig:"KMEANS_MAX_ITERATIONS"`
}

// SummaryConfig configures keyword extraction and representative selection.
type SummaryConfig struct {
	MaxFeatures        int     `yaml:"tfidf_max_features" envconfig:"TFIDF_MAX_FEATURES"`
	MaxDocFreq         float64 `yaml:"tfidf_max_df" envconfig:"TFIDF_MAX_DF"`
	MaxKeywords        int     `yaml:"max_keywords" envconfig:"MAX_KEYWORDS"`
	MaxRepresentatives int     `yaml:"max_representatives" envconfig:"MAX_REPRESENTATIVES"`
}

// Weights is the weight vector of the problem score.
type Weights struct {
	Engagement   float64 `json:"w_e" yaml:"w_e" envconfig:"W_E"`
	NegSentiment float64 `json:"w_n" yaml:"w_n" envconfig:"W_N"`
	Question     float64 `json:"w_q" yaml:"w_q" envconfig:"W_Q"`
	Pain         float64 `json:"w_p" yaml:"w_p" envconfig:"W_P"`
	Density      float64 `json:"w_d" yaml:"w_d" envconfig:"W_D"`
	TimeDecay    float64 `json:"w_t" yaml:"w_t" envconfig:"W_T"`
}

func (w Weights) values() []float64 {
	return []float64{w.Engagement, w.NegSentiment, w.Question, w.Pain, w.Density, w.TimeDecay}
}

// ScoringConfig configures the problem scorer and time decay.
type ScoringConfig struct {
	Weights       Weights `yaml:"weights" envconfig:"WEIGHTS"`
	DensityNorm   float64 `yaml:"density_norm" envconfig:"DENSITY_NORM"`
	HalfLifeHours float64 `yaml:"half_life_hours" envconfig:"HALF_LIFE_HOURS"`
}

// TrendConfig configures the trend detector. All windows are in hours.
type TrendConfig struct {
	BucketHours  int     `yaml:"trend_bucket_hours" envconfig:"TREND_BUCKET_HOURS"`
	WindowShortH int     `yaml:"trend_window_short_h" envconfig:"TREND_WINDOW_SHORT_H"`
	WindowLongH  int     `yaml:"trend_window_long_h" envconfig:"TREND_WINDOW_LONG_H"`
	Delta        float64 `yaml:"trend_delta" envconfig:"TREND_DELTA"`
	MinSupport   int     `yaml:"min_support" envconfig:"MIN_SUPPORT"`
	TailLength   int     `yaml:"series_tail_length" envconfig:"SERIES_TAIL_LENGTH"`
}

// EmbeddingConfig configures the OpenAI embedding collaborator.
type EmbeddingConfig struct {
	Model     string `yaml:"model" envconfig:"EMBEDDING_MODEL"`
	BatchSize int    `yaml:"batch_size" envconfig:"EMBEDDING_BATCH_SIZE"`
	BaseURL   string `yaml:"base_url" envconfig:"OPENAI_BASE_URL"`
	APIKey    string `json:"-" yaml:"-" envconfig:"OPENAI_API_KEY"`
}

// AnnotatorConfig configures the sentiment and entity collaborator.
type AnnotatorConfig struct {
	Model    string `yaml:"model" envconfig:"ANNOTATOR_MODEL"`
	MaxChars int    `yaml:"max_chars" envconfig:"ANNOTATOR_MAX_CHARS"`
}

// StorageConfig points at the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path" envconfig:"DATABASE_PATH"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`
	File  string `yaml:"file" envconfig:"LOG_FILE"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Clustering: ClusteringConfig{
			MaxClusters:    25,
			RandomSeed:     42,
			UseDensity:     false,
			MinClusterSize: 3,
			MinSamples:     5,
			NInit:          10,
			MaxIterations:  300,
		},
		Summary: SummaryConfig{
			MaxFeatures:        1000,
			MaxDocFreq:         0.95,
			MaxKeywords:        5,
			MaxRepresentatives: 3,
		},
		Scoring: ScoringConfig{
			Weights: Weights{
				Engagement:   0.35,
				NegSentiment: 0.20,
				Question:     0.15,
				Pain:         0.15,
				Density:      0.10,
				TimeDecay:    0.05,
			},
			DensityNorm:   20.0,
			HalfLifeHours: 72,
		},
		Trend: TrendConfig{
			BucketHours:  6,
			WindowShortH: 24,
			WindowLongH:  72,
			Delta:        0.15,
			MinSupport:   3,
			TailLength:   10,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			BatchSize: 64,
		},
		Annotator: AnnotatorConfig{
			Model:    "gpt-4.1-mini",
			MaxChars: 4000,
		},
		Storage: StorageConfig{
			Path: "magnet.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig starts from DefaultConfig, applies the YAML file at path (if
// path is not empty) and then environment variables. Environment variables
// may be given either with their group prefix (MAGNET_TREND_TREND_DELTA) or
// bare (TREND_DELTA).
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("MAGNET", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate reports options that would make a stage divide by zero or
// produce NaN scores. It does not clamp or repair anything.
func (c *Config) Validate() error {
	var errs []error

	if c.Clustering.MaxClusters < 1 {
		errs = append(errs, fmt.Errorf("max_clusters must be at least 1, got %d", c.Clustering.MaxClusters))
	}
	if c.Clustering.NInit < 1 {
		errs = append(errs, fmt.Errorf("kmeans_n_init must be at least 1, got %d", c.Clustering.NInit))
	}
	if c.Clustering.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("kmeans_max_iterations must be at least 1, got %d", c.Clustering.MaxIterations))
	}
	if c.Clustering.MinSamples < 1 || c.Clustering.MinClusterSize < 1 {
		errs = append(errs, errors.New("clustering_min_samples and clustering_min_cluster_size must be positive"))
	}

	if c.Summary.MaxDocFreq <= 0 || c.Summary.MaxDocFreq > 1 {
		errs = append(errs, fmt.Errorf("tfidf_max_df must be in (0, 1], got %g", c.Summary.MaxDocFreq))
	}
	if c.Summary.MaxKeywords < 0 || c.Summary.MaxKeywords > 5 {
		errs = append(errs, fmt.Errorf("max_keywords must be in [0, 5], got %d", c.Summary.MaxKeywords))
	}
	if c.Summary.MaxRepresentatives < 0 || c.Summary.MaxRepresentatives > 3 {
		errs = append(errs, fmt.Errorf("max_representatives must be in [0, 3], got %d", c.Summary.MaxRepresentatives))
	}

	for _, w := range c.Scoring.Weights.values() {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			errs = append(errs, fmt.Errorf("scoring weights must be finite, got %+v", c.Scoring.Weights))
			break
		}
	}
	if math.IsNaN(c.Scoring.DensityNorm) || c.Scoring.DensityNorm < 0 {
		errs = append(errs, fmt.Errorf("density_norm must be non-negative, got %g", c.Scoring.DensityNorm))
	}
	if c.Scoring.HalfLifeHours <= 0 {
		errs = append(errs, fmt.Errorf("half_life_hours must be positive, got %g", c.Scoring.HalfLifeHours))
	}

	if c.Trend.BucketHours < 1 {
		errs = append(errs, fmt.Errorf("trend_bucket_hours must be at least 1, got %d", c.Trend.BucketHours))
	}
	if c.Trend.WindowShortH < 0 || c.Trend.WindowLongH < 0 {
		errs = append(errs, errors.New("trend windows must not be negative"))
	}
	if c.Trend.Delta < 0 || math.IsNaN(c.Trend.Delta) {
		errs = append(errs, fmt.Errorf("trend_delta must be non-negative, got %g", c.Trend.Delta))
	}
	if c.Trend.TailLength < 1 {
		errs = append(errs, fmt.Errorf("series_tail_length must be at least 1, got %d", c.Trend.TailLength))
	}

	return errors.Join(errs...)
}
