package magnet

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Analysis is the result of one pipeline run.
type Analysis struct {
	Clusters         []ClusterSummary `json:"clusters"`
	Items            []EnrichedItem   `json:"items"`
	Ranked           []RankedItem     `json:"ranked"`
	Trends           []ClusterTrend   `json:"trends"`
	Algorithm        string           `json:"algorithm"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
}

// AnalyzeOptions selects per-run behaviour of Analyze.
type AnalyzeOptions struct {
	// K is the number of centroid clusters. Zero picks it from the data.
	K          int
	UseDensity bool
	// TopN limits the ranked list. Zero returns every item.
	TopN int
	// MaxAge drops items older than this. Zero keeps everything.
	MaxAge time.Duration
}

// Pipeline wires the assigner, summarizer, scorer and trend detector
// together.
type Pipeline struct {
	cfg        Config
	assigner   *Assigner
	summarizer *Summarizer
	scorer     *Scorer
	trends     *TrendDetector
	now        func() time.Time
	log        *zap.Logger
}

// NewPipeline creates a pipeline from cfg.
func NewPipeline(cfg Config, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		assigner:   NewAssigner(cfg.Clustering, log),
		summarizer: NewSummarizer(cfg.Summary, log),
		scorer:     NewScorer(cfg.Scoring, log),
		trends:     NewTrendDetector(cfg.Trend, log),
		now:        time.Now,
		log:        log,
	}
}

// DefaultOptions returns the options used when the caller sets none.
func (p *Pipeline) DefaultOptions() AnalyzeOptions {
	return AnalyzeOptions{
		UseDensity: p.cfg.Clustering.UseDensity,
		TopN:       50,
	}
}

// Cluster assigns cluster ids to items in place and summarizes the
// resulting clusters.
func (p *Pipeline) Cluster(items []EnrichedItem, k int, useDensity bool) ([]ClusterSummary, string) {
	_, algorithm := p.assigner.Assign(items, k, useDensity)
	if algorithm == AlgorithmNone {
		return []ClusterSummary{}, algorithm
	}
	return p.summarizer.SummarizeAll(items), algorithm
}

// Rank scores items. See Scorer.Rank.
func (p *Pipeline) Rank(items []EnrichedItem, topN int) []RankedItem {
	return p.scorer.Rank(items, topN)
}

// Trends detects cluster trends. See TrendDetector.Detect.
func (p *Pipeline) Trends(items []EnrichedItem, clusters []ClusterSummary) []ClusterTrend {
	return p.trends.Detect(items, clusters)
}

// Analyze clusters, ranks and trends a copy of items.
func (p *Pipeline) Analyze(items []EnrichedItem, opts AnalyzeOptions) Analysis {
	start := p.now()

	batch := make([]EnrichedItem, len(items))
	copy(batch, items)
	if opts.MaxAge > 0 {
		batch = FilterByAge(batch, opts.MaxAge, start)
		p.log.Info("Filtered items by age",
			zap.Duration("max_age", opts.MaxAge),
			zap.Int("kept", len(batch)),
			zap.Int("dropped", len(items)-len(batch)))
	}

	clusters, algorithm := p.Cluster(batch, opts.K, opts.UseDensity)
	ranked := p.Rank(batch, opts.TopN)
	trends := p.Trends(batch, clusters)

	return Analysis{
		Clusters:         clusters,
		Items:            batch,
		Ranked:           ranked,
		Trends:           trends,
		Algorithm:        algorithm,
		ProcessingTimeMs: p.now().Sub(start).Milliseconds(),
	}
}

// FilterByAge keeps items created within maxAge of now. Items without a
// timestamp are kept.
func FilterByAge(items []EnrichedItem, maxAge time.Duration, now time.Time) []EnrichedItem {
	cutoff := float64(now.Add(-maxAge).UnixNano()) / 1e9
	kept := make([]EnrichedItem, 0, len(items))
	for _, it := range items {
		if it.CreatedUTC == nil || *it.CreatedUTC >= cutoff {
			kept = append(kept, it)
		}
	}
	return kept
}

// NewRun packages an analysis for the store.
func NewRun(cfg Config, a Analysis, started, completed time.Time) (*Run, error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	resultJSON, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis: %w", err)
	}
	return &Run{
		StartedAt:     started,
		CompletedAt:   completed,
		Status:        "completed",
		TotalItems:    len(a.Items),
		TotalClusters: len(a.Clusters),
		Algorithm:     a.Algorithm,
		ConfigJSON:    string(configJSON),
		ResultJSON:    string(resultJSON),
	}, nil
}
