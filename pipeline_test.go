package magnet

import (
	"strings"
	"testing"
	"time"
)

func TestPipeline_Analyze(t *testing.T) {
	items := twoGroupItems()
	for i := range items {
		items[i].ClusterID = Unclustered
	}

	a := NewPipeline(DefaultConfig(), nil).Analyze(items, AnalyzeOptions{K: 2, TopN: 3})

	if a.Algorithm != AlgorithmKMeans {
		t.Errorf("expected KMeans, got %q", a.Algorithm)
	}
	if len(a.Clusters) != 2 || len(a.Trends) != 2 || len(a.Ranked) != 3 || len(a.Items) != 10 {
		t.Fatalf("unexpected shape: %d clusters, %d trends, %d ranked, %d items",
			len(a.Clusters), len(a.Trends), len(a.Ranked), len(a.Items))
	}
	for i, it := range a.Items {
		if it.ClusterID < 0 {
			t.Errorf("item %d not clustered", i)
		}
	}
	for i, it := range items {
		if it.ClusterID != Unclustered {
			t.Errorf("input item %d was mutated: cluster %d", i, it.ClusterID)
		}
	}
	for _, tr := range a.Trends {
		if tr.Size != 5 || len(tr.Representatives) != 3 {
			t.Errorf("expected trend joined with its summary, got %+v", tr)
		}
	}
}

func TestPipeline_AnalyzeWithoutEmbeddings(t *testing.T) {
	items := []EnrichedItem{
		{Title: "one", ClusterID: Unclustered},
		{Title: "two", ClusterID: Unclustered},
	}
	a := NewPipeline(DefaultConfig(), nil).Analyze(items, AnalyzeOptions{})

	if a.Algorithm != AlgorithmNone {
		t.Errorf("expected none, got %q", a.Algorithm)
	}
	if a.Clusters == nil || len(a.Clusters) != 0 || len(a.Trends) != 0 {
		t.Errorf("expected no clusters or trends, got %+v %+v", a.Clusters, a.Trends)
	}
	if len(a.Ranked) != 2 {
		t.Errorf("expected every item ranked with TopN 0, got %d", len(a.Ranked))
	}
}

func TestPipeline_MaxAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := func(hoursAgo float64) *float64 {
		v := float64(now.Unix()) - hoursAgo*secondsPerHour
		return &v
	}
	items := []EnrichedItem{
		{Title: "fresh", CreatedUTC: ts(1), ClusterID: Unclustered},
		{Title: "stale", CreatedUTC: ts(100), ClusterID: Unclustered},
		{Title: "undated", ClusterID: Unclustered},
	}

	p := NewPipeline(DefaultConfig(), nil)
	p.now = func() time.Time { return now }
	a := p.Analyze(items, AnalyzeOptions{MaxAge: 48 * time.Hour})

	if len(a.Items) != 2 || a.Items[0].Title != "fresh" || a.Items[1].Title != "undated" {
		t.Errorf("expected fresh and undated items, got %+v", a.Items)
	}
	if len(items) != 3 {
		t.Errorf("input slice changed length")
	}
}

func TestPipeline_DefaultOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clustering.UseDensity = true
	opts := NewPipeline(cfg, nil).DefaultOptions()
	if !opts.UseDensity || opts.TopN != 50 || opts.K != 0 {
		t.Errorf("unexpected defaults %+v", opts)
	}
}

func TestNewRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.APIKey = "sk-secret"

	a := NewPipeline(cfg, nil).Analyze(twoGroupItems(), AnalyzeOptions{K: 2})
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run, err := NewRun(cfg, a, started, started.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != "completed" || run.TotalItems != 10 || run.TotalClusters != 2 || run.Algorithm != AlgorithmKMeans {
		t.Errorf("unexpected run %+v", run)
	}
	if strings.Contains(run.ConfigJSON, "sk-secret") {
		t.Error("config snapshot leaks the API key")
	}

	decoded, err := run.Analysis()
	if err != nil {
		t.Fatalf("failed to decode analysis: %v", err)
	}
	if len(decoded.Ranked) != len(a.Ranked) || decoded.Ranked[0].ProblemScore != a.Ranked[0].ProblemScore {
		t.Errorf("decoded ranking differs from the in-memory analysis")
	}
}
