package magnet

import (
	"testing"
	"time"
)

// fixedNow is three hours into a six hour bucket.
var fixedNow = time.Unix(6*3600*80000+3*3600, 0)

func newTestDetector(cfg TrendConfig) *TrendDetector {
	d := NewTrendDetector(cfg, nil)
	d.now = func() time.Time { return fixedNow }
	return d
}

func hoursAgo(h float64) *float64 {
	ts := float64(fixedNow.Unix()) - h*3600
	return &ts
}

func TestDetect_Empty(t *testing.T) {
	trends := newTestDetector(DefaultConfig().Trend).Detect(nil, nil)
	if trends == nil || len(trends) != 0 {
		t.Errorf("expected empty non-nil result, got %v", trends)
	}
}

func TestDetect_SameBucket(t *testing.T) {
	cfg := DefaultConfig().Trend
	cfg.MinSupport = 1

	items := []EnrichedItem{
		{ClusterID: 1, CreatedUTC: hoursAgo(1)},
		{ClusterID: 1, CreatedUTC: hoursAgo(2)},
	}

	trends := newTestDetector(cfg).Detect(items, nil)
	if len(trends) != 1 {
		t.Fatalf("expected 1 trend, got %d", len(trends))
	}
	if trends[0].ClusterID != 1 || trends[0].LastCount != 2 {
		t.Errorf("unexpected trend: %+v", trends[0])
	}
	if len(trends[0].SeriesTail) != 1 {
		t.Errorf("expected a single bucket, got %v", trends[0].SeriesTail)
	}
}

func TestDetect_SkipsUnclustered(t *testing.T) {
	items := []EnrichedItem{
		{ClusterID: Unclustered, CreatedUTC: hoursAgo(1)},
		{ClusterID: -5, CreatedUTC: hoursAgo(1)},
	}
	if trends := newTestDetector(DefaultConfig().Trend).Detect(items, nil); len(trends) != 0 {
		t.Errorf("expected no trends, got %+v", trends)
	}
}

func TestDetect_MissingTimestampIsNow(t *testing.T) {
	cfg := DefaultConfig().Trend
	cfg.MinSupport = 1

	items := []EnrichedItem{
		{ClusterID: 0},
		{ClusterID: 0, CreatedUTC: hoursAgo(0.5)},
	}
	trends := newTestDetector(cfg).Detect(items, nil)
	if trends[0].LastCount != 2 {
		t.Errorf("last_count = %d, want 2", trends[0].LastCount)
	}
	wantBucket := bucketOf(float64(fixedNow.Unix()), cfg.BucketHours)
	if trends[0].SeriesTail[0].Bucket != wantBucket {
		t.Errorf("bucket = %d, want %d", trends[0].SeriesTail[0].Bucket, wantBucket)
	}
}

func TestMovingAverage(t *testing.T) {
	series := []BucketCount{{1, 2}, {2, 4}, {5, 6}, {9, 8}}

	tests := []struct {
		name   string
		window int
		want   float64
	}{
		{"window shorter than bucket uses one bucket", 3, 8},
		{"two buckets", 12, 7},
		{"window larger than series is the whole mean", 600, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertClose(t, "sma", movingAverage(series, tt.window, 6), tt.want)
		})
	}

	assertClose(t, "empty", movingAverage(nil, 24, 6), 0)
}

func TestClassify(t *testing.T) {
	d := newTestDetector(DefaultConfig().Trend)

	tests := []struct {
		name        string
		last        int
		short, long float64
		want        Trend
	}{
		{"below support is flat", 2, 10, 1, TrendFlat},
		{"emergence from zero", 3, 1, 0, TrendRising},
		{"short above band", 5, 1.2, 1, TrendRising},
		{"short below band", 5, 0.8, 1, TrendFalling},
		{"inside band", 5, 1.1, 1, TrendFlat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.classify(tt.last, tt.short, tt.long); got != tt.want {
				t.Errorf("classify(%d, %v, %v) = %s, want %s", tt.last, tt.short, tt.long, got, tt.want)
			}
		})
	}
}

func clusterAt(id int, countsByHoursAgo map[float64]int) []EnrichedItem {
	var items []EnrichedItem
	for h, n := range countsByHoursAgo {
		for range n {
			items = append(items, EnrichedItem{ClusterID: id, CreatedUTC: hoursAgo(h)})
		}
	}
	return items
}

func TestDetect_RisingAndFalling(t *testing.T) {
	cfg := DefaultConfig().Trend

	// Buckets are 6h wide: the short window covers 4 buckets, the long
	// window 12. Each hours-ago value below lands in its own bucket.
	older := []float64{70, 64, 58, 52, 46, 40}

	risingCounts := map[float64]int{1: 6}
	fallingCounts := map[float64]int{1: 3, 7: 3, 13: 3, 19: 3}
	for _, h := range older {
		risingCounts[h] = 1
		fallingCounts[h] = 9
	}

	var items []EnrichedItem
	items = append(items, clusterAt(8, fallingCounts)...)
	items = append(items, clusterAt(7, risingCounts)...)

	trends := newTestDetector(cfg).Detect(items, nil)
	if len(trends) != 2 {
		t.Fatalf("expected 2 trends, got %d", len(trends))
	}

	if trends[0].ClusterID != 7 || trends[0].Trend != TrendRising {
		t.Errorf("first trend = %+v, want cluster 7 rising", trends[0])
	}
	if trends[1].ClusterID != 8 || trends[1].Trend != TrendFalling {
		t.Errorf("second trend = %+v, want cluster 8 falling", trends[1])
	}

	// Series [1 1 1 1 1 1 6]: short is the mean of the last four buckets,
	// long of the whole series.
	assertClose(t, "cluster 7 sma_short", trends[0].SMAShort, 2.25)
	assertClose(t, "cluster 7 sma_long", trends[0].SMALong, 1.714)
	assertClose(t, "cluster 8 sma_short", trends[1].SMAShort, 3)
	assertClose(t, "cluster 8 sma_long", trends[1].SMALong, 6.6)
}

func TestDetect_Ordering(t *testing.T) {
	cfg := DefaultConfig().Trend
	cfg.MinSupport = 1

	// Single-bucket clusters are all flat, so only last_count and first
	// appearance decide the order.
	var items []EnrichedItem
	items = append(items, clusterAt(3, map[float64]int{1: 2})...)
	items = append(items, clusterAt(1, map[float64]int{1: 5})...)
	items = append(items, clusterAt(2, map[float64]int{1: 2})...)

	trends := newTestDetector(cfg).Detect(items, nil)
	want := []int{1, 3, 2}
	for i, id := range want {
		if trends[i].ClusterID != id {
			t.Fatalf("order = %v, want %v", trendIDs(trends), want)
		}
	}
}

func trendIDs(trends []ClusterTrend) []int {
	ids := make([]int, len(trends))
	for i, tr := range trends {
		ids[i] = tr.ClusterID
	}
	return ids
}

func TestDetect_TailLength(t *testing.T) {
	cfg := DefaultConfig().Trend

	counts := make(map[float64]int)
	for b := range 15 {
		counts[float64(b*6)+1] = b + 1
	}
	trends := newTestDetector(cfg).Detect(clusterAt(0, counts), nil)

	tail := trends[0].SeriesTail
	if len(tail) != 10 {
		t.Fatalf("tail length = %d, want 10", len(tail))
	}
	for i := 1; i < len(tail); i++ {
		if tail[i].Bucket <= tail[i-1].Bucket {
			t.Errorf("tail not chronological: %v", tail)
		}
	}
	// The most recent bucket (1h ago) held 1 item.
	if trends[0].LastCount != 1 || tail[len(tail)-1].Count != 1 {
		t.Errorf("last_count = %d, tail end = %+v", trends[0].LastCount, tail[len(tail)-1])
	}
}

func TestDetect_Metadata(t *testing.T) {
	cfg := DefaultConfig().Trend
	cfg.MinSupport = 1

	items := []EnrichedItem{
		{ClusterID: 0, CreatedUTC: hoursAgo(1)},
		{ClusterID: 1, CreatedUTC: hoursAgo(1)},
	}
	clusters := []ClusterSummary{
		{ClusterID: 0, Size: 1, TopKeywords: []string{"keto"}, Representatives: []string{"keto help"}},
	}

	trends := newTestDetector(cfg).Detect(items, clusters)
	for _, tr := range trends {
		switch tr.ClusterID {
		case 0:
			if tr.Size != 1 || !equalStrings(tr.TopKeywords, []string{"keto"}) {
				t.Errorf("metadata not joined: %+v", tr)
			}
		case 1:
			if tr.Size != 0 || tr.TopKeywords != nil || tr.Representatives != nil {
				t.Errorf("unexpected metadata: %+v", tr)
			}
		}
	}
}

func TestBucketOf(t *testing.T) {
	tests := []struct {
		ts   float64
		want int64
	}{
		{0, 0},
		{21599, 0},
		{21600, 1},
		{-1, -1},
	}
	for _, tt := range tests {
		if got := bucketOf(tt.ts, 6); got != tt.want {
			t.Errorf("bucketOf(%v) = %d, want %d", tt.ts, got, tt.want)
		}
	}
}
