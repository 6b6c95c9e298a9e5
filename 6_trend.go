package magnet

import (
	"sort"
	"time"

	"github.com/cinar/indicator"
	"go.uber.org/zap"
)

// TrendDetector classifies each cluster's recent activity from bucketed
// item counts.
type TrendDetector struct {
	cfg TrendConfig
	now func() time.Time
	log *zap.Logger
}

// NewTrendDetector creates a detector.
func NewTrendDetector(cfg TrendConfig, log *zap.Logger) *TrendDetector {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TailLength <= 0 {
		cfg.TailLength = 10
	}
	return &TrendDetector{cfg: cfg, now: time.Now, log: log}
}

func bucketOf(ts float64, bucketHours int) int64 {
	width := float64(bucketHours) * secondsPerHour
	b := int64(ts / width)
	// Round towards negative infinity for timestamps before the epoch.
	if ts < 0 && float64(b)*width != ts {
		b--
	}
	return b
}

// movingAverage is the mean of the counts in the last windowHours/bucketHours
// buckets of series, or of the whole series if it is shorter.
func movingAverage(series []BucketCount, windowHours, bucketHours int) float64 {
	if len(series) == 0 {
		return 0
	}
	period := max(1, windowHours/bucketHours)
	counts := make([]float64, len(series))
	for i, p := range series {
		counts[i] = float64(p.Count)
	}
	sma := indicator.Sma(period, counts)
	return sma[len(sma)-1]
}

func (d *TrendDetector) classify(last int, short, long float64) Trend {
	if last < d.cfg.MinSupport {
		return TrendFlat
	}
	if long <= 0 && short > 0 {
		return TrendRising
	}
	switch {
	case short > (1+d.cfg.Delta)*long:
		return TrendRising
	case short < (1-d.cfg.Delta)*long:
		return TrendFalling
	}
	return TrendFlat
}

// Detect returns one trend per cluster present in items. Unclustered items
// are ignored and items without a timestamp count as now. When clusters is
// given, matching summaries supply keywords, representatives and size.
// Rising clusters come first, then by last bucket count; clusters that tie
// keep the order in which they first appear in items.
func (d *TrendDetector) Detect(items []EnrichedItem, clusters []ClusterSummary) []ClusterTrend {
	if len(items) == 0 {
		return []ClusterTrend{}
	}

	nowTS := float64(d.now().UnixNano()) / 1e9
	byCluster := make(map[int]map[int64]int)
	var order []int
	for i := range items {
		id := items[i].ClusterID
		if id < 0 {
			continue
		}
		ts := nowTS
		if items[i].CreatedUTC != nil {
			ts = *items[i].CreatedUTC
		}
		buckets, ok := byCluster[id]
		if !ok {
			buckets = make(map[int64]int)
			byCluster[id] = buckets
			order = append(order, id)
		}
		buckets[bucketOf(ts, d.cfg.BucketHours)]++
	}

	meta := make(map[int]ClusterSummary, len(clusters))
	for _, c := range clusters {
		if _, ok := meta[c.ClusterID]; !ok {
			meta[c.ClusterID] = c
		}
	}

	trends := make([]ClusterTrend, 0, len(order))
	for _, id := range order {
		series := make([]BucketCount, 0, len(byCluster[id]))
		for b, c := range byCluster[id] {
			series = append(series, BucketCount{Bucket: b, Count: c})
		}
		sort.Slice(series, func(i, j int) bool { return series[i].Bucket < series[j].Bucket })

		short := movingAverage(series, d.cfg.WindowShortH, d.cfg.BucketHours)
		long := movingAverage(series, d.cfg.WindowLongH, d.cfg.BucketHours)
		last := series[len(series)-1].Count

		tail := series[max(0, len(series)-d.cfg.TailLength):]

		ct := ClusterTrend{
			ClusterID:  id,
			Trend:      d.classify(last, short, long),
			LastCount:  last,
			SMAShort:   round(short, 3),
			SMALong:    round(long, 3),
			SeriesTail: tail,
		}
		if m, ok := meta[id]; ok {
			ct.TopKeywords = m.TopKeywords
			ct.Representatives = m.Representatives
			ct.Size = m.Size
		}
		trends = append(trends, ct)
	}

	sort.SliceStable(trends, func(i, j int) bool {
		ri, rj := trends[i].Trend == TrendRising, trends[j].Trend == TrendRising
		if ri != rj {
			return ri
		}
		return trends[i].LastCount > trends[j].LastCount
	})

	rising := 0
	for _, t := range trends {
		if t.Trend == TrendRising {
			rising++
		}
	}
	d.log.Info("Detected cluster trends", zap.Int("clusters", len(trends)), zap.Int("rising", rising))
	return trends
}
