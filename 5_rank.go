package magnet

import (
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Scorer computes the problem score of every item in a batch.
type Scorer struct {
	cfg ScoringConfig
	log *zap.Logger
}

// NewScorer creates a scorer.
func NewScorer(cfg ScoringConfig, log *zap.Logger) *Scorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{cfg: cfg, log: log}
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// engagementStats returns the population mean and standard deviation of
// score+comments. The values are sorted first so the result does not depend
// on batch order.
func engagementStats(items []EnrichedItem) (mean, std float64) {
	values := make([]float64, len(items))
	for i := range items {
		values[i] = float64(items[i].scoreValue() + items[i].commentsValue())
	}
	sort.Float64s(values)
	return stat.PopMeanStdDev(values, nil)
}

// Rank scores items and returns them by problem score, highest first.
// topN <= 0 returns every item.
func (s *Scorer) Rank(items []EnrichedItem, topN int) []RankedItem {
	if len(items) == 0 {
		return []RankedItem{}
	}

	mean, std := engagementStats(items)
	std = math.Max(std, 1.0)

	clusterSizes := make(map[int]int)
	for i := range items {
		clusterSizes[items[i].ClusterID]++
	}

	w := s.cfg.Weights
	ranked := make([]RankedItem, len(items))
	for i := range items {
		it := items[i]

		engagementZ := (float64(it.scoreValue()+it.commentsValue()) - mean) / std
		negSentiment := math.Max(0, -it.sentimentValue())

		var isQuestion, pain float64
		if it.Signals != nil {
			isQuestion = float64(it.Signals.IsQuestion)
			pain = float64(it.Signals.PainMarkers)
		}

		density := 0.0
		if size := clusterSizes[it.ClusterID]; s.cfg.DensityNorm > 0 && size > 0 {
			density = math.Min(1.0, float64(size)/s.cfg.DensityNorm)
		}

		timeDecay := unknownDecay
		if it.TimeDecayWeight != nil {
			timeDecay = *it.TimeDecayWeight
		}

		score := w.Engagement*engagementZ +
			w.NegSentiment*negSentiment +
			w.Question*isQuestion +
			w.Pain*pain +
			w.Density*density +
			w.TimeDecay*timeDecay

		ranked[i] = RankedItem{
			EnrichedItem: it,
			ProblemScore: round(score, 6),
			Why: Breakdown{
				EngagementZ:    round(engagementZ, 3),
				NegSentiment:   round(negSentiment, 3),
				IsQuestion:     isQuestion,
				PainMarkers:    pain,
				ClusterDensity: round(density, 3),
				TimeDecay:      round(timeDecay, 3),
				Weights:        w,
			},
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ProblemScore > ranked[j].ProblemScore
	})

	if topN > 0 && topN < len(ranked) {
		ranked = ranked[:topN]
	}

	s.log.Info("Ranked items", zap.Int("items", len(items)), zap.Int("returned", len(ranked)))
	return ranked
}
