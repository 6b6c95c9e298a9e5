package magnet

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Summarizer describes clusters by keywords and representative titles.
type Summarizer struct {
	cfg   SummaryConfig
	tfidf TFIDF
	log   *zap.Logger
}

// NewSummarizer creates a summarizer.
func NewSummarizer(cfg SummaryConfig, log *zap.Logger) *Summarizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Summarizer{
		cfg:   cfg,
		tfidf: TFIDF{MaxFeatures: cfg.MaxFeatures, MaxDocFreq: cfg.MaxDocFreq},
		log:   log,
	}
}

// Summarize builds the summary of one cluster from its members.
func (s *Summarizer) Summarize(clusterID int, members []EnrichedItem) ClusterSummary {
	docs := make([]string, len(members))
	for i := range members {
		docs[i] = members[i].text()
	}

	return ClusterSummary{
		ClusterID:       clusterID,
		Size:            len(members),
		TopKeywords:     s.tfidf.TopTerms(docs, s.cfg.MaxKeywords),
		Representatives: s.representatives(members),
	}
}

func engagement(it *EnrichedItem) float64 {
	e := float64(it.scoreValue() + 2*it.commentsValue())
	if it.TimeDecayWeight != nil {
		e *= *it.TimeDecayWeight
	}
	return e
}

// representatives returns the titles of the most engaging members. Untitled
// members still take one of the slots; their titles are dropped afterwards.
func (s *Summarizer) representatives(members []EnrichedItem) []string {
	order := make([]int, len(members))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return engagement(&members[order[a]]) > engagement(&members[order[b]])
	})
	if len(order) > s.cfg.MaxRepresentatives {
		order = order[:s.cfg.MaxRepresentatives]
	}

	titles := []string{}
	for _, i := range order {
		if strings.TrimSpace(members[i].Title) != "" {
			titles = append(titles, members[i].Title)
		}
	}
	return titles
}

// SummarizeAll summarizes every cluster present in items, largest first.
// Unclustered items are ignored. Clusters of equal size keep ascending id
// order.
func (s *Summarizer) SummarizeAll(items []EnrichedItem) []ClusterSummary {
	groups := make(map[int][]EnrichedItem)
	var ids []int
	for i := range items {
		id := items[i].ClusterID
		if id < 0 {
			continue
		}
		if _, ok := groups[id]; !ok {
			ids = append(ids, id)
		}
		groups[id] = append(groups[id], items[i])
	}
	sort.Ints(ids)

	summaries := make([]ClusterSummary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, s.Summarize(id, groups[id]))
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Size > summaries[j].Size
	})

	s.log.Info("Summarized clusters", zap.Int("clusters", len(summaries)))
	return summaries
}
