package magnet

import (
	"encoding/json"
	"fmt"
	"os"
)

// Unclustered is the cluster id of an item that never entered clustering.
const Unclustered = -1

// Entity is a named entity found in an item's text.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Signals holds the 0/1 text markers derived during normalization.
type Signals struct {
	IsQuestion        int      `json:"is_question"`
	PainMarkers       int      `json:"pain_markers"`
	HowToMarkers      int      `json:"how_to_markers"`
	HasNumbers        int      `json:"has_numbers"`
	HasMeasurableGoal int      `json:"has_measurable_goal"`
	DomainTags        []string `json:"domain_tags"`
}

// EnrichedItem is one forum post or news item after enrichment.
// Optional numeric fields are pointers so that "missing" and "zero" stay
// distinguishable; the stages apply their own neutral defaults.
type EnrichedItem struct {
	Source          string    `json:"source"`
	Title           string    `json:"title"`
	Body            string    `json:"body,omitempty"`
	URL             string    `json:"url,omitempty"`
	CreatedUTC      *float64  `json:"created_utc,omitempty"`
	Score           *int      `json:"score,omitempty"`
	NumComments     *int      `json:"num_comments,omitempty"`
	Sentiment       *float64  `json:"sentiment,omitempty"`
	Entities        []Entity  `json:"entities"`
	Embedding       []float64 `json:"embedding,omitempty"`
	Signals         *Signals  `json:"signals,omitempty"`
	TimeDecayWeight *float64  `json:"time_decay_weight,omitempty"`
	ClusterID       int       `json:"cluster_id"`
}

func (it *EnrichedItem) scoreValue() int {
	if it.Score == nil {
		return 0
	}
	return *it.Score
}

func (it *EnrichedItem) commentsValue() int {
	if it.NumComments == nil {
		return 0
	}
	return *it.NumComments
}

func (it *EnrichedItem) sentimentValue() float64 {
	if it.Sentiment == nil {
		return 0
	}
	return *it.Sentiment
}

// text is the title and body joined by a space, as fed to keyword extraction
// and annotators.
func (it *EnrichedItem) text() string {
	switch {
	case it.Title == "":
		return it.Body
	case it.Body == "":
		return it.Title
	}
	return it.Title + " " + it.Body
}

// ClusterSummary describes one cluster produced by the assigner.
type ClusterSummary struct {
	ClusterID       int      `json:"cluster_id"`
	Size            int      `json:"size"`
	TopKeywords     []string `json:"top_keywords"`
	Representatives []string `json:"representatives"`
}

// Trend is the direction of a cluster's recent activity.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendFlat    Trend = "flat"
)

// BucketCount is one point of a cluster's sparse time series. It is encoded
// as a two element JSON array: [bucket_id, count].
type BucketCount struct {
	Bucket int64
	Count  int
}

func (b BucketCount) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{b.Bucket, int64(b.Count)})
}

func (b *BucketCount) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("failed to parse bucket count: %w", err)
	}
	b.Bucket = pair[0]
	b.Count = int(pair[1])
	return nil
}

// ClusterTrend is the trend classification of one cluster.
type ClusterTrend struct {
	ClusterID       int           `json:"cluster_id"`
	Trend           Trend         `json:"trend"`
	LastCount       int           `json:"last_count"`
	SMAShort        float64       `json:"sma_short"`
	SMALong         float64       `json:"sma_long"`
	SeriesTail      []BucketCount `json:"series_tail"`
	TopKeywords     []string      `json:"top_keywords,omitempty"`
	Representatives []string      `json:"representatives,omitempty"`
	Size            int           `json:"size,omitempty"`
}

// Breakdown explains how a problem score was put together.
type Breakdown struct {
	EngagementZ    float64 `json:"engagement_z"`
	NegSentiment   float64 `json:"neg_sentiment"`
	IsQuestion     float64 `json:"is_question"`
	PainMarkers    float64 `json:"pain_markers"`
	ClusterDensity float64 `json:"cluster_density"`
	TimeDecay      float64 `json:"time_decay"`
	Weights        Weights `json:"weights"`
}

// RankedItem is an item with its problem score and the explanation for it.
type RankedItem struct {
	EnrichedItem
	ProblemScore float64   `json:"problem_score"`
	Why          Breakdown `json:"why"`
}

// itemJSON lets decoding tell an absent cluster_id apart from cluster 0.
type itemJSON struct {
	EnrichedItem
	ClusterID *int `json:"cluster_id"`
}

// DecodeItems parses a JSON array of items. Items without a cluster_id are
// marked Unclustered.
func DecodeItems(data []byte) ([]EnrichedItem, error) {
	var raw []itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse items: %w", err)
	}
	items := make([]EnrichedItem, len(raw))
	for i, r := range raw {
		items[i] = r.EnrichedItem
		items[i].ClusterID = Unclustered
		if r.ClusterID != nil {
			items[i].ClusterID = *r.ClusterID
		}
	}
	return items, nil
}

// ReadItems loads items from a JSON file. The file may hold either a bare
// array or an object with an "items" array (the shape written by the
// cluster and analyze commands).
func ReadItems(path string) ([]EnrichedItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items file: %w", err)
	}
	var wrapped struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Items) > 0 {
		data = wrapped.Items
	}
	return DecodeItems(data)
}

// writeJSON writes v as indented JSON to path, or to stdout when path is
// empty.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	if path == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
