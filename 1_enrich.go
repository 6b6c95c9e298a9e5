package magnet

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Annotation is what an Annotator knows about a piece of text.
type Annotation struct {
	Sentiment float64  `json:"sentiment" jsonschema:"description=Overall polarity from -1 (very negative) to 1 (very positive)"`
	Entities  []Entity `json:"entities" jsonschema:"description=Named entities with label PERSON ORG LOC PRODUCT TIME MONEY or EVENT"`
}

// Annotator supplies sentiment polarity and named entities for text.
type Annotator interface {
	Annotate(ctx context.Context, text string) (Annotation, error)
}

// Embedder maps texts to fixed-length vectors, one per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

const (
	maxCleanChars   = 5000
	unknownDecay    = 0.5
	secondsPerHour  = 3600.0
	defaultMaxChars = 4000
)

var (
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
	digitPattern        = regexp.MustCompile(`\d`)
)

var measurableGoalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\d+\s*(lbs|kg|pounds|kilograms)`),
	regexp.MustCompile(`(?i)\d+\s*(days|weeks|months|years)`),
	regexp.MustCompile(`(?i)\d+\s*(k|thousand|million)`),
	regexp.MustCompile(`(?i)\d+\s*%`),
	regexp.MustCompile(`(?i)\d+\s*(times|reps|sets)`),
	regexp.MustCompile(`(?i)\d+\s*(hours|minutes|seconds)`),
	regexp.MustCompile(`(?i)\d+\s*(miles|km|kilometers)`),
	regexp.MustCompile(`(?i)\d+\s*(dollars|usd)`),
	regexp.MustCompile(`(?i)\d+\s*(followers|subscribers|views)`),
	regexp.MustCompile(`(?i)\d+\s*(words|pages|chapters)`),
}

var questionMarkers = []string{"?", "how", "what", "why", "when", "where", "who"}

var painMarkers = []string{
	"struggling", "stuck", "can't", "cant", "craving", "anxious", "overwhelmed",
	"burnout", "plateau", "frustrated", "stressed", "exhausted", "tired",
	"difficult", "hard", "impossible", "failing", "losing", "wasted", "waste",
	"terrible", "awful", "hate", "desperate", "hopeless", "lost", "confused",
}

var howToMarkers = []string{
	"how to", "best way to", "step by step", "guide", "tutorial", "tips",
	"advice", "help", "learn", "teach", "explain", "show me", "what should",
	"recommend", "suggest", "strategy", "method", "approach", "technique",
}

// domainRules is ordered so that domain_tags come out in a stable order.
var domainRules = []struct {
	Domain   string
	Keywords []string
}{
	{"health", []string{
		"diet", "craving", "calorie", "macro", "sleep", "workout", "lifting",
		"tennis", "forehand", "serve", "fitness", "weight", "muscle", "cardio",
		"nutrition", "protein", "supplement", "exercise", "gym", "yoga",
	}},
	{"money", []string{
		"side hustle", "gumroad", "whop", "stripe", "income", "freelance",
		"client", "close rate", "revenue", "profit", "investment", "trading",
		"crypto", "bitcoin", "stocks", "salary", "budget", "savings", "debt",
	}},
	{"dating", []string{
		"approach", "match", "dm", "tinder", "hinge", "conversation", "texted",
		"date", "relationship", "girlfriend", "boyfriend", "crush", "flirting",
		"dating app", "swipe", "profile", "bumble", "okcupid",
	}},
	{"career", []string{
		"resume", "internship", "offer", "faang", "interview", "portfolio",
		"recruiter", "job", "career", "promotion", "salary", "company",
		"startup", "tech", "software", "engineering", "developer", "programmer",
	}},
	{"productivity", []string{
		"deep work", "focus", "pomodoro", "notion", "calendar", "deadline",
		"overwhelmed", "productivity", "efficiency", "time management", "task",
		"project", "goal", "planning", "organization", "schedule", "routine",
	}},
}

// CleanText removes URLs, markdown link targets and HTML markup, collapses
// whitespace and clips the result to 5000 characters.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = markdownLinkPattern.ReplaceAllString(text, "$1")
	text = urlPattern.ReplaceAllString(text, "")

	if strings.ContainsRune(text, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			text = doc.Text()
		}
	}

	text = strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))

	if runes := []rune(text); len(runes) > maxCleanChars {
		text = string(runes[:maxCleanChars]) + "..."
	}
	return text
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DeriveSignals computes the text markers used by the problem score.
func DeriveSignals(title, body string) Signals {
	combined := strings.ToLower(title + " " + body)

	isQuestion := strings.HasSuffix(strings.TrimSpace(title), "?") || containsAny(combined, questionMarkers)

	hasGoal := false
	for _, p := range measurableGoalPatterns {
		if p.MatchString(combined) {
			hasGoal = true
			break
		}
	}

	tags := []string{}
	for _, rule := range domainRules {
		if containsAny(combined, rule.Keywords) {
			tags = append(tags, rule.Domain)
		}
	}

	return Signals{
		IsQuestion:        flag(isQuestion),
		PainMarkers:       flag(containsAny(combined, painMarkers)),
		HowToMarkers:      flag(containsAny(combined, howToMarkers)),
		HasNumbers:        flag(digitPattern.MatchString(combined)),
		HasMeasurableGoal: flag(hasGoal),
		DomainTags:        tags,
	}
}

// TimeDecayWeight halves an item's weight every halfLifeHours. Unknown
// timestamps get 0.5 and items from the future are capped at 1.
func TimeDecayWeight(createdUTC *float64, halfLifeHours float64, now time.Time) float64 {
	if createdUTC == nil || halfLifeHours <= 0 {
		return unknownDecay
	}
	ageHours := (float64(now.UnixNano())/1e9 - *createdUTC) / secondsPerHour
	w := math.Pow(0.5, ageHours/halfLifeHours)
	return math.Max(0, math.Min(1, w))
}

// Enricher turns raw items into enriched items. Annotator and embedder are
// optional; without them items keep neutral sentiment and no embedding.
type Enricher struct {
	annotator Annotator
	embedder  Embedder
	scoring   ScoringConfig
	maxChars  int
	batchSize int
	now       func() time.Time
	log       *zap.Logger
}

// NewEnricher creates an enricher. annotator, embedder and log may be nil.
func NewEnricher(cfg Config, annotator Annotator, embedder Embedder, log *zap.Logger) *Enricher {
	if log == nil {
		log = zap.NewNop()
	}
	maxChars := cfg.Annotator.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	batch := cfg.Embedding.BatchSize
	if batch <= 0 {
		batch = 64
	}
	return &Enricher{
		annotator: annotator,
		embedder:  embedder,
		scoring:   cfg.Scoring,
		maxChars:  maxChars,
		batchSize: batch,
		now:       time.Now,
		log:       log,
	}
}

// Enrich normalizes text, derives signals, annotates, embeds and attaches
// time decay weights. Collaborator failures leave the affected items with
// neutral defaults; they are logged and never returned.
func (e *Enricher) Enrich(ctx context.Context, items []EnrichedItem) []EnrichedItem {
	if len(items) == 0 {
		return items
	}
	e.log.Info("Starting enrichment", zap.Int("items", len(items)))

	for i := range items {
		it := &items[i]
		it.Title = CleanText(it.Title)
		it.Body = CleanText(it.Body)
		signals := DeriveSignals(it.Title, it.Body)
		it.Signals = &signals
		if it.Entities == nil {
			it.Entities = []Entity{}
		}
	}

	if e.annotator != nil {
		e.annotate(ctx, items)
	}
	if e.embedder != nil {
		e.embed(ctx, items)
	}

	now := e.now()
	for i := range items {
		w := TimeDecayWeight(items[i].CreatedUTC, e.scoring.HalfLifeHours, now)
		items[i].TimeDecayWeight = &w
	}

	e.log.Info("Completed enrichment", zap.Int("items", len(items)))
	return items
}

func (e *Enricher) annotate(ctx context.Context, items []EnrichedItem) {
	failed := 0
	for i := range items {
		it := &items[i]
		neutral := 0.0
		text := it.text()
		if text == "" {
			it.Sentiment = &neutral
			continue
		}
		if runes := []rune(text); len(runes) > e.maxChars {
			text = string(runes[:e.maxChars])
		}

		ann, err := e.annotator.Annotate(ctx, text)
		if err != nil {
			failed++
			e.log.Warn("Failed to annotate item", zap.Int("index", i), zap.Error(err))
			it.Sentiment = &neutral
			continue
		}
		s := math.Max(-1, math.Min(1, ann.Sentiment))
		it.Sentiment = &s
		if ann.Entities != nil {
			it.Entities = ann.Entities
		}
	}
	if failed > 0 {
		e.log.Warn("Annotation degraded to neutral defaults", zap.Int("failed", failed))
	}
}

func (e *Enricher) embed(ctx context.Context, items []EnrichedItem) {
	var idx []int
	var texts []string
	for i := range items {
		if text := items[i].text(); text != "" {
			idx = append(idx, i)
			texts = append(texts, text)
		}
	}

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vectors, err := e.embedder.Embed(ctx, texts[start:end])
		if err == nil && len(vectors) != end-start {
			e.log.Warn("Embedder returned wrong number of vectors",
				zap.Int("want", end-start), zap.Int("got", len(vectors)))
			continue
		}
		if err != nil {
			e.log.Warn("Failed to embed batch", zap.Int("start", start), zap.Int("size", end-start), zap.Error(err))
			continue
		}
		for j, v := range vectors {
			items[idx[start+j]].Embedding = v
		}
	}
}
