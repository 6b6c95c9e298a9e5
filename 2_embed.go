package magnet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder from cfg.
func NewOpenAIEmbedder(cfg EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed sends texts in a single request and returns vectors in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embedding, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call OpenAI API: %w", err)
	}

	if len(embedding.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embedding.Data))
	}

	vectors := make([][]float64, len(texts))
	for _, d := range embedding.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// EmbeddingCache stores vectors by cache key.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float64, bool, error)
	PutEmbedding(ctx context.Context, key, model string, vector []float64) error
}

// CachedEmbedder serves vectors from a cache and only sends misses to the
// wrapped embedder. It is safe for concurrent use.
type CachedEmbedder struct {
	next  Embedder
	cache EmbeddingCache
	model string
	mu    sync.Mutex
	log   *zap.Logger
}

// NewCachedEmbedder wraps next. model is part of the cache key so vectors of
// different models never mix.
func NewCachedEmbedder(next Embedder, cache EmbeddingCache, model string, log *zap.Logger) *CachedEmbedder {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedEmbedder{next: next, cache: cache, model: model, log: log}
}

func embeddingCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.Lock()
	for i, text := range texts {
		keys[i] = embeddingCacheKey(c.model, text)
		v, ok, err := c.cache.GetEmbedding(ctx, keys[i])
		if err != nil {
			c.log.Warn("Failed to read embedding cache", zap.Error(err))
		}
		if ok {
			vectors[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return vectors, nil
	}
	c.log.Debug("Embedding cache misses", zap.Int("hits", len(texts)-len(missTexts)), zap.Int("misses", len(missTexts)))

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missTexts), len(fresh))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, i := range missIdx {
		vectors[i] = fresh[j]
		if err := c.cache.PutEmbedding(ctx, keys[i], c.model, fresh[j]); err != nil {
			c.log.Warn("Failed to write embedding cache", zap.Error(err))
		}
	}
	return vectors, nil
}
