package magnet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var gotInput []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotInput = req.Input

		// Reply out of order; the index decides placement.
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float64{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float64{1, 0}},
			},
			"usage": map[string]any{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(EmbeddingConfig{APIKey: "test", BaseURL: server.URL + "/", Model: "text-embedding-3-small"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vectors, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(gotInput, []string{"first", "second"}) {
		t.Errorf("unexpected request input %v", gotInput)
	}
	if len(vectors) != 2 || !slices.Equal(vectors[0], []float64{1, 0}) || !slices.Equal(vectors[1], []float64{0, 1}) {
		t.Errorf("vectors not placed by index: %v", vectors)
	}
}

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder(EmbeddingConfig{Model: "m"}); err == nil {
		t.Fatal("expected error without API key")
	}
}

type countingEmbedder struct {
	texts []string
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.texts = append(c.texts, texts...)
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = []float64{float64(len(text)), 0.5}
	}
	return vectors, nil
}

func TestCachedEmbedder(t *testing.T) {
	store := openTestStore(t)
	next := &countingEmbedder{}
	c := NewCachedEmbedder(next, store, "model-a", nil)
	ctx := context.Background()

	first, err := c.Embed(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.Embed(ctx, []string{"beta", "gamma", "alpha"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !slices.Equal(next.texts, []string{"alpha", "beta", "gamma"}) {
		t.Errorf("expected only misses to reach the embedder, got %v", next.texts)
	}
	if !slices.Equal(second[0], first[1]) || !slices.Equal(second[2], first[0]) {
		t.Errorf("cached vectors differ: first %v second %v", first, second)
	}
	if !slices.Equal(second[1], []float64{5, 0.5}) {
		t.Errorf("unexpected vector for gamma: %v", second[1])
	}

	// A different model must not see model-a's vectors.
	other := &countingEmbedder{}
	if _, err := NewCachedEmbedder(other, store, "model-b", nil).Embed(ctx, []string{"alpha"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(other.texts) != 1 {
		t.Errorf("expected a miss for a different model, got %v", other.texts)
	}
}

func TestCachedEmbedder_Error(t *testing.T) {
	next := &countingEmbedder{err: errors.New("quota exceeded")}
	c := NewCachedEmbedder(next, openTestStore(t), "model-a", nil)
	if _, err := c.Embed(context.Background(), []string{"alpha"}); err == nil {
		t.Fatal("expected the embedder error to propagate")
	}
}
