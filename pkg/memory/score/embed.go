package score

import (
	"context"
	"errors"
	"fmt"
)

// Embedder is a pluggable text-embedding provider. Embedding failure is
// fatal for the calling operation: without a vector there is nothing to
// retrieve or deduplicate against.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrNotSupported is returned by providers that do not offer embeddings.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// DummyEmbedder produces deterministic vectors without any provider.
// Useful for tests and offline runs; nearby strings land on nearby vectors.
type DummyEmbedder struct {
	Dim int
}

func (d DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text, d.Dim), nil
}

// DummyEmbedding folds the text bytes into a fixed-size histogram vector.
func DummyEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 1536
	}
	vec := make([]float32, dim)
	for i, ch := range []byte(text) {
		vec[i%dim] += float32(ch) / 255.0
	}
	return vec
}

// AutoEmbedder selects a provider by name:
// openai|ollama|gemini|dummy. An empty provider means dummy.
func AutoEmbedder(provider, model string, dim int) (Embedder, error) {
	switch provider {
	case "openai":
		return NewOpenAIEmbedder(model), nil
	case "ollama":
		return NewOllamaEmbedder(model)
	case "gemini", "google":
		return NewGeminiEmbedder(context.Background(), model)
	case "", "dummy":
		return DummyEmbedder{Dim: dim}, nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", provider)
}
