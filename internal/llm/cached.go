package llm

import (
	"context"

	"github.com/querypilot/backend/pkg/logger"
	"go.uber.org/zap"
)

// EmbeddingCache is the external cache surface for embeddings.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, text string, embedding []float32) error
}

// CachedEmbedder fronts an Embedder with a cache. Cache failures degrade to
// a direct embedding call.
type CachedEmbedder struct {
	inner Embedder
	cache EmbeddingCache
}

func NewCachedEmbedder(inner Embedder, cache EmbeddingCache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.cache != nil {
		embedding, ok, err := c.cache.GetEmbedding(ctx, text)
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if ok {
			return embedding, nil
		}
	}

	embedding, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetEmbedding(ctx, text, embedding); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return embedding, nil
}
