package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/querypilot/backend/internal/vector/milvus"
	"github.com/querypilot/backend/pkg/logger"
	"github.com/querypilot/backend/pkg/utils"
)

// Client caches query embeddings across processes so repeated questions skip
// the embedding call entirely. Embeddings are stored in the compact binary
// codec rather than JSON.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := c.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: c, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func embeddingKey(text string) string {
	return "embedding:" + utils.HashQuery(text)
}

// SetEmbedding stores one embedding keyed by the normalized text hash.
func (c *Client) SetEmbedding(ctx context.Context, text string, embedding []float32) error {
	data := milvus.EmbeddingToBytes(embedding)
	if err := c.client.Set(ctx, embeddingKey(text), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}
	return nil
}

// GetEmbedding returns (nil, false, nil) on a clean miss.
func (c *Client) GetEmbedding(ctx context.Context, text string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingKey(text)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	embedding, err := milvus.BytesToEmbedding(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode cached embedding: %w", err)
	}

	logger.Debug("Embedding cache hit")
	return embedding, true, nil
}

// InvalidateEmbeddings deletes every cached embedding, used when the
// embedding model changes.
func (c *Client) InvalidateEmbeddings(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "embedding:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}
	return nil
}
