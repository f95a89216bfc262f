// Package cache provides TTL-keyed embedding and query caches and a
// fixed-window rate limiter on a key-value backend. Cache misses are never
// errors; a backend outage means "cache unavailable" and callers fall back
// to direct computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/kioku/internal/backend"
)

const (
	embPrefix = "emb"

	// DefaultEmbeddingTTL keeps embeddings for a week: they only change
	// when the model changes, which also changes the key prefix.
	DefaultEmbeddingTTL = 7 * 24 * time.Hour
)

// hashKey derives a bounded cache key from arbitrary text.
func hashKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// EmbeddingCache memoizes embedding vectors per model.
type EmbeddingCache struct {
	backend backend.Backend
	model   string
	ttl     time.Duration
}

// NewEmbeddingCache creates a cache namespaced by model name. A zero ttl
// uses DefaultEmbeddingTTL.
func NewEmbeddingCache(b backend.Backend, model string, ttl time.Duration) *EmbeddingCache {
	if model == "" {
		model = "default"
	}
	if ttl <= 0 {
		ttl = DefaultEmbeddingTTL
	}
	return &EmbeddingCache{backend: b, model: model, ttl: ttl}
}

func (c *EmbeddingCache) key(text string) string {
	return fmt.Sprintf("%s:%s:%s", embPrefix, c.model, hashKey(text))
}

// Get returns the cached embedding for text, or (nil, false) on a miss.
func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool, error) {
	data, ok, err := c.backend.Get(ctx, c.key(text))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var embedding []float32
	if err := json.Unmarshal([]byte(data), &embedding); err != nil {
		return nil, false, fmt.Errorf("decode cached embedding: %w", err)
	}
	return embedding, true, nil
}

// Set caches an embedding under the text's hash with the cache's TTL.
func (c *EmbeddingCache) Set(ctx context.Context, text string, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	return c.backend.Set(ctx, c.key(text), string(data), c.ttl)
}

// GetBatch returns cached embeddings keyed by text; texts without a cached
// entry are absent from the result.
func (c *EmbeddingCache) GetBatch(ctx context.Context, texts []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(texts))
	for _, text := range texts {
		embedding, ok, err := c.Get(ctx, text)
		if err != nil {
			return nil, err
		}
		if ok {
			out[text] = embedding
		}
	}
	return out, nil
}

// SetBatch caches embeddings for each text and returns how many were stored.
func (c *EmbeddingCache) SetBatch(ctx context.Context, texts []string, embeddings [][]float32) (int, error) {
	if len(texts) != len(embeddings) {
		return 0, fmt.Errorf("texts and embeddings must have the same length: %d vs %d", len(texts), len(embeddings))
	}
	count := 0
	for i, text := range texts {
		if err := c.Set(ctx, text, embeddings[i]); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Invalidate removes a cached embedding. Removing an absent key is a no-op.
func (c *EmbeddingCache) Invalidate(ctx context.Context, text string) error {
	_, err := c.backend.Delete(ctx, c.key(text))
	return err
}

// ClearAll removes every cached embedding for this model and returns the count.
func (c *EmbeddingCache) ClearAll(ctx context.Context) (int, error) {
	keys, err := c.backend.Keys(ctx, fmt.Sprintf("%s:%s:*", embPrefix, c.model))
	if err != nil {
		return 0, err
	}
	return c.backend.Delete(ctx, keys...)
}

// Stats reports the number of live entries for this model and the TTL.
type Stats struct {
	Keys       int    `json:"keys"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Namespace  string `json:"namespace"`
}

// Stats counts the live keys under the model's prefix.
func (c *EmbeddingCache) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.backend.Keys(ctx, fmt.Sprintf("%s:%s:*", embPrefix, c.model))
	if err != nil {
		return Stats{}, err
	}
	return Stats{Keys: len(keys), TTLSeconds: int64(c.ttl / time.Second), Namespace: c.model}, nil
}
