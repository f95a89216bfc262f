package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/kioku/internal/backend"
	"github.com/hyperjump/kioku/internal/models"
)

const (
	queryPrefix = "query"

	// DefaultQueryTTL is short: answers go stale as soon as the underlying
	// collection changes.
	DefaultQueryTTL = time.Hour
)

// QueryCache memoizes full query results per collection. The top-k value
// participates in the key: a different k retrieves different context and
// thus a different answer.
type QueryCache struct {
	backend    backend.Backend
	collection string
	ttl        time.Duration
}

// NewQueryCache creates a cache scoped to a collection. A zero ttl uses
// DefaultQueryTTL; an empty collection scopes to "default".
func NewQueryCache(b backend.Backend, collection string, ttl time.Duration) *QueryCache {
	if collection == "" {
		collection = "default"
	}
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	return &QueryCache{backend: b, collection: collection, ttl: ttl}
}

func (c *QueryCache) key(query string, topK int) string {
	return fmt.Sprintf("%s:%s:%s", queryPrefix, c.collection,
		hashKey(fmt.Sprintf("%s:%s:%d", c.collection, query, topK)))
}

// Get returns the cached result for a query, or (nil, false) on a miss.
func (c *QueryCache) Get(ctx context.Context, query string, topK int) (*models.QueryResult, bool, error) {
	data, ok, err := c.backend.Get(ctx, c.key(query, topK))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var result models.QueryResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, false, fmt.Errorf("decode cached query result: %w", err)
	}
	return &result, true, nil
}

// Set caches a query result, stamping it with the cache time, collection,
// and top-k bookkeeping fields.
func (c *QueryCache) Set(ctx context.Context, query string, topK int, result *models.QueryResult) error {
	stamped := *result
	stamped.CachedAt = time.Now().UTC()
	stamped.Collection = c.collection
	stamped.TopK = topK
	data, err := json.Marshal(&stamped)
	if err != nil {
		return fmt.Errorf("encode query result: %w", err)
	}
	return c.backend.Set(ctx, c.key(query, topK), string(data), c.ttl)
}

// Invalidate removes one cached query result.
func (c *QueryCache) Invalidate(ctx context.Context, query string, topK int) error {
	_, err := c.backend.Delete(ctx, c.key(query, topK))
	return err
}

// ClearCollection removes every cached result for this cache's collection.
func (c *QueryCache) ClearCollection(ctx context.Context) (int, error) {
	keys, err := c.backend.Keys(ctx, fmt.Sprintf("%s:%s:*", queryPrefix, c.collection))
	if err != nil {
		return 0, err
	}
	return c.backend.Delete(ctx, keys...)
}

// ClearAll removes every cached query result across all collections.
func (c *QueryCache) ClearAll(ctx context.Context) (int, error) {
	keys, err := c.backend.Keys(ctx, queryPrefix+":*")
	if err != nil {
		return 0, err
	}
	return c.backend.Delete(ctx, keys...)
}

// Stats counts the live cached results for this collection.
func (c *QueryCache) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.backend.Keys(ctx, fmt.Sprintf("%s:%s:*", queryPrefix, c.collection))
	if err != nil {
		return Stats{}, err
	}
	return Stats{Keys: len(keys), TTLSeconds: int64(c.ttl / time.Second), Namespace: c.collection}, nil
}
