package cache

import (
	"context"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/backend"
	"github.com/hyperjump/kioku/internal/models"
)

func TestQueryCache_GetSet(t *testing.T) {
	c := NewQueryCache(backend.NewMemoryBackend(), "hr", 0)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "leave policy?", 5); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	result := &models.QueryResult{
		Answer:  "30 days",
		Query:   "leave policy?",
		Sources: []models.Source{{Content: "ctx", Source: "handbook.txt", Score: 0.9}},
	}
	if err := c.Set(ctx, "leave policy?", 5, result); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, "leave policy?", 5)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Answer != "30 days" || len(got.Sources) != 1 {
		t.Errorf("got %+v", got)
	}
	if got.CachedAt.IsZero() || got.Collection != "hr" || got.TopK != 5 {
		t.Errorf("bookkeeping fields not stamped: %+v", got)
	}
}

func TestQueryCache_TopKChangesKey(t *testing.T) {
	c := NewQueryCache(backend.NewMemoryBackend(), "hr", 0)
	ctx := context.Background()

	_ = c.Set(ctx, "q", 5, &models.QueryResult{Answer: "five"})
	if _, ok, _ := c.Get(ctx, "q", 3); ok {
		t.Error("different top_k must be a different cache entry")
	}
	if _, ok, _ := c.Get(ctx, "q", 5); !ok {
		t.Error("same top_k should hit")
	}
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := NewQueryCache(backend.NewMemoryBackend(backend.WithClock(clock)), "hr", time.Second)
	ctx := context.Background()

	_ = c.Set(ctx, "q", 5, &models.QueryResult{Answer: "a"})
	now = now.Add(2 * time.Second)
	if _, ok, _ := c.Get(ctx, "q", 5); ok {
		t.Error("expected miss after TTL elapsed")
	}
}

func TestQueryCache_ClearCollection(t *testing.T) {
	b := backend.NewMemoryBackend()
	ctx := context.Background()
	hr := NewQueryCache(b, "hr", 0)
	eng := NewQueryCache(b, "eng", 0)

	_ = hr.Set(ctx, "q1", 5, &models.QueryResult{Answer: "a"})
	_ = hr.Set(ctx, "q2", 5, &models.QueryResult{Answer: "b"})
	_ = eng.Set(ctx, "q1", 5, &models.QueryResult{Answer: "c"})

	n, err := hr.ClearCollection(ctx)
	if err != nil || n != 2 {
		t.Fatalf("ClearCollection: n=%d err=%v", n, err)
	}
	if _, ok, _ := eng.Get(ctx, "q1", 5); !ok {
		t.Error("other collection's entries should survive")
	}

	n, err = eng.ClearAll(ctx)
	if err != nil || n != 1 {
		t.Errorf("ClearAll: n=%d err=%v", n, err)
	}
}
