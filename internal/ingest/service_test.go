package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/backend"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vectorstore"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *vectorstore.Store) {
	t.Helper()
	splitter, err := chunker.NewSplitter(100, 20)
	if err != nil {
		t.Fatalf("NewSplitter failed: %v", err)
	}
	store := vectorstore.New(backend.NewMemoryBackend())
	return NewService(splitter, embedding.NewMockEmbedder(32), store, opts...), store
}

func TestIngestText(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	content := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10)
	result, err := svc.IngestText(ctx, models.IngestRequest{
		Content:    content,
		Source:     "fox.txt",
		Collection: "animals",
	})
	if err != nil {
		t.Fatalf("IngestText failed: %v", err)
	}
	if result.Chunks < 2 {
		t.Errorf("expected multiple chunks for long content, got %d", result.Chunks)
	}
	if len(result.IDs) != result.Chunks {
		t.Errorf("expected %d ids, got %d", result.Chunks, len(result.IDs))
	}
	if result.Collection != "animals" || result.Source != "fox.txt" {
		t.Errorf("unexpected result bookkeeping: %+v", result)
	}

	count, err := store.Count(ctx, "animals")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != int64(result.Chunks) {
		t.Errorf("expected %d stored records, got %d", result.Chunks, count)
	}
}

func TestIngestTextEmptyContent(t *testing.T) {
	svc, _ := newTestService(t)

	for _, content := range []string{"", "   \n\t  "} {
		if _, err := svc.IngestText(context.Background(), models.IngestRequest{Content: content}); !errors.Is(err, ErrEmptyContent) {
			t.Errorf("content %q: expected ErrEmptyContent, got %v", content, err)
		}
	}
}

func TestIngestTextMetadataStamping(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.IngestText(ctx, models.IngestRequest{
		Content:    "short document",
		Source:     "note.md",
		Collection: "notes",
		Metadata:   map[string]interface{}{"author": "nico"},
	})
	if err != nil {
		t.Fatalf("IngestText failed: %v", err)
	}

	emb, _ := embedding.NewMockEmbedder(32).Embed(ctx, "short document")
	results, err := store.Search(ctx, emb, 1, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	md := results[0].Document.Metadata
	if md["author"] != "nico" {
		t.Errorf("expected custom metadata preserved, got %v", md)
	}
	if md[models.MetaSource] != "note.md" {
		t.Errorf("expected source stamped, got %v", md[models.MetaSource])
	}
	if _, ok := md[models.MetaChunkIndex]; !ok {
		t.Error("expected chunk index stamped")
	}
}

func TestIngestTextUsesEmbeddingCache(t *testing.T) {
	b := backend.NewMemoryBackend()
	embCache := cache.NewEmbeddingCache(b, "mock", time.Hour)

	counting := &countingEmbedder{inner: embedding.NewMockEmbedder(32)}
	splitter, _ := chunker.NewSplitter(100, 20)
	store := vectorstore.New(backend.NewMemoryBackend())
	svc := NewService(splitter, counting, store, WithEmbeddingCache(embCache))
	ctx := context.Background()

	if _, err := svc.IngestText(ctx, models.IngestRequest{Content: "cache me once"}); err != nil {
		t.Fatalf("IngestText failed: %v", err)
	}
	first := counting.batchCalls

	if _, err := svc.IngestText(ctx, models.IngestRequest{Content: "cache me once"}); err != nil {
		t.Fatalf("IngestText failed: %v", err)
	}
	if counting.batchCalls != first {
		t.Errorf("expected second ingest to be served from cache, embedder called %d more times", counting.batchCalls-first)
	}
}

func TestIngestTextCacheFailureIsIgnored(t *testing.T) {
	embCache := cache.NewEmbeddingCache(failingBackend{}, "mock", time.Hour)
	splitter, _ := chunker.NewSplitter(100, 20)
	store := vectorstore.New(backend.NewMemoryBackend())
	svc := NewService(splitter, embedding.NewMockEmbedder(32), store, WithEmbeddingCache(embCache))

	result, err := svc.IngestText(context.Background(), models.IngestRequest{Content: "still works"})
	if err != nil {
		t.Fatalf("expected ingest to survive cache outage, got %v", err)
	}
	if result.Chunks != 1 {
		t.Errorf("expected 1 chunk, got %d", result.Chunks)
	}
}

func TestIngestTextEmbedderFailure(t *testing.T) {
	splitter, _ := chunker.NewSplitter(100, 20)
	store := vectorstore.New(backend.NewMemoryBackend())
	svc := NewService(splitter, &countingEmbedder{err: errors.New("model down")}, store)

	if _, err := svc.IngestText(context.Background(), models.IngestRequest{Content: "doomed"}); err == nil {
		t.Fatal("expected error when embedder fails")
	}
}

func TestDeleteSource(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.IngestText(ctx, models.IngestRequest{Content: "doc one", Source: "a.txt"}); err != nil {
		t.Fatalf("IngestText failed: %v", err)
	}
	if _, err := svc.IngestText(ctx, models.IngestRequest{Content: "doc two", Source: "b.txt"}); err != nil {
		t.Fatalf("IngestText failed: %v", err)
	}

	deleted, err := svc.DeleteSource(ctx, "a.txt")
	if err != nil {
		t.Fatalf("DeleteSource failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

// countingEmbedder wraps an embedder and counts calls, optionally failing.
type countingEmbedder struct {
	inner      *embedding.MockEmbedder
	err        error
	batchCalls int
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.inner.Embed(ctx, text)
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls++
	if e.err != nil {
		return nil, e.err
	}
	return e.inner.EmbedBatch(ctx, texts)
}

func (e *countingEmbedder) Dimensions() int { return 32 }
func (e *countingEmbedder) Close() error    { return nil }

// failingBackend errors on every operation.
type failingBackend struct{}

var errDown = errors.New("backend down")

func (failingBackend) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errDown
}
func (failingBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errDown
}
func (failingBackend) Delete(ctx context.Context, keys ...string) (int, error) { return 0, errDown }
func (failingBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	return nil, errDown
}
func (failingBackend) SAdd(ctx context.Context, key string, members ...string) error { return errDown }
func (failingBackend) SRem(ctx context.Context, key string, members ...string) error { return errDown }
func (failingBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	return nil, errDown
}
func (failingBackend) SCard(ctx context.Context, key string) (int64, error) { return 0, errDown }
func (failingBackend) Incr(ctx context.Context, key string) (int64, error)  { return 0, errDown }
func (failingBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return errDown
}
func (failingBackend) Pipeline(ctx context.Context, fn func(backend.Pipe) error) error {
	return errDown
}
func (failingBackend) Ping(ctx context.Context) error { return errDown }
func (failingBackend) Close() error                   { return nil }
