package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/kioku/internal/backend"
	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vectorstore"
)

func BenchmarkCosineSimilarity(b *testing.B) {
	x := make([]float32, 384)
	y := make([]float32, 384)
	for i := range x {
		x[i] = float32(i) / 384
		y[i] = float32(384-i) / 384
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = vectorstore.CosineSimilarity(x, y)
	}
}

func BenchmarkStoreSearch(b *testing.B) {
	store := vectorstore.New(backend.NewMemoryBackend())
	embedder := embedding.NewMockEmbedder(384)
	ctx := context.Background()

	docs := make([]models.Document, 1000)
	embeddings := make([][]float32, 1000)
	for i := 0; i < 1000; i++ {
		text := fmt.Sprintf("document number %d about topic %d", i, i%26)
		docs[i] = models.Document{Content: text}
		emb, _ := embedder.Embed(ctx, text)
		embeddings[i] = emb
	}
	if _, err := store.Add(ctx, docs, embeddings, "bench"); err != nil {
		b.Fatal(err)
	}
	query, _ := embedder.Embed(ctx, "document number 500 about topic 6")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Search(ctx, query, 10, nil)
	}
}

func BenchmarkSplitterSplit(b *testing.B) {
	splitter, err := chunker.NewSplitter(500, 100)
	if err != nil {
		b.Fatal(err)
	}
	text := strings.Repeat("Text splitting respects paragraph and sentence boundaries where it can. ", 200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = splitter.Split(text)
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
