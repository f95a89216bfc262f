// Package ingest provides the text ingestion pipeline: chunk, embed, store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vectorstore"
	"go.uber.org/zap"
)

// ErrEmptyContent is returned when an ingest request carries no text.
var ErrEmptyContent = errors.New("ingest: empty content")

// Service runs the ingestion pipeline: split text into chunks, embed them
// (consulting the embedding cache when one is configured), and add the
// chunks to the vector store.
type Service struct {
	splitter *chunker.Splitter
	embedder embedding.Embedder
	store    *vectorstore.Store
	embCache *cache.EmbeddingCache // optional; nil disables caching
	logger   *zap.Logger           // optional; when set, logs debug events
}

// Option configures a Service.
type Option func(*Service)

// WithEmbeddingCache enables embedding reuse across ingests and queries.
func WithEmbeddingCache(c *cache.EmbeddingCache) Option {
	return func(s *Service) { s.embCache = c }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an ingestion service with the given dependencies.
func NewService(splitter *chunker.Splitter, embedder embedding.Embedder, store *vectorstore.Store, opts ...Option) *Service {
	s := &Service{
		splitter: splitter,
		embedder: embedder,
		store:    store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestText splits the request content into chunks, embeds each chunk, and
// stores them. The embedding cache, when configured, is consulted first and
// updated after; cache failures are logged and ignored so ingestion works
// with the cache backend down.
func (s *Service) IngestText(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}

	metadata := make(map[string]interface{}, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.Source != "" {
		metadata[models.MetaSource] = req.Source
	}
	if req.Collection != "" {
		metadata[models.MetaCollection] = req.Collection
	}

	chunks := s.splitter.SplitDocuments([]models.Document{{Content: req.Content, Metadata: metadata}})
	if len(chunks) == 0 {
		return nil, ErrEmptyContent
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	embeddings, err := s.embedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	ids, err := s.store.Add(ctx, chunks, embeddings, req.Collection)
	if err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("ingested text",
			zap.String("source", req.Source),
			zap.String("collection", req.Collection),
			zap.Int("chunks", len(chunks)))
	}

	return &models.IngestResult{
		IDs:        ids,
		Chunks:     len(chunks),
		Collection: req.Collection,
		Source:     req.Source,
	}, nil
}

// embedTexts returns one embedding per text, reusing cached embeddings where
// available and embedding only the misses.
func (s *Service) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))

	var cached map[string][]float32
	if s.embCache != nil {
		var err error
		cached, err = s.embCache.GetBatch(ctx, texts)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("embedding cache read failed", zap.Error(err))
			}
			cached = nil
		}
	}

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if emb, ok := cached[text]; ok {
			embeddings[i] = emb
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		fresh, err := s.embedder.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, fmt.Errorf("generate embeddings: %w", err)
		}
		if len(fresh) != len(missTexts) {
			return nil, fmt.Errorf("generate embeddings: got %d embeddings for %d texts", len(fresh), len(missTexts))
		}
		for j, emb := range fresh {
			embeddings[missIdx[j]] = emb
		}
		if s.embCache != nil {
			if _, err := s.embCache.SetBatch(ctx, missTexts, fresh); err != nil && s.logger != nil {
				s.logger.Warn("embedding cache write failed", zap.Error(err))
			}
		}
	}

	return embeddings, nil
}

// DeleteSource removes all stored chunks ingested from source.
func (s *Service) DeleteSource(ctx context.Context, source string) (int, error) {
	return s.store.DeleteBySource(ctx, source)
}
