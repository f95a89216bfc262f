// Package retrieval provides the query pipeline: cache lookup, embedding,
// similarity search, prompt construction, and answer generation.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/backend"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/llm"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vectorstore"
	"github.com/hyperjump/kioku/pkg/utils"
	"go.uber.org/zap"
)

// ErrEmptyQuestion is returned when a query request carries no question.
var ErrEmptyQuestion = errors.New("retrieval: empty question")

// NoResultsAnswer is returned as the answer when the search finds nothing.
const NoResultsAnswer = "I couldn't find any relevant information to answer your question."

// DefaultTopK is the number of chunks retrieved when the request does not say.
const DefaultTopK = 5

// snippetLen bounds the source content echoed back in query results.
const snippetLen = 300

// Service answers questions against the vector store. Query results and
// query embeddings are cached when caches are configured; cache outages
// degrade to direct computation, only store and generator errors fail a
// request.
type Service struct {
	store     *vectorstore.Store
	embedder  embedding.Embedder
	generator llm.Generator

	embCache     *cache.EmbeddingCache // optional
	cacheBackend backend.Backend       // optional; enables per-collection query caches
	queryTTL     time.Duration
	topK         int
	logger       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEmbeddingCache enables query-embedding reuse.
func WithEmbeddingCache(c *cache.EmbeddingCache) Option {
	return func(s *Service) { s.embCache = c }
}

// WithQueryCache enables query-result caching on b with the given TTL.
func WithQueryCache(b backend.Backend, ttl time.Duration) Option {
	return func(s *Service) {
		s.cacheBackend = b
		s.queryTTL = ttl
	}
}

// WithTopK sets the default number of retrieved chunks.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a retrieval service with the given dependencies.
func NewService(store *vectorstore.Store, embedder embedding.Embedder, generator llm.Generator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		embedder:  embedder,
		generator: generator,
		topK:      DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) queryCache(collection string) *cache.QueryCache {
	if s.cacheBackend == nil {
		return nil
	}
	return cache.NewQueryCache(s.cacheBackend, collection, s.queryTTL)
}

// Query answers a question using retrieved context. The query cache is
// consulted first unless the request opts out; on a hit the cached result is
// returned with FromCache set. Cache reads and writes never fail the
// request.
func (s *Service) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.topK
	}

	useCache := req.UseCache == nil || *req.UseCache
	qc := s.queryCache(req.Collection)

	if useCache && qc != nil {
		result, ok, err := qc.Get(ctx, req.Question, topK)
		if err != nil && s.logger != nil {
			s.logger.Warn("query cache read failed", zap.Error(err))
		}
		if ok {
			result.FromCache = true
			return result, nil
		}
	}

	queryEmbedding, embCached, err := s.embedQuestion(ctx, req.Question)
	if err != nil {
		return nil, err
	}

	results, err := s.store.Search(ctx, queryEmbedding, topK, collectionFilter(req.Collection))
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	result := &models.QueryResult{
		Sources:         []models.Source{},
		Query:           req.Question,
		Collection:      req.Collection,
		TopK:            topK,
		EmbeddingCached: embCached,
	}

	if len(results) == 0 {
		result.Answer = NoResultsAnswer
		return result, nil
	}

	contextParts := make([]string, len(results))
	for i, r := range results {
		contextParts[i] = r.Document.Content
		if req.IncludeSources {
			result.Sources = append(result.Sources, toSource(r, snippetLen))
		}
	}

	answer, err := s.generator.Generate(ctx, buildPrompt(strings.Join(contextParts, "\n\n---\n\n"), req.Question))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	result.Answer = answer

	if useCache && qc != nil {
		if err := qc.Set(ctx, req.Question, topK, result); err != nil && s.logger != nil {
			s.logger.Warn("query cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// Retrieve returns the relevant chunks for a question without generating an
// answer. Content is returned in full, not truncated.
func (s *Service) Retrieve(ctx context.Context, req models.QueryRequest) ([]models.Source, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.topK
	}

	queryEmbedding, _, err := s.embedQuestion(ctx, req.Question)
	if err != nil {
		return nil, err
	}

	results, err := s.store.Search(ctx, queryEmbedding, topK, collectionFilter(req.Collection))
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	sources := make([]models.Source, len(results))
	for i, r := range results {
		sources[i] = toSource(r, 0)
	}
	return sources, nil
}

// embedQuestion returns the question's embedding, serving it from the
// embedding cache when possible. The bool reports a cache hit.
func (s *Service) embedQuestion(ctx context.Context, question string) ([]float32, bool, error) {
	if s.embCache != nil {
		emb, ok, err := s.embCache.Get(ctx, question)
		if err != nil && s.logger != nil {
			s.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		if ok {
			return emb, true, nil
		}
	}

	emb, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, false, fmt.Errorf("embed question: %w", err)
	}

	if s.embCache != nil {
		if err := s.embCache.Set(ctx, question, emb); err != nil && s.logger != nil {
			s.logger.Warn("embedding cache write failed", zap.Error(err))
		}
	}
	return emb, false, nil
}

// CacheStats reports live-key counts for the embedding cache and the query
// cache of the given collection.
func (s *Service) CacheStats(ctx context.Context, collection string) (map[string]cache.Stats, error) {
	stats := make(map[string]cache.Stats)
	if s.embCache != nil {
		st, err := s.embCache.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("embedding cache stats: %w", err)
		}
		stats["embedding_cache"] = st
	}
	if qc := s.queryCache(collection); qc != nil {
		st, err := qc.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("query cache stats: %w", err)
		}
		stats["query_cache"] = st
	}
	return stats, nil
}

// ClearCaches drops all cached embeddings and query results, returning the
// number of keys removed per cache.
func (s *Service) ClearCaches(ctx context.Context) (map[string]int, error) {
	cleared := make(map[string]int)
	if s.embCache != nil {
		n, err := s.embCache.ClearAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("clear embedding cache: %w", err)
		}
		cleared["embedding_cache"] = n
	}
	if qc := s.queryCache(""); qc != nil {
		n, err := qc.ClearAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("clear query cache: %w", err)
		}
		cleared["query_cache"] = n
	}
	return cleared, nil
}

func collectionFilter(collection string) map[string]interface{} {
	if collection == "" {
		return nil
	}
	return map[string]interface{}{models.MetaCollection: collection}
}

func toSource(r models.SearchResult, maxLen int) models.Source {
	content := utils.Truncate(r.Document.Content, maxLen)
	source := vectorstore.UnknownSource
	if v, ok := r.Document.Metadata[models.MetaSource].(string); ok && v != "" {
		source = v
	}
	return models.Source{
		Content:  content,
		Source:   source,
		Score:    r.Score,
		Metadata: r.Document.Metadata,
	}
}

func buildPrompt(context, question string) string {
	return fmt.Sprintf(`Use the following context to answer the question.
If you cannot answer based on the context, say so.
Be concise and accurate.

Context:
%s

Question: %s

Answer:`, context, question)
}
