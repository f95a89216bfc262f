package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// allowRequest applies the rate limit to throttled endpoints. It stamps
// X-RateLimit-Remaining and writes a 429 on deny. Limiter outages degrade
// to "no limiting".
func (s *Server) allowRequest(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	id := clientIdentifier(r)
	allowed, err := s.limiter.Allow(r.Context(), id)
	if err != nil {
		s.logger.Warn("rate limit check failed", zap.Error(err))
		return true
	}
	remaining, err := s.limiter.Remaining(r.Context(), id)
	if err == nil {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if !allowed {
		s.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

func clientIdentifier(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !s.allowRequest(w, r) {
		return
	}
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	s.logger.Debug("query request", zap.String("question", req.Question), zap.String("collection", req.Collection))
	result, err := s.retriever.Query(r.Context(), req)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if !s.allowRequest(w, r) {
		return
	}
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	sources, err := s.retriever.Retrieve(r.Context(), req)
	if err != nil {
		s.logger.Error("retrieve failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":      req.Question,
		"collection": req.Collection,
		"documents":  sources,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	s.logger.Debug("ingest request", zap.String("source", req.Source), zap.String("collection", req.Collection))
	result, err := s.ingester.IngestText(r.Context(), req)
	if err != nil {
		s.logger.Error("ingestion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

// collectionInfo is the per-collection summary returned by the list endpoint.
type collectionInfo struct {
	Name          string   `json:"name"`
	DocumentCount int64    `json:"document_count"`
	Sources       []string `json:"sources"`
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names, err := s.store.ListCollections(ctx)
	if err != nil {
		s.logger.Error("list collections failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	infos := make([]collectionInfo, 0, len(names))
	for _, name := range names {
		count, err := s.store.Count(ctx, name)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sources, err := s.store.ListSources(ctx, name)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(sources) > 10 {
			sources = sources[:10]
		}
		sourceNames := make([]string, len(sources))
		for i, src := range sources {
			sourceNames[i] = src.Source
		}
		infos = append(infos, collectionInfo{Name: name, DocumentCount: count, Sources: sourceNames})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"collections": infos})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.logger.Debug("delete collection request", zap.String("collection", name))
	deleted, err := s.store.DeleteCollection(r.Context(), name)
	if err != nil {
		s.logger.Error("delete collection failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"collection": name, "deleted": deleted})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	sources, err := s.store.ListSources(r.Context(), collection)
	if err != nil {
		s.logger.Error("list sources failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"collection": collection,
		"sources":    sources,
	})
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	s.logger.Debug("delete source request", zap.String("source", source))
	deleted, err := s.ingester.DeleteSource(r.Context(), source)
	if err != nil {
		s.logger.Error("delete source failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"source": source, "deleted": deleted})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := s.store.Count(ctx, "")
	if err != nil {
		s.logger.Error("stats: count failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		s.logger.Error("stats: list collections failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"total_documents": total,
		"collections":     collections,
		"config": map[string]interface{}{
			"backend_kind":    s.config.Backend.Kind,
			"embedding_model": s.config.Embedding.Model,
			"chunk_size":      s.config.Chunking.ChunkSize,
			"chunk_overlap":   s.config.Chunking.ChunkOverlap,
			"top_k":           s.config.Retrieval.TopK,
		},
	}

	if stats, err := s.retriever.CacheStats(ctx, ""); err == nil {
		resp["cache"] = stats
	} else {
		s.logger.Warn("stats: cache stats failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.retriever.ClearCaches(r.Context())
	if err != nil {
		s.logger.Error("clear caches failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"cleared": cleared})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Ping(r.Context()); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
