package models

import "time"

// SearchResult is a single similarity-search hit.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// QueryRequest is the input for the query and retrieve endpoints.
type QueryRequest struct {
	Question       string `json:"question"`
	Collection     string `json:"collection,omitempty"`
	TopK           int    `json:"top_k,omitempty"`
	IncludeSources bool   `json:"include_sources,omitempty"`
	UseCache       *bool  `json:"use_cache,omitempty"`
}

// Source is a retrieved document reference attached to an answer.
type Source struct {
	Content  string                 `json:"content"`
	Source   string                 `json:"source"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// QueryResult is the answer to a query plus retrieval bookkeeping.
// FromCache and EmbeddingCached report which caches served the request.
type QueryResult struct {
	Answer          string    `json:"answer"`
	Sources         []Source  `json:"sources"`
	Query           string    `json:"query"`
	Collection      string    `json:"collection,omitempty"`
	TopK            int       `json:"top_k,omitempty"`
	FromCache       bool      `json:"from_cache"`
	EmbeddingCached bool      `json:"embedding_cached"`
	CachedAt        time.Time `json:"cached_at,omitempty"`
}

// IngestRequest is the input for ingesting raw text.
type IngestRequest struct {
	Content    string                 `json:"content"`
	Source     string                 `json:"source,omitempty"`
	Collection string                 `json:"collection,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// IngestResult reports what an ingestion produced.
type IngestResult struct {
	IDs        []string `json:"ids"`
	Chunks     int      `json:"chunks"`
	Collection string   `json:"collection"`
	Source     string   `json:"source"`
}
