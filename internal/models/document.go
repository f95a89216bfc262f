// Package models defines core data structures for documents, records, and query results.
package models

import "time"

// Document is a piece of text plus metadata, the unit that flows through
// the ingestion and retrieval pipeline. It is never mutated after creation.
type Document struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Metadata keys stamped by the chunker and read by the store.
const (
	MetaSource     = "source"
	MetaCollection = "collection"
	MetaChunkIndex = "chunk_index"
	MetaChunkCount = "chunk_count"
)

// Record is the persisted form of a Document: content plus its embedding,
// resolved collection/source, and a store-generated ID.
type Record struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	Embedding  []float32              `json:"embedding"`
	Collection string                 `json:"collection"`
	Source     string                 `json:"source"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Document returns the record's content and metadata as a Document.
func (r *Record) Document() Document {
	return Document{Content: r.Content, Metadata: r.Metadata}
}

// SourceInfo aggregates record counts per source.
type SourceInfo struct {
	Source    string    `json:"source"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}
