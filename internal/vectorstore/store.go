package vectorstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kioku/internal/backend"
	"github.com/hyperjump/kioku/internal/models"
)

// ErrCountMismatch is returned when Add receives a different number of
// documents and embeddings. The whole batch is rejected; nothing is
// inserted.
var ErrCountMismatch = errors.New("documents and embeddings must have the same length")

// DefaultCollection is used when neither the caller nor the document
// metadata names a collection.
const DefaultCollection = "default"

// UnknownSource is used when document metadata carries no source.
const UnknownSource = "unknown"

// Key layout on the backend. Records are JSON blobs under doc:{id};
// membership indices are sets of record ids.
const (
	keyPrefix     = "rag"
	docPrefix     = "doc"
	collectionIdx = "idx:collection"
	sourceIdx     = "idx:source"
	allDocsKey    = "all_docs"
)

// Store persists chunks with embeddings and serves similarity search.
// Records live exclusively in the backend; the store holds no in-process
// state, so one Store can be shared by any number of goroutines.
type Store struct {
	backend backend.Backend
}

// New creates a store on the given backend.
func New(b backend.Backend) *Store {
	return &Store{backend: b}
}

func docKey(id string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, docPrefix, id)
}

func collectionKey(name string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, collectionIdx, name)
}

// sourceKey hashes the source name so arbitrary file paths stay within a
// bounded, pattern-safe key.
func sourceKey(source string) string {
	sum := md5.Sum([]byte(source))
	return fmt.Sprintf("%s:%s:%s", keyPrefix, sourceIdx, hex.EncodeToString(sum[:])[:12])
}

func allKey() string {
	return keyPrefix + ":" + allDocsKey
}

// Add persists each document with its embedding and registers its id in the
// all/collection/source indices in one pipelined batch. Collection resolves
// from the explicit argument, then document metadata, then "default";
// source resolves from metadata, then "unknown". Returns the generated ids.
func (s *Store) Add(ctx context.Context, docs []models.Document, embeddings [][]float32, collection string) ([]string, error) {
	if len(docs) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d documents, %d embeddings", ErrCountMismatch, len(docs), len(embeddings))
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(docs))
	err := s.backend.Pipeline(ctx, func(p backend.Pipe) error {
		for i, doc := range docs {
			record := models.Record{
				ID:         uuid.New().String(),
				Content:    doc.Content,
				Embedding:  embeddings[i],
				Collection: resolveCollection(collection, doc.Metadata),
				Source:     resolveSource(doc.Metadata),
				Metadata:   doc.Metadata,
				CreatedAt:  time.Now().UTC(),
			}
			data, err := json.Marshal(&record)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			p.Set(docKey(record.ID), string(data), 0)
			p.SAdd(allKey(), record.ID)
			p.SAdd(collectionKey(record.Collection), record.ID)
			p.SAdd(sourceKey(record.Source), record.ID)
			ids = append(ids, record.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add records: %w", err)
	}
	return ids, nil
}

func resolveCollection(explicit string, metadata map[string]interface{}) string {
	if explicit != "" {
		return explicit
	}
	if c, ok := metadata[models.MetaCollection].(string); ok && c != "" {
		return c
	}
	return DefaultCollection
}

func resolveSource(metadata map[string]interface{}) string {
	if src, ok := metadata[models.MetaSource].(string); ok && src != "" {
		return src
	}
	return UnknownSource
}

// get fetches and decodes one record. Missing records return (nil, nil):
// a dangling index entry is an expected steady state, not a fault.
func (s *Store) get(ctx context.Context, id string) (*models.Record, error) {
	data, ok, err := s.backend.Get(ctx, docKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var record models.Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	return &record, nil
}

// candidates returns all live records, restricted to a collection's index
// when one is named. Index entries whose record is gone are skipped.
func (s *Store) candidates(ctx context.Context, collection string) ([]*models.Record, error) {
	key := allKey()
	if collection != "" {
		key = collectionKey(collection)
	}
	ids, err := s.backend.SMembers(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	records := make([]*models.Record, 0, len(ids))
	for _, id := range ids {
		record, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, record)
		}
	}
	return records, nil
}

// matchesFilter applies every non-collection filter key by exact equality
// against the record's metadata. reflect.DeepEqual keeps the comparison
// total when a value is non-comparable, such as a decoded JSON array.
func matchesFilter(record *models.Record, filter map[string]interface{}) bool {
	for key, want := range filter {
		if key == models.MetaCollection {
			if record.Collection != want {
				return false
			}
			continue
		}
		got, ok := record.Metadata[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// Search returns up to k records most similar to the query embedding,
// ordered by descending cosine similarity. A "collection" filter key
// restricts candidates via the collection index before scoring; all other
// filter keys are matched by exact metadata equality. No candidates is an
// empty result, not an error.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, k int, filter map[string]interface{}) ([]models.SearchResult, error) {
	collection := ""
	if c, ok := filter[models.MetaCollection].(string); ok {
		collection = c
	}
	records, err := s.candidates(ctx, collection)
	if err != nil {
		return nil, err
	}

	scored := make([]models.SearchResult, 0, len(records))
	for _, record := range records {
		if len(filter) > 0 && !matchesFilter(record, filter) {
			continue
		}
		scored = append(scored, models.SearchResult{
			Document: record.Document(),
			Score:    CosineSimilarity(queryEmbedding, record.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Delete removes the given ids: each record is dropped along with its
// membership in all three indices, in one pipelined batch. Absent ids are
// skipped. Returns the number of records actually removed.
func (s *Store) Delete(ctx context.Context, ids []string) (int, error) {
	type target struct {
		id         string
		collection string
		source     string
	}
	targets := make([]target, 0, len(ids))
	for _, id := range ids {
		record, err := s.get(ctx, id)
		if err != nil {
			return 0, err
		}
		if record == nil {
			continue
		}
		targets = append(targets, target{id: id, collection: record.Collection, source: record.Source})
	}
	if len(targets) == 0 {
		return 0, nil
	}
	err := s.backend.Pipeline(ctx, func(p backend.Pipe) error {
		for _, tgt := range targets {
			p.SRem(allKey(), tgt.id)
			p.SRem(collectionKey(tgt.collection), tgt.id)
			p.SRem(sourceKey(tgt.source), tgt.id)
			p.Delete(docKey(tgt.id))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return len(targets), nil
}

// DeleteBySource removes every record ingested from the given source.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int, error) {
	ids, err := s.backend.SMembers(ctx, sourceKey(source))
	if err != nil {
		return 0, fmt.Errorf("delete by source: %w", err)
	}
	return s.Delete(ctx, ids)
}

// DeleteCollection removes every record in the named collection.
func (s *Store) DeleteCollection(ctx context.Context, name string) (int, error) {
	ids, err := s.backend.SMembers(ctx, collectionKey(name))
	if err != nil {
		return 0, fmt.Errorf("delete collection: %w", err)
	}
	return s.Delete(ctx, ids)
}

// ClearAll removes every record in the store.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	ids, err := s.backend.SMembers(ctx, allKey())
	if err != nil {
		return 0, fmt.Errorf("clear all: %w", err)
	}
	return s.Delete(ctx, ids)
}

// ListCollections returns the names of collections with at least one record.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	pattern := collectionKey("*")
	keys, err := s.backend.Keys(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	prefix := collectionKey("")
	var collections []string
	for _, key := range keys {
		card, err := s.backend.SCard(ctx, key)
		if err != nil {
			return nil, err
		}
		if card > 0 {
			collections = append(collections, key[len(prefix):])
		}
	}
	sort.Strings(collections)
	return collections, nil
}

// ListSources aggregates record counts per source, optionally restricted to
// a collection. CreatedAt reports the earliest record seen for the source.
func (s *Store) ListSources(ctx context.Context, collection string) ([]models.SourceInfo, error) {
	records, err := s.candidates(ctx, collection)
	if err != nil {
		return nil, err
	}
	bySource := make(map[string]*models.SourceInfo)
	for _, record := range records {
		info, ok := bySource[record.Source]
		if !ok {
			info = &models.SourceInfo{Source: record.Source, CreatedAt: record.CreatedAt}
			bySource[record.Source] = info
		}
		info.Count++
		if record.CreatedAt.Before(info.CreatedAt) {
			info.CreatedAt = record.CreatedAt
		}
	}
	sources := make([]models.SourceInfo, 0, len(bySource))
	for _, info := range bySource {
		sources = append(sources, *info)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Source < sources[j].Source })
	return sources, nil
}

// Count returns the number of records, in a collection when named,
// otherwise store-wide. This is the index cardinality, one backend call.
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	key := allKey()
	if collection != "" {
		key = collectionKey(collection)
	}
	n, err := s.backend.SCard(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
