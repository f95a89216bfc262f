// Package chunker splits document text into bounded, overlapping chunks.
package chunker

import (
	"errors"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// ErrInvalidChunking is returned when overlap is not smaller than chunk size.
var ErrInvalidChunking = errors.New("chunk overlap must be less than chunk size")

// DefaultSeparators is the boundary hierarchy tried from coarsest to finest.
// The trailing empty string guarantees the recursion always terminates at
// character-level splitting.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter recursively splits text on natural boundaries, merging small
// pieces into chunks of at most chunkSize characters with at least overlap
// characters shared between adjacent chunks. Overlap is re-included
// piece-by-piece, so it is a lower bound rather than an exact count.
type Splitter struct {
	chunkSize     int
	overlap       int
	separators    []string
	keepSeparator bool
}

// SplitterOption configures a Splitter.
type SplitterOption func(*Splitter)

// WithSeparators overrides the default separator hierarchy.
func WithSeparators(separators []string) SplitterOption {
	return func(s *Splitter) { s.separators = separators }
}

// WithoutSeparators drops separators from the output instead of re-appending them.
func WithoutSeparators() SplitterOption {
	return func(s *Splitter) { s.keepSeparator = false }
}

// NewSplitter creates a splitter with the given chunk size and overlap (in
// characters). Returns ErrInvalidChunking if overlap >= chunkSize.
func NewSplitter(chunkSize, overlap int, opts ...SplitterOption) (*Splitter, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, ErrInvalidChunking
	}
	s := &Splitter{
		chunkSize:     chunkSize,
		overlap:       overlap,
		separators:    DefaultSeparators,
		keepSeparator: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Split splits text into chunks. Chunks are trimmed of surrounding
// whitespace and empty chunks are dropped. A piece with no finer separator
// left may exceed chunkSize and is emitted verbatim.
func (s *Splitter) Split(text string) []string {
	chunks := s.split(text, s.separators)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if trimmed := strings.TrimSpace(c); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	// Pick the first separator present in the text. The empty string always
	// matches, so the loop cannot fall through without choosing one.
	separator := separators[len(separators)-1]
	var remaining []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	var splits []string
	if separator != "" {
		splits = strings.Split(text, separator)
	} else {
		splits = strings.Split(text, "")
	}

	var final []string
	var good []string
	flush := func() {
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = good[:0]
		}
	}

	for _, piece := range splits {
		withSep := piece
		if s.keepSeparator && separator != "" {
			withSep = piece + separator
		}
		switch {
		case len(withSep) < s.chunkSize:
			good = append(good, withSep)
		case len(remaining) > 0:
			flush()
			final = append(final, s.split(piece, remaining)...)
		default:
			// No finer separator left; accept the oversized piece as-is.
			flush()
			final = append(final, withSep)
		}
	}
	flush()
	return final
}

// merge accumulates consecutive small pieces into chunks of at most
// chunkSize, seeding each new chunk with trailing pieces of the previous one
// until at least overlap characters are re-included.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var current []string
	length := 0

	for _, piece := range pieces {
		if length+len(piece) > s.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, ""))

			// Walk backward over the just-closed chunk to build the overlap.
			start := len(current)
			reIncluded := 0
			for j := len(current) - 1; j >= 0; j-- {
				reIncluded += len(current[j])
				if reIncluded >= s.overlap {
					start = j
					break
				}
			}
			current = append([]string(nil), current[start:]...)
			length = 0
			for _, p := range current {
				length += len(p)
			}
		}
		current = append(current, piece)
		length += len(piece)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, ""))
	}
	return chunks
}

// SplitDocuments splits each document's content and returns one document per
// chunk, inheriting the source document's metadata plus chunk_index and
// chunk_count.
func (s *Splitter) SplitDocuments(docs []models.Document) []models.Document {
	var out []models.Document
	for _, doc := range docs {
		chunks := s.Split(doc.Content)
		for i, chunk := range chunks {
			metadata := make(map[string]interface{}, len(doc.Metadata)+2)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata[models.MetaChunkIndex] = i
			metadata[models.MetaChunkCount] = len(chunks)
			out = append(out, models.Document{Content: chunk, Metadata: metadata})
		}
	}
	return out
}
