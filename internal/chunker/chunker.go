// Package chunker splits raw document text into overlapping fixed-size
// passages used as retrieval units.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig indicates an invalid chunk size / overlap combination.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Default window geometry, in characters.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Options controls the sliding window.
type Options struct {
	// Size is the maximum chunk length in characters.
	Size int
	// Overlap is the number of characters shared between adjacent chunks.
	// Must be strictly smaller than Size.
	Overlap int
}

// ApplyDefaults sets default values for unset fields.
func (o *Options) ApplyDefaults() {
	if o.Size == 0 {
		o.Size = DefaultSize
	}
	if o.Overlap == 0 && o.Size > DefaultOverlap {
		o.Overlap = DefaultOverlap
	}
}

// Validate checks the window geometry.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("%w: overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			ErrInvalidConfig, o.Overlap, o.Size)
	}
	return nil
}

// Chunk is a bounded-length span of a document's normalized text.
type Chunk struct {
	// Content is the chunk text.
	Content string
	// Ordinal is the zero-based position of the chunk within its document.
	Ordinal int
	// DocumentID identifies the source document.
	DocumentID string
}

// ID returns the deterministic chunk identifier "{documentID}-{ordinal}".
// Re-ingesting the same document produces the same IDs, so upserts overwrite
// instead of duplicating.
func (c Chunk) ID() string {
	return ChunkID(c.DocumentID, c.Ordinal)
}

// ChunkID forms a chunk identifier from a document ID and ordinal.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s-%d", documentID, ordinal)
}

// Normalize collapses all whitespace runs (including newlines) to single
// spaces and trims the result.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split divides text into overlapping chunks of up to opts.Size characters,
// advancing the window by opts.Size - opts.Overlap each step. The trailing
// remainder is emitted as the final chunk. Every character of the normalized
// text is covered by at least one chunk, and output is deterministic for
// identical input.
//
// Empty text yields no chunks and no error.
func Split(documentID, text string, opts Options) ([]Chunk, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	clean := []rune(Normalize(text))
	if len(clean) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	i := 0
	for i < len(clean) {
		end := i + opts.Size
		if end > len(clean) {
			end = len(clean)
		}
		chunks = append(chunks, Chunk{
			Content:    string(clean[i:end]),
			Ordinal:    len(chunks),
			DocumentID: documentID,
		})
		if end == len(clean) {
			break
		}
		i = end - opts.Overlap
	}
	return chunks, nil
}
