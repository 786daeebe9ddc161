// Package chunker splits document text into overlapping fixed-size segments
// for embedding. Boundaries are counted in runes and ignore sentence or
// paragraph structure.
package chunker

import (
	"errors"
	"fmt"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 1
)

// ErrInvalidConfig is returned when size and overlap cannot produce progress.
var ErrInvalidConfig = errors.New("invalid chunker config")

// Chunk is one segment of a document together with the caller's metadata.
type Chunk struct {
	Index    int
	Text     string
	Metadata map[string]string
}

type Splitter struct {
	size    int
	overlap int
}

// New validates the configuration. overlap must be strictly smaller than size.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidConfig, overlap, size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts text into chunks of at most Size runes where each chunk after
// the first starts Overlap runes before the end of its predecessor.
func (s *Splitter) Split(text string, metadata map[string]string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.size - s.overlap
	var chunks []Chunk
	for start := 0; ; start += step {
		end := start + s.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Text:     string(runes[start:end]),
			Metadata: copyMetadata(metadata),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Reassemble joins chunks produced with the given overlap back into the
// original text.
func Reassemble(chunks []Chunk, overlap int) string {
	var out []rune
	for i, c := range chunks {
		r := []rune(c.Text)
		if i > 0 {
			if overlap > len(r) {
				overlap = len(r)
			}
			r = r[overlap:]
		}
		out = append(out, r...)
	}
	return string(out)
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
