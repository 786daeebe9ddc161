// Package memory is an in-process vector index using brute-force cosine
// similarity. It backs local runs and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"blogchat/internal/vectorindex"
)

var _ vectorindex.Index = (*Index)(nil)

type Index struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]vectorindex.Record
}

// New creates an index. A zero dimension accepts the first upserted size.
func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		records:   make(map[string]vectorindex.Record),
	}
}

func (s *Index) Upsert(ctx context.Context, records []vectorindex.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if s.dimension == 0 {
			s.dimension = len(r.Vector)
		}
		if len(r.Vector) != s.dimension {
			return fmt.Errorf("%w: got %d, want %d", vectorindex.ErrDimensionMismatch, len(r.Vector), s.dimension)
		}
	}
	for _, r := range records {
		s.records[r.ID] = cloneRecord(r)
	}
	return nil
}

func (s *Index) Query(ctx context.Context, vector []float32, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 4
	}

	s.mu.RLock()
	matches := make([]vectorindex.Match, 0)
	for _, r := range s.records {
		if !filter.Matches(r.Metadata) {
			continue
		}
		matches = append(matches, vectorindex.Match{Record: cloneRecord(r), Score: cosine(vector, r.Vector)})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Index) DeleteByFilter(ctx context.Context, filter vectorindex.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if filter.Matches(r.Metadata) {
			delete(s.records, id)
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *Index) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(r vectorindex.Record) vectorindex.Record {
	out := r
	out.Vector = append([]float32(nil), r.Vector...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
