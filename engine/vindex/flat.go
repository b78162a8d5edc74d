// Package vindex implements the exact-distance similarity index used for
// explanation vectors and its on-disk form.
package vindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

// NoMatch is the label Search reports for slots without a neighbour.
const NoMatch int64 = -1

// Hit is one neighbour returned by Nearest.
type Hit struct {
	Key      string
	Distance float32
}

// Index is a nearest-neighbour index over keyed vectors.
type Index interface {
	Dim() int
	Upsert(ctx context.Context, key string, vec []float32) error
	Nearest(ctx context.Context, probe []float32, k int) ([]Hit, error)
}

// Provider opens, creates, and persists an Index.
type Provider interface {
	// Open loads the existing index. Missing or unreadable indexes are errors.
	Open(ctx context.Context) (Index, error)
	// Create returns a fresh, empty index of the given dimension.
	Create(ctx context.Context, dim int) (Index, error)
	// Persist makes idx durable.
	Persist(ctx context.Context, idx Index) error
}

// FlatL2 is a brute-force index using squared euclidean distance.
type FlatL2 struct {
	mu   sync.RWMutex
	dim  int
	keys []string
	data []float32 // row-major, len = len(keys)*dim
}

var _ Index = (*FlatL2)(nil)

// NewFlatL2 creates an empty index.
func NewFlatL2(dim int) *FlatL2 {
	return &FlatL2{dim: dim}
}

// Dim returns the vector dimension.
func (f *FlatL2) Dim() int { return f.dim }

// Len returns the number of stored vectors.
func (f *FlatL2) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.keys)
}

// Add appends a vector.
func (f *FlatL2) Add(key string, vec []float32) error {
	if err := domain.ValidateVector(vec, f.dim); err != nil {
		return fmt.Errorf("vindex: add: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.data = append(f.data, vec...)
	return nil
}

// Upsert replaces the vector stored under key, or appends it.
func (f *FlatL2) Upsert(_ context.Context, key string, vec []float32) error {
	if err := domain.ValidateVector(vec, f.dim); err != nil {
		return fmt.Errorf("vindex: upsert: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, k := range f.keys {
		if k == key {
			copy(f.data[i*f.dim:(i+1)*f.dim], vec)
			return nil
		}
	}
	f.keys = append(f.keys, key)
	f.data = append(f.data, vec...)
	return nil
}

// Search returns the k nearest labels (row positions) and squared distances.
// Slots beyond the stored count carry NoMatch.
func (f *FlatL2) Search(probe []float32, k int) ([]float32, []int64, error) {
	if err := domain.ValidateVector(probe, f.dim); err != nil {
		return nil, nil, fmt.Errorf("vindex: search: %w", err)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	type cand struct {
		row  int
		dist float32
	}
	cands := make([]cand, len(f.keys))
	for i := range f.keys {
		row := f.data[i*f.dim : (i+1)*f.dim]
		var d float32
		for j, v := range row {
			diff := v - probe[j]
			d += diff * diff
		}
		cands[i] = cand{row: i, dist: d}
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })

	dists := make([]float32, k)
	labels := make([]int64, k)
	for i := range k {
		if i < len(cands) {
			dists[i], labels[i] = cands[i].dist, int64(cands[i].row)
			continue
		}
		labels[i] = NoMatch
	}
	return dists, labels, nil
}

// Nearest returns up to k hits ordered by distance. An empty index yields no
// hits and no error.
func (f *FlatL2) Nearest(_ context.Context, probe []float32, k int) ([]Hit, error) {
	dists, labels, err := f.Search(probe, k)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	hits := make([]Hit, 0, k)
	for i, l := range labels {
		if l == NoMatch {
			break
		}
		hits = append(hits, Hit{Key: f.keys[l], Distance: dists[i]})
	}
	return hits, nil
}
