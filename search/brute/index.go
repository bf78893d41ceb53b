// Package brute implements an exact float32 vector index that scans every
// stored vector.
package brute

import (
	"fmt"
	"sort"

	"github.com/headlands-org/nntagger/internal/kernels"
	"github.com/headlands-org/nntagger/search"
)

// Index is an exact brute-force index.
type Index struct {
	dimension int
	metric    search.Metric

	ids     []int32
	idToIdx map[int32]int

	data []float32
	base []byte // backing buffer when deserialized
}

var _ search.Index = (*Index)(nil)

// SearchVector scores vec against every stored vector and returns the
// topK best, best first. Equal scores keep insertion order.
func (idx *Index) SearchVector(vec []float32, topK int, opts ...search.SearchOption) ([]search.Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("brute: topK must be positive")
	}
	if idx.Count() == 0 {
		return nil, nil
	}
	if len(vec) != idx.dimension {
		return nil, fmt.Errorf("brute: query dimension mismatch: got %d want %d", len(vec), idx.dimension)
	}

	query := vec
	if idx.metric == search.Cosine {
		query = make([]float32, len(vec))
		kernels.L2Normalize(query, vec)
	}
	return idx.search(query, topK, search.ApplyOptions(opts...)), nil
}

// Scores returns the score of vec against every stored vector, in
// insertion order.
func (idx *Index) Scores(vec []float32) ([]float32, error) {
	if idx.Count() > 0 && len(vec) != idx.dimension {
		return nil, fmt.Errorf("brute: query dimension mismatch: got %d want %d", len(vec), idx.dimension)
	}
	query := vec
	if idx.metric == search.Cosine {
		query = make([]float32, len(vec))
		kernels.L2Normalize(query, vec)
	}
	out := make([]float32, idx.Count())
	for i := range out {
		out[i] = kernels.Dot(idx.row(i), query, idx.dimension)
	}
	return out, nil
}

func (idx *Index) search(query []float32, topK int, cfg search.Config) []search.Result {
	if topK > idx.Count() {
		topK = idx.Count()
	}

	type candidate struct {
		pos   int
		score float32
	}
	best := make([]candidate, 0, topK)
	minScore := float32(0)
	minIdx := -1

	// The replacement victim is the lowest score, latest insertion among ties.
	updateMin := func() {
		minIdx = 0
		minScore = best[0].score
		for i := 1; i < len(best); i++ {
			if best[i].score < minScore || (best[i].score == minScore && best[i].pos > best[minIdx].pos) {
				minScore = best[i].score
				minIdx = i
			}
		}
	}

	for i := 0; i < idx.Count(); i++ {
		if cfg.HasExclude && idx.ids[i] == cfg.Exclude {
			continue
		}
		score := kernels.Dot(idx.row(i), query, idx.dimension)
		if len(best) < topK {
			best = append(best, candidate{pos: i, score: score})
			if len(best) == topK {
				updateMin()
			}
			continue
		}
		if score <= minScore {
			continue
		}
		best[minIdx] = candidate{pos: i, score: score}
		updateMin()
	}

	sort.Slice(best, func(i, j int) bool {
		if best[i].score == best[j].score {
			return best[i].pos < best[j].pos
		}
		return best[i].score > best[j].score
	})

	results := make([]search.Result, len(best))
	for i := range best {
		results[i] = search.Result{ID: idx.ids[best[i].pos], Score: best[i].score}
	}
	return results
}

func (idx *Index) row(i int) []float32 {
	return idx.data[i*idx.dimension : (i+1)*idx.dimension]
}

// Dimension returns the vector dimensionality.
func (idx *Index) Dimension() int { return idx.dimension }

// Count reports the number of stored vectors.
func (idx *Index) Count() int { return len(idx.ids) }

// Metric reports the comparison the index was built for.
func (idx *Index) Metric() search.Metric { return idx.metric }

// Position returns the insertion position of id.
func (idx *Index) Position(id int32) (int, bool) {
	pos, ok := idx.idToIdx[id]
	return pos, ok
}

// Vector returns a copy of the stored vector for the given id. Cosine
// indices store normalised vectors.
func (idx *Index) Vector(id int32) ([]float32, bool) {
	pos, ok := idx.idToIdx[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), idx.row(pos)...), true
}

// ForEach iterates over all stored vectors in insertion order.
func (idx *Index) ForEach(fn func(id int32, vec []float32)) {
	for i, id := range idx.ids {
		fn(id, idx.row(i))
	}
}
