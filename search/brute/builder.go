package brute

import (
	"context"
	"errors"
	"fmt"

	"github.com/headlands-org/nntagger/internal/kernels"
	"github.com/headlands-org/nntagger/search"
)

var errBuilderFinalised = errors.New("brute: builder already built")

// Builder constructs an exact brute-force index.
type Builder struct {
	dimension int
	metric    search.Metric

	ids     []int32
	vectors [][]float32
	idSet   map[int32]struct{}

	built bool
}

// BuilderOption configures the builder.
type BuilderOption func(*Builder)

// WithDimension sets the vector dimension up front. An index built from no
// vectors keeps this dimension.
func WithDimension(dim int) BuilderOption {
	return func(b *Builder) { b.dimension = dim }
}

// WithMetric selects cosine (default) or dot-product scoring.
func WithMetric(m search.Metric) BuilderOption {
	return func(b *Builder) { b.metric = m }
}

// NewBuilder returns a Builder with sensible defaults.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		metric: search.Cosine,
		idSet:  make(map[int32]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddVector inserts a pre-computed vector. Insertion order is the tie-break
// order of the built index.
func (b *Builder) AddVector(id int32, vec []float32) error {
	if b.built {
		return errBuilderFinalised
	}
	if _, exists := b.idSet[id]; exists {
		return fmt.Errorf("brute: duplicate id %d", id)
	}
	if b.dimension == 0 {
		b.dimension = len(vec)
	}
	if len(vec) != b.dimension {
		return fmt.Errorf("brute: vector dimension mismatch: got %d want %d", len(vec), b.dimension)
	}

	stored := make([]float32, len(vec))
	if b.metric == search.Cosine {
		kernels.L2Normalize(stored, vec)
	} else {
		copy(stored, vec)
	}

	b.ids = append(b.ids, id)
	b.vectors = append(b.vectors, stored)
	b.idSet[id] = struct{}{}
	return nil
}

// Build materialises the read-only index. Building with no vectors yields an
// empty index that answers every query with no results.
func (b *Builder) Build(ctx context.Context) (search.Index, error) {
	if b.built {
		return nil, errBuilderFinalised
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	idx := &Index{
		dimension: b.dimension,
		metric:    b.metric,
		ids:       append([]int32(nil), b.ids...),
		idToIdx:   make(map[int32]int, len(b.ids)),
		data:      make([]float32, len(b.vectors)*b.dimension),
	}
	for i, id := range idx.ids {
		idx.idToIdx[id] = i
	}
	for i, vec := range b.vectors {
		copy(idx.data[i*b.dimension:(i+1)*b.dimension], vec)
	}

	b.built = true
	return idx, nil
}
