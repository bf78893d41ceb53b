// Package search defines the vector index contracts used for neighbor
// sentence retrieval.
package search

import (
	"context"
	"fmt"
)

// Metric selects how query and stored vectors are compared.
type Metric uint8

const (
	// Cosine compares L2-normalised vectors.
	Cosine Metric = iota
	// Dot compares raw vectors by inner product.
	Dot
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Dot:
		return "dot"
	default:
		return fmt.Sprintf("Metric(%d)", uint8(m))
	}
}

// Result captures a nearest-neighbour match. Higher scores are closer.
type Result struct {
	ID    int32
	Score float32
}

// Builder ingests vectors and produces an immutable index.
type Builder interface {
	// AddVector inserts a pre-computed vector. The vector is expected to match
	// the index dimensionality.
	AddVector(id int32, vec []float32) error

	// Build finalises the builder and returns an Index.
	Build(ctx context.Context) (Index, error)
}

// Index exposes query operations over an immutable vector collection.
type Index interface {
	// Dimension returns the embedding dimensionality.
	Dimension() int

	// Count reports the number of stored vectors.
	Count() int

	// Metric reports the comparison the index was built for.
	Metric() Metric

	// SearchVector returns up to topK matches ordered by descending score,
	// ties broken by insertion order.
	SearchVector(vec []float32, topK int, opts ...SearchOption) ([]Result, error)

	// ForEach iterates over all stored vectors in insertion order. The
	// provided slice must not be mutated.
	ForEach(fn func(id int32, vec []float32))
}

// Serializer persists and loads indices.
type Serializer interface {
	Serialize(index Index) ([]byte, error)
	Deserialize(data []byte) (Index, error)
}

// SearchOption customises query execution.
type SearchOption interface {
	apply(*Config)
}

// Config describes query-time configuration derived from options.
type Config struct {
	// Exclude drops results with this id.
	Exclude    int32
	HasExclude bool
}

// ApplyOptions builds a configuration by applying the provided options.
func ApplyOptions(opts ...SearchOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	return cfg
}

type searchOptionFunc func(*Config)

func (fn searchOptionFunc) apply(cfg *Config) { fn(cfg) }

// WithExclude skips the stored vector with the given id, typically the
// query itself.
func WithExclude(id int32) SearchOption {
	return searchOptionFunc(func(cfg *Config) {
		cfg.Exclude = id
		cfg.HasExclude = true
	})
}
