package index

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/search"
	"github.com/headlands-org/nntagger/search/brute"
)

// Embedder turns subword ids into a fixed-size sentence embedding.
type Embedder interface {
	SentenceEmbedding(ids []int) []float32
	Dim() int
	Version() uint64
}

// Options controls a build.
type Options struct {
	// ShardSize is the number of sentences encoded per task.
	ShardSize int
	// Workers bounds the number of shards encoded at once.
	Workers int
	Metric  search.Metric
	Log     *zap.Logger
	// Progress, when set, is called after each shard with the number of
	// sentences encoded so far. It may be called concurrently.
	Progress func(done int)
	// Fingerprint identifies the encoder weights and is persisted by Save.
	Fingerprint uint64
}

// Build encodes every example and returns a snapshot of their embeddings.
// Shards cover disjoint position ranges and run concurrently. The encoder
// must not change during the build.
func Build(ctx context.Context, examples []*dataset.Example, enc Embedder, opts Options) (*Snapshot, error) {
	if opts.ShardSize <= 0 {
		return nil, fmt.Errorf("index: shard size must be positive, got %d", opts.ShardSize)
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()
	version := enc.Version()
	dim := enc.Dim()
	n := len(examples)
	vecs := make([]float32, n*dim)

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for lo := 0; lo < n; lo += opts.ShardSize {
		lo, hi := lo, min(lo+opts.ShardSize, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				copy(vecs[i*dim:(i+1)*dim], enc.SentenceEmbedding(examples[i].Encoding.IDs))
			}
			total := done.Add(int64(hi - lo))
			if opts.Progress != nil {
				opts.Progress(int(total))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if v := enc.Version(); v != version {
		return nil, fmt.Errorf("index: encoder changed during build (version %d -> %d)", version, v)
	}

	snap, err := fromVectors(ctx, version, examples, vecs, dim, opts.Metric)
	if err != nil {
		return nil, err
	}
	snap.fingerprint = opts.Fingerprint
	log.Debug("index built", zap.Int("sentences", n), zap.Int("dim", dim),
		zap.Uint64("version", version), zap.Duration("elapsed", time.Since(start)))
	return snap, nil
}

// FromVectors builds a snapshot from precomputed embeddings, one per
// example in order.
func FromVectors(ctx context.Context, version uint64, examples []*dataset.Example, vecs [][]float32, metric search.Metric) (*Snapshot, error) {
	if len(vecs) != len(examples) {
		return nil, fmt.Errorf("index: %d vectors for %d examples", len(vecs), len(examples))
	}
	dim := 0
	if len(vecs) > 0 {
		dim = len(vecs[0])
	}
	flat := make([]float32, 0, len(vecs)*dim)
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("index: vector %d has dimension %d, want %d", i, len(v), dim)
		}
		flat = append(flat, v...)
	}
	return fromVectors(ctx, version, examples, flat, dim, metric)
}

func fromVectors(ctx context.Context, version uint64, examples []*dataset.Example, flat []float32, dim int, metric search.Metric) (*Snapshot, error) {
	builder := brute.NewBuilder(brute.WithDimension(dim), brute.WithMetric(metric))
	entries := make([]Entry, len(examples))
	for i, ex := range examples {
		entries[i] = Entry{Key: ex.Key(), Tokens: ex.Tokens()}
		if err := builder.AddVector(int32(i), flat[i*dim:(i+1)*dim]); err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
	}
	built, err := builder.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	snap := newSnapshot(version, entries, built.(*brute.Index))
	snap.examples = examples
	return snap, nil
}
