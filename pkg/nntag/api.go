// Package nntag provides a high-level API for tagging sentences with a
// trained neighbor-augmented tagger.
package nntag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/headlands-org/nntagger/internal/checkpoint"
	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/internal/index"
	"github.com/headlands-org/nntagger/internal/logging"
	"github.com/headlands-org/nntagger/internal/model"
	"github.com/headlands-org/nntagger/internal/neighbors"
)

// Runtime tags sentences against a neighbor corpus.
type Runtime interface {
	// Tag returns one tag per word.
	Tag(ctx context.Context, words []string) ([]string, error)

	// TagBatch tags several sentences.
	TagBatch(ctx context.Context, sentences [][]string) ([][]string, error)

	// Neighbors returns the corpus sentences used as context for words.
	Neighbors(ctx context.Context, words []string) ([]Neighbor, error)

	// Labels lists the tag set.
	Labels() []string

	// Close releases resources.
	Close() error
}

// Neighbor is one retrieved corpus sentence.
type Neighbor struct {
	Words []string
	Tags  []string
	Score float32
}

// Options configures the runtime.
type Options struct {
	// NumThreads bounds the sentences tagged at once. 0 tunes it to the
	// batch size.
	NumThreads int

	// Corpus is a CoNLL file whose sentences serve as neighbors. Without
	// it sentences are tagged against the tag prototypes alone.
	Corpus string

	// IndexPath caches the corpus index. It is loaded when present and
	// written after a build otherwise.
	IndexPath string

	TopK              int
	NumNeighbors      int
	MaxNeighborTokens int

	// Verbose enables logging
	Verbose bool
}

// Option is a functional option for configuring the runtime.
type Option func(*Options)

// WithThreads sets the number of threads.
func WithThreads(n int) Option {
	return func(o *Options) { o.NumThreads = n }
}

// WithCorpus sets the neighbor corpus.
func WithCorpus(path string) Option {
	return func(o *Options) { o.Corpus = path }
}

// WithIndex sets the index cache file.
func WithIndex(path string) Option {
	return func(o *Options) { o.IndexPath = path }
}

// WithNeighbors sets the retrieval pool, the number of neighbor sentences
// and their subword budget.
func WithNeighbors(topk, sentences, maxTokens int) Option {
	return func(o *Options) {
		o.TopK, o.NumNeighbors, o.MaxNeighborTokens = topk, sentences, maxTokens
	}
}

// WithVerbose enables verbose logging.
func WithVerbose(v bool) Option {
	return func(o *Options) { o.Verbose = v }
}

type tagRuntime struct {
	model     *model.Model
	snap      *index.Snapshot
	retriever *neighbors.Retriever
	options   Options
	log       *zap.Logger
}

// Open loads a checkpoint and prepares the neighbor corpus.
func Open(path string, opts ...Option) (Runtime, error) {
	options := Options{TopK: 50, NumNeighbors: 10, MaxNeighborTokens: 512}
	for _, opt := range opts {
		opt(&options)
	}

	log := zap.NewNop()
	if options.Verbose {
		l, err := logging.New(true)
		if err != nil {
			return nil, err
		}
		log = l
	}

	r, err := checkpoint.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	defer r.Close()
	m, err := model.FromCheckpoint(r, true)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	examples, err := loadCorpus(m, options.Corpus, log)
	if err != nil {
		return nil, err
	}
	snap, err := loadIndex(m, examples, options, log)
	if err != nil {
		return nil, err
	}

	strategy := neighbors.ForEvaluation(options.TopK, options.NumNeighbors, options.MaxNeighborTokens)
	return &tagRuntime{
		model:     m,
		snap:      snap,
		retriever: neighbors.New(strategy, m.Encoder, neighbors.WithLogger(log)),
		options:   options,
		log:       log,
	}, nil
}

func loadCorpus(m *model.Model, path string, log *zap.Logger) ([]*dataset.Example, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	defer f.Close()
	c, bad, err := dataset.Read(f, "corpus", m.TagType)
	if err != nil {
		return nil, err
	}
	examples, skipped := m.Preparer(log).PrepareAll(c)
	log.Info("corpus loaded", zap.Int("sentences", len(examples)), zap.Int("skipped", skipped+len(bad)))
	return examples, nil
}

// loadIndex reuses the cached snapshot when it was built with the same
// encoder weights and rebuilds it otherwise.
func loadIndex(m *model.Model, examples []*dataset.Example, o Options, log *zap.Logger) (*index.Snapshot, error) {
	fingerprint := m.Encoder.Fingerprint()
	if o.IndexPath != "" {
		snap, err := index.Load(o.IndexPath)
		switch {
		case err == nil && snap.Fingerprint() == fingerprint:
			if err := snap.Attach(examples); err != nil {
				return nil, fmt.Errorf("index %s does not match the corpus: %w", o.IndexPath, err)
			}
			return snap, nil
		case err == nil:
			log.Warn("index built with other weights, rebuilding", zap.String("path", o.IndexPath),
				zap.Uint64("index", snap.Fingerprint()), zap.Uint64("model", fingerprint))
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}
	snap, err := index.Build(context.Background(), examples, m.Encoder, index.Options{
		ShardSize:   64,
		Workers:     runtime.NumCPU(),
		Metric:      m.Metric(),
		Log:         log,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return nil, err
	}
	if o.IndexPath != "" {
		if err := snap.Save(o.IndexPath); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// example wraps raw words as an untagged query sentence.
func (r *tagRuntime) example(words []string) (*dataset.Example, error) {
	enc := r.model.Tokenizer.Encode(words)
	mask, err := r.model.Mapper.Mask(enc)
	if err != nil {
		return nil, err
	}
	return &dataset.Example{
		Sentence: &dataset.Sentence{Split: "query", Words: words},
		Encoding: enc,
		Tags:     make([]int, len(words)),
		Mask:     mask,
	}, nil
}

// Tag tags one sentence.
func (r *tagRuntime) Tag(ctx context.Context, words []string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	ex, err := r.example(words)
	if err != nil {
		return nil, err
	}
	set, err := r.retriever.Retrieve(ctx, ex, r.snap)
	if err != nil {
		return nil, err
	}
	ids, err := r.model.Tagger.Tag(ex, set)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = r.model.Tags.Name(id)
	}
	return out, nil
}

// TagBatch tags sentences concurrently; out[i] belongs to sentences[i].
func (r *tagRuntime) TagBatch(ctx context.Context, sentences [][]string) ([][]string, error) {
	if len(sentences) == 0 {
		return nil, nil
	}
	workers := r.options.NumThreads
	if workers <= 0 {
		workers = autoTuneWorkers(len(sentences))
	}
	out := make([][]string, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, words := range sentences {
		i, words := i, words
		g.Go(func() error {
			tags, err := r.Tag(gctx, words)
			if err != nil {
				return fmt.Errorf("sentence %d: %w", i, err)
			}
			out[i] = tags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// autoTuneWorkers uses one worker for a handful of sentences and up to
// one per CPU for large batches.
func autoTuneWorkers(n int) int {
	numCPU := runtime.NumCPU()
	switch {
	case n <= 4:
		return 1
	case n <= 32:
		return min(max(1, numCPU/2), n)
	}
	return min(numCPU, n)
}

// Neighbors returns the context retrieved for words.
func (r *tagRuntime) Neighbors(ctx context.Context, words []string) ([]Neighbor, error) {
	ex, err := r.example(words)
	if err != nil {
		return nil, err
	}
	set, err := r.retriever.Retrieve(ctx, ex, r.snap)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, 0, set.Len())
	for _, n := range set.Neighbors {
		out = append(out, Neighbor{Words: n.Example.Sentence.Words, Tags: n.Example.Sentence.Tags, Score: n.Score})
	}
	return out, nil
}

// Labels lists the tag set.
func (r *tagRuntime) Labels() []string {
	return append([]string(nil), r.model.Tags.Names()...)
}

// Close releases resources.
func (r *tagRuntime) Close() error {
	// Syncing a console logger fails on some terminals; nothing is lost.
	_ = r.log.Sync()
	return nil
}
