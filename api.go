package nntagger

import (
	"context"
	"fmt"

	"github.com/headlands-org/nntagger/pkg/nntag"
)

// Option configures the runtime.
type Option = nntag.Option

// Options helpers for configuring the runtime.
var (
	WithThreads   = nntag.WithThreads
	WithCorpus    = nntag.WithCorpus
	WithIndex     = nntag.WithIndex
	WithNeighbors = nntag.WithNeighbors
	WithVerbose   = nntag.WithVerbose
)

// Neighbor is a corpus sentence retrieved as tagging context.
type Neighbor = nntag.Neighbor

// Tagger wraps the underlying runtime and exposes a simplified API.
type Tagger struct {
	inner nntag.Runtime
}

// Open loads a trained checkpoint from disk and returns a Tagger.
func Open(path string, opts ...Option) (*Tagger, error) {
	rt, err := nntag.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return &Tagger{inner: rt}, nil
}

// Close releases resources associated with the tagger.
func (t *Tagger) Close() error {
	return t.inner.Close()
}

// Labels lists the tags the model predicts.
func (t *Tagger) Labels() []string {
	return t.inner.Labels()
}

// Tag tags a batch of pre-split sentences.
func (t *Tagger) Tag(ctx context.Context, sentences [][]string) ([][]string, error) {
	if len(sentences) == 0 {
		return nil, nil
	}
	return t.inner.TagBatch(ctx, sentences)
}

// TagSingle tags one pre-split sentence.
func (t *Tagger) TagSingle(ctx context.Context, words []string) ([]string, error) {
	results, err := t.Tag(ctx, [][]string{words})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("tag: runtime returned no tags")
	}
	return results[0], nil
}

// Neighbors returns the corpus sentences used as context for words.
func (t *Tagger) Neighbors(ctx context.Context, words []string) ([]Neighbor, error) {
	return t.inner.Neighbors(ctx, words)
}

// Inner exposes the underlying runtime for advanced integrations.
func (t *Tagger) Inner() nntag.Runtime {
	return t.inner
}
