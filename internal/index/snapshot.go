// Package index builds immutable, versioned embedding snapshots of a
// sentence corpus for neighbor retrieval.
package index

import (
	"fmt"

	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/search"
	"github.com/headlands-org/nntagger/search/brute"
)

// Entry describes one indexed sentence.
type Entry struct {
	Key    dataset.Key `json:"key"`
	Tokens int         `json:"tokens"`
}

// Snapshot is a read-only index over one corpus, consistent with a single
// encoder parameter version. Positions are corpus insertion order.
type Snapshot struct {
	version uint64
	// fingerprint identifies the encoder weights; 0 when not stamped.
	fingerprint uint64
	entries     []Entry
	examples    []*dataset.Example
	byKey       map[dataset.Key]int
	idx         *brute.Index
}

func newSnapshot(version uint64, entries []Entry, idx *brute.Index) *Snapshot {
	s := &Snapshot{
		version: version,
		entries: entries,
		byKey:   make(map[dataset.Key]int, len(entries)),
		idx:     idx,
	}
	for i, e := range entries {
		s.byKey[e.Key] = i
	}
	return s
}

// Version returns the encoder version the embeddings were computed with.
func (s *Snapshot) Version() uint64 { return s.version }

// Fingerprint returns the hash of the encoder weights the snapshot was built
// with, or 0 when the builder did not supply one.
func (s *Snapshot) Fingerprint() uint64 { return s.fingerprint }

// Len returns the number of indexed sentences.
func (s *Snapshot) Len() int { return len(s.entries) }

// Dim returns the embedding width.
func (s *Snapshot) Dim() int { return s.idx.Dimension() }

// Metric returns the similarity the snapshot scores with.
func (s *Snapshot) Metric() search.Metric { return s.idx.Metric() }

// Entry returns the sentence stored at position i.
func (s *Snapshot) Entry(i int) Entry { return s.entries[i] }

// Example returns the example stored at position i, or nil when the
// snapshot was loaded from disk and not attached to a corpus.
func (s *Snapshot) Example(i int) *dataset.Example {
	if s.examples == nil {
		return nil
	}
	return s.examples[i]
}

// Position returns the position of the sentence with the given key.
func (s *Snapshot) Position(key dataset.Key) (int, bool) {
	i, ok := s.byKey[key]
	return i, ok
}

// Embedding returns a copy of the stored embedding at position i
// (normalised for cosine snapshots).
func (s *Snapshot) Embedding(i int) []float32 {
	vec, _ := s.idx.Vector(int32(i))
	return vec
}

// Candidate is a scored snapshot position.
type Candidate struct {
	Pos   int
	Score float32
}

// Query scores vec against every stored sentence and returns all of them by
// descending score, ties in insertion order. An empty snapshot yields no
// candidates.
func (s *Snapshot) Query(vec []float32) ([]Candidate, error) {
	return s.Search(vec, s.Len())
}

// Search returns the first k candidates of Query's order.
func (s *Snapshot) Search(vec []float32, k int, opts ...search.SearchOption) ([]Candidate, error) {
	if s.Len() == 0 || k <= 0 {
		return nil, nil
	}
	results, err := s.idx.SearchVector(vec, k, opts...)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{Pos: int(r.ID), Score: r.Score}
	}
	return out, nil
}

// Attach binds the corpus examples to a loaded snapshot. The examples must
// be the indexed corpus in the same order.
func (s *Snapshot) Attach(examples []*dataset.Example) error {
	if len(examples) != len(s.entries) {
		return fmt.Errorf("index: snapshot has %d sentences, corpus %d", len(s.entries), len(examples))
	}
	for i, ex := range examples {
		if ex.Key() != s.entries[i].Key || ex.Tokens() != s.entries[i].Tokens {
			return fmt.Errorf("index: sentence %d is %s (%d tokens), snapshot has %s (%d tokens)",
				i, ex.Key(), ex.Tokens(), s.entries[i].Key, s.entries[i].Tokens)
		}
	}
	s.examples = examples
	return nil
}
