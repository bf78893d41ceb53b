package nntag

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/headlands-org/nntagger/internal/checkpoint"
	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/internal/encoder"
	"github.com/headlands-org/nntagger/internal/index"
	"github.com/headlands-org/nntagger/internal/model"
	"github.com/headlands-org/nntagger/internal/tokenizer"
	"github.com/headlands-org/nntagger/internal/wordmap"
)

const corpusText = `john B-PER
lives O
in O
paris B-LOC

mary B-PER
works O
in O
london B-LOC
`

// writeModel saves a freshly initialised pos model and a matching corpus.
func writeModel(t *testing.T) (ckpt, corpus string) {
	t.Helper()
	return writeSeededModel(t, 3)
}

func writeSeededModel(t *testing.T, seed int64) (ckpt, corpus string) {
	t.Helper()
	dir := t.TempDir()
	m, err := model.New(model.Options{
		Vocab:     []string{"[PAD]", "[UNK]", "john", "mary", "lives", "works", "in", "paris", "london"},
		Tokenizer: tokenizer.DefaultConfig(true, nil),
		Encoder:   encoder.Config{Dim: 6, MaxLen: 8},
		Tags:      []string{"B-PER", "O", "B-LOC"},
		TagType:   dataset.POS,
		Mapper:    wordmap.Mapper{Policy: wordmap.First, Empty: wordmap.Skip},
		Cosine:    true,
		Seed:      seed,
	})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	ckpt = filepath.Join(dir, "model.nntg")
	if err := checkpoint.Save(ckpt, checkpoint.Meta{Model: m.Describe()}, m.Tensors()); err != nil {
		t.Fatalf("checkpoint.Save: %v", err)
	}
	corpus = filepath.Join(dir, "corpus.txt")
	if err := os.WriteFile(corpus, []byte(corpusText), 0o644); err != nil {
		t.Fatal(err)
	}
	return ckpt, corpus
}

func TestTagAgainstCorpus(t *testing.T) {
	ckpt, corpus := writeModel(t)
	idx := filepath.Join(t.TempDir(), "corpus.idx")
	rt, err := Open(ckpt, WithCorpus(corpus), WithIndex(idx), WithNeighbors(5, 1, 100))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()

	if got := rt.Labels(); !reflect.DeepEqual(got, []string{"B-PER", "O", "B-LOC"}) {
		t.Fatalf("Labels = %v", got)
	}
	words := []string{"Mary", "lives", "in", "Berlin"}
	tags, err := rt.Tag(context.Background(), words)
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if len(tags) != len(words) {
		t.Fatalf("Tag returned %d tags for %d words", len(tags), len(words))
	}
	nbs, err := rt.Neighbors(context.Background(), words)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(nbs) != 1 || len(nbs[0].Words) != 4 {
		t.Fatalf("Neighbors = %+v, want one corpus sentence", nbs)
	}
	if _, err := os.Stat(idx); err != nil {
		t.Fatalf("index cache not written: %v", err)
	}

	// A second runtime reuses the cached index and agrees.
	again, err := Open(ckpt, WithCorpus(corpus), WithIndex(idx), WithNeighbors(5, 1, 100))
	if err != nil {
		t.Fatalf("Open(cached): %v", err)
	}
	defer again.Close()
	tags2, err := again.Tag(context.Background(), words)
	if err != nil {
		t.Fatalf("Tag(cached): %v", err)
	}
	if !reflect.DeepEqual(tags, tags2) {
		t.Fatalf("cached index tags %v, fresh %v", tags2, tags)
	}
}

func TestTagBatchMatchesTag(t *testing.T) {
	ckpt, corpus := writeModel(t)
	rt, err := Open(ckpt, WithCorpus(corpus), WithThreads(3))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()

	batch := [][]string{{"john", "works"}, {"in", "paris"}, {}, {"unknown", "words", "here"}}
	got, err := rt.TagBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("TagBatch: %v", err)
	}
	for i, words := range batch {
		want, err := rt.Tag(context.Background(), words)
		if err != nil {
			t.Fatalf("Tag(%v): %v", words, err)
		}
		if len(got[i]) != len(words) || !reflect.DeepEqual(got[i], want) && len(words) > 0 {
			t.Fatalf("TagBatch[%d] = %v, Tag = %v", i, got[i], want)
		}
	}
}

func TestOpenWithoutCorpus(t *testing.T) {
	ckpt, _ := writeModel(t)
	rt, err := Open(ckpt)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()
	tags, err := rt.Tag(context.Background(), []string{"john"})
	if err != nil || len(tags) != 1 {
		t.Fatalf("Tag without corpus = %v, %v", tags, err)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.nntg")); err == nil {
		t.Fatalf("Open accepted a missing checkpoint")
	}
}

func TestIndexCacheRebuiltForOtherWeights(t *testing.T) {
	first, corpus := writeSeededModel(t, 3)
	second, _ := writeSeededModel(t, 999)
	idx := filepath.Join(t.TempDir(), "corpus.idx")
	words := []string{"john", "lives", "in", "london"}

	rt, err := Open(first, WithCorpus(corpus), WithIndex(idx), WithNeighbors(5, 2, 100))
	if err != nil {
		t.Fatalf("Open(first): %v", err)
	}
	rt.Close()

	cached, err := Open(second, WithCorpus(corpus), WithIndex(idx), WithNeighbors(5, 2, 100))
	if err != nil {
		t.Fatalf("Open(second, cached): %v", err)
	}
	defer cached.Close()
	fresh, err := Open(second, WithCorpus(corpus), WithNeighbors(5, 2, 100))
	if err != nil {
		t.Fatalf("Open(second): %v", err)
	}
	defer fresh.Close()

	got, err := cached.Neighbors(context.Background(), words)
	if err != nil {
		t.Fatalf("Neighbors(cached): %v", err)
	}
	want, err := fresh.Neighbors(context.Background(), words)
	if err != nil {
		t.Fatalf("Neighbors(fresh): %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("neighbors from the cache %+v, from a fresh index %+v", got, want)
	}

	// The cache now carries the second model's weights.
	snap, err := index.Load(idx)
	if err != nil {
		t.Fatalf("index.Load: %v", err)
	}
	r, err := checkpoint.Open(second)
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	defer r.Close()
	m, err := model.FromCheckpoint(r, true)
	if err != nil {
		t.Fatalf("FromCheckpoint: %v", err)
	}
	if snap.Fingerprint() != m.Encoder.Fingerprint() {
		t.Fatalf("cache fingerprint %x, model %x", snap.Fingerprint(), m.Encoder.Fingerprint())
	}
}
