// Package model bundles the tokenizer, tag set, encoder and tagger that make
// up one trained network, and moves them in and out of checkpoints.
package model

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/headlands-org/nntagger/internal/checkpoint"
	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/internal/encoder"
	"github.com/headlands-org/nntagger/internal/errs"
	"github.com/headlands-org/nntagger/internal/nn"
	"github.com/headlands-org/nntagger/internal/tagger"
	"github.com/headlands-org/nntagger/internal/tokenizer"
	"github.com/headlands-org/nntagger/internal/wordmap"
	"github.com/headlands-org/nntagger/search"
)

// Files looked up in a pretrained model directory.
const (
	VocabFile   = "vocab.txt"
	EncoderFile = "encoder.nntg"
)

// Options describe a network before its parameters exist.
type Options struct {
	Vocab     []string
	Tokenizer tokenizer.Config
	Encoder   encoder.Config
	Tags      []string
	TagType   dataset.TagType
	Mapper    wordmap.Mapper
	Cosine    bool
	// Detached encodes neighbors outside the gradient graph.
	Detached bool
	Seed     int64
}

// Model is one network and the vocabularies it was built for.
type Model struct {
	Tokenizer *tokenizer.Tokenizer
	Tags      *dataset.TagSet
	Encoder   *encoder.Encoder
	Tagger    *tagger.Tagger
	Mapper    wordmap.Mapper
	TagType   dataset.TagType
	Cosine    bool
}

// New builds a randomly initialised model.
func New(o Options) (*Model, error) {
	tok, err := tokenizer.New(o.Vocab, o.Tokenizer)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, err, "model: tokenizer")
	}
	o.Encoder.VocabSize = tok.VocabSize()
	enc, err := encoder.New(o.Encoder, o.Seed)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, err, "model: encoder")
	}
	tags := dataset.NewTagSet(o.Tags...)
	tg, err := tagger.New(enc, tags.Len(),
		tagger.WithDetachedNeighbors(o.Detached),
		tagger.WithCosine(o.Cosine),
		tagger.WithMapper(o.Mapper),
		tagger.WithSeed(o.Seed+1),
	)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, err, "model: tagger")
	}
	return &Model{
		Tokenizer: tok,
		Tags:      tags,
		Encoder:   enc,
		Tagger:    tg,
		Mapper:    o.Mapper,
		TagType:   o.TagType,
		Cosine:    o.Cosine,
	}, nil
}

// Params lists every trainable parameter, encoder first.
func (m *Model) Params() []*nn.Param {
	return append(m.Encoder.Params(), m.Tagger.Params()...)
}

// Metric is the similarity used for retrieval.
func (m *Model) Metric() search.Metric {
	if m.Cosine {
		return search.Cosine
	}
	return search.Dot
}

// Preparer returns a preparer for this model's vocabularies. The tag set
// is fixed once the tagger exists, so unknown tags are data errors.
func (m *Model) Preparer(log *zap.Logger) dataset.Preparer {
	return dataset.Preparer{Tokenizer: m.Tokenizer, Tags: m.Tags, Mapper: m.Mapper, Log: log}
}

// Describe returns the checkpoint description of the model.
func (m *Model) Describe() checkpoint.Model {
	return checkpoint.Model{
		Vocab:           m.Tokenizer.Vocab(),
		Tokenizer:       m.Tokenizer.Config(),
		Encoder:         m.Encoder.Config(),
		Tags:            m.Tags.Names(),
		TagType:         m.TagType.String(),
		Cosine:          m.Cosine,
		WordMapping:     m.Mapper.Policy.String(),
		EmptyWordPolicy: m.Mapper.Empty.String(),
	}
}

// Tensors returns the parameters as checkpoint tensors.
func (m *Model) Tensors() []checkpoint.Tensor {
	return checkpoint.ParamTensors(m.Params())
}

// FromCheckpoint rebuilds the model stored in r and loads its parameters.
func FromCheckpoint(r *checkpoint.Reader, detached bool) (*Model, error) {
	meta := r.Meta().Model
	o, err := optionsFrom(meta)
	if err != nil {
		return nil, err
	}
	o.Detached = detached
	m, err := New(o)
	if err != nil {
		return nil, errs.Wrap(errs.Checkpoint, err, "model: rebuild")
	}
	if err := r.LoadParams(m.Params()); err != nil {
		return nil, err
	}
	return m, nil
}

func optionsFrom(meta checkpoint.Model) (Options, error) {
	tt, err := dataset.ParseTagType(meta.TagType)
	if err != nil {
		return Options{}, errs.Wrap(errs.Checkpoint, err, "model: checkpoint tag type")
	}
	policy, err := wordmap.ParsePolicy(meta.WordMapping)
	if err != nil {
		return Options{}, errs.Wrap(errs.Checkpoint, err, "model: checkpoint word mapping")
	}
	empty, err := wordmap.ParseEmptyPolicy(meta.EmptyWordPolicy)
	if err != nil {
		return Options{}, errs.Wrap(errs.Checkpoint, err, "model: checkpoint empty word policy")
	}
	if len(meta.Vocab) == 0 || len(meta.Tags) == 0 {
		return Options{}, errs.New(errs.Checkpoint, "model: checkpoint has no vocabulary or tag set")
	}
	return Options{
		Vocab:     meta.Vocab,
		Tokenizer: meta.Tokenizer,
		Encoder:   meta.Encoder,
		Tags:      meta.Tags,
		TagType:   tt,
		Mapper:    wordmap.Mapper{Policy: policy, Empty: empty},
		Cosine:    meta.Cosine,
	}, nil
}

// Pretrained is the content of a pretrained model directory.
type Pretrained struct {
	Vocab []string
	// Encoder is nil when the directory has no encoder weights.
	Encoder *checkpoint.Reader
}

// OpenPretrained reads dir/vocab.txt and, when present, dir/encoder.nntg.
// The caller closes Encoder.
func OpenPretrained(dir string) (*Pretrained, error) {
	vocab, err := tokenizer.LoadVocab(filepath.Join(dir, VocabFile))
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, err, "model: bert_model %s", dir)
	}
	p := &Pretrained{Vocab: vocab}
	path := filepath.Join(dir, EncoderFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	r, err := checkpoint.Open(path)
	if err != nil {
		return nil, err
	}
	p.Encoder = r
	return p, nil
}

// EncoderConfig returns the pretrained encoder shape, or fallback when the
// directory carries no weights.
func (p *Pretrained) EncoderConfig(fallback encoder.Config) encoder.Config {
	if p.Encoder == nil {
		return fallback
	}
	cfg := p.Encoder.Meta().Model.Encoder
	cfg.Dropout = fallback.Dropout
	return cfg
}

// LoadEncoder copies pretrained encoder weights into m.
func (p *Pretrained) LoadEncoder(m *Model) error {
	if p.Encoder == nil {
		return nil
	}
	return p.Encoder.LoadParams(m.Encoder.Params())
}

// Close releases the encoder weights file.
func (p *Pretrained) Close() error {
	if p.Encoder == nil {
		return nil
	}
	return p.Encoder.Close()
}
