package dataset

import (
	"go.uber.org/zap"

	"github.com/headlands-org/nntagger/internal/errs"
	"github.com/headlands-org/nntagger/internal/tokenizer"
	"github.com/headlands-org/nntagger/internal/wordmap"
)

// Example is a sentence ready for the encoder: subword ids, tag ids and the
// scoring mask from the empty-word policy.
type Example struct {
	Sentence *Sentence
	Encoding *tokenizer.Encoding
	Tags     []int
	Mask     []bool
}

// Key returns the sentence identifier.
func (e *Example) Key() Key { return e.Sentence.Key() }

// Tokens returns the number of subword units, the unit of the neighbor
// token budget.
func (e *Example) Tokens() int { return e.Encoding.Len() }

// Scored returns the number of words counted by loss and metrics.
func (e *Example) Scored() int {
	n := 0
	for _, ok := range e.Mask {
		if ok {
			n++
		}
	}
	return n
}

// Preparer turns sentences into examples.
type Preparer struct {
	Tokenizer *tokenizer.Tokenizer
	Tags      *TagSet
	Mapper    wordmap.Mapper
	// Grow lets unseen tags extend the tag set. Off for evaluation splits.
	Grow bool
	Log  *zap.Logger
}

// Prepare converts one sentence. Failures are data errors.
func (p Preparer) Prepare(s *Sentence) (*Example, error) {
	if len(s.Words) != len(s.Tags) {
		return nil, errs.New(errs.Data, "dataset: %s has %d words and %d tags", s.Key(), len(s.Words), len(s.Tags))
	}
	enc := p.Tokenizer.Encode(s.Words)
	if err := enc.Validate(); err != nil {
		return nil, errs.Wrap(errs.Data, err, "dataset: %s", s.Key())
	}
	mask, err := p.Mapper.Mask(enc)
	if err != nil {
		return nil, errs.Wrap(errs.Data, err, "dataset: %s", s.Key())
	}
	tags := make([]int, len(s.Tags))
	for i, tag := range s.Tags {
		if p.Grow {
			tags[i] = p.Tags.Add(tag)
			continue
		}
		id, ok := p.Tags.ID(tag)
		if !ok {
			return nil, errs.New(errs.Data, "dataset: %s word %d has unknown tag %q", s.Key(), i, tag)
		}
		tags[i] = id
	}
	return &Example{Sentence: s, Encoding: enc, Tags: tags, Mask: mask}, nil
}

// PrepareAll converts a corpus, skipping and logging sentences that fail.
// It returns the examples and the number of skipped sentences.
func (p Preparer) PrepareAll(c *Corpus) ([]*Example, int) {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	out := make([]*Example, 0, c.Len())
	skipped := 0
	for _, s := range c.Sentences {
		ex, err := p.Prepare(s)
		if err != nil {
			skipped++
			log.Warn("skipping sentence", zap.String("sentence", s.Key().String()), zap.Error(err))
			continue
		}
		out = append(out, ex)
	}
	return out, skipped
}
