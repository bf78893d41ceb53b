package train

import (
	"go.uber.org/zap"

	"github.com/headlands-org/nntagger/internal/checkpoint"
	"github.com/headlands-org/nntagger/internal/config"
	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/internal/device"
	"github.com/headlands-org/nntagger/internal/encoder"
	"github.com/headlands-org/nntagger/internal/errs"
	"github.com/headlands-org/nntagger/internal/logging"
	"github.com/headlands-org/nntagger/internal/model"
	"github.com/headlands-org/nntagger/internal/tokenizer"
	"github.com/headlands-org/nntagger/internal/wordmap"
)

// Setup validates cfg, loads the splits and builds or restores the model.
// With trained_weights the model, its vocabularies and the training
// position come from that checkpoint.
func Setup(cfg config.Config, log *zap.Logger, opts ...Option) (*Loop, error) {
	log = logging.OrNop(log)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info("config", zap.Any("options", cfg.Map()))
	if _, err := device.Select(cfg.Cuda, log); err != nil {
		return nil, err
	}
	tt, err := dataset.ParseTagType(cfg.TagType)
	if err != nil {
		return nil, err
	}

	skipped := map[string]int{}
	trainCorpus, err := loadSplit(cfg.DataDir, cfg.TrainSplit, tt, skipped, log)
	if err != nil {
		return nil, err
	}
	var validCorpus *dataset.Corpus
	if cfg.EvalAccuracy || cfg.EvalOnly {
		if validCorpus, err = loadSplit(cfg.DataDir, cfg.ValidationSplit, tt, skipped, log); err != nil {
			return nil, err
		}
	}

	var m *model.Model
	var resume *checkpoint.Reader
	if cfg.TrainedWeights != "" {
		r, err := checkpoint.Open(cfg.TrainedWeights)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		if m, err = model.FromCheckpoint(r, cfg.NoGradThroughNeighbors); err != nil {
			return nil, err
		}
		if m.TagType != tt {
			return nil, errs.New(errs.Configuration, "train: %s holds a %s model, tag_type is %s", cfg.TrainedWeights, m.TagType, tt)
		}
		resume = r
	} else if m, err = newModel(cfg, tt, trainCorpus); err != nil {
		return nil, err
	}

	prep := m.Preparer(log)
	train, n := prep.PrepareAll(trainCorpus)
	skipped[cfg.TrainSplit] += n
	var valid []*dataset.Example
	if validCorpus != nil {
		valid, n = prep.PrepareAll(validCorpus)
		skipped[cfg.ValidationSplit] += n
	}

	l, err := New(cfg, m, train, valid, log, opts...)
	if err != nil {
		return nil, err
	}
	l.skipped = skipped
	if resume != nil {
		if err := l.Resume(resume); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func loadSplit(dir, split string, tt dataset.TagType, skipped map[string]int, log *zap.Logger) (*dataset.Corpus, error) {
	c, bad, err := dataset.Load(dir, split, tt)
	if err != nil {
		return nil, err
	}
	for _, e := range bad {
		log.Warn("skipping sentence", zap.String("split", split), zap.Error(e))
	}
	skipped[split] += len(bad)
	log.Info("loaded split", zap.String("split", split), zap.Int("sentences", c.Len()), zap.Int("skipped", len(bad)))
	return c, nil
}

// newModel initialises a model from the bert_model directory, with tags
// taken from the training split.
func newModel(cfg config.Config, tt dataset.TagType, trainCorpus *dataset.Corpus) (*model.Model, error) {
	policy, err := wordmap.ParsePolicy(cfg.WordpieceWordMapping)
	if err != nil {
		return nil, err
	}
	empty, err := wordmap.ParseEmptyPolicy(cfg.EmptyWordPolicy)
	if err != nil {
		return nil, err
	}
	pre, err := model.OpenPretrained(cfg.BertModel)
	if err != nil {
		return nil, err
	}
	defer pre.Close()

	tags := dataset.NewTagSet()
	tags.AddCorpus(trainCorpus)
	m, err := model.New(model.Options{
		Vocab:     pre.Vocab,
		Tokenizer: tokenizer.DefaultConfig(cfg.Lowercase, cfg.NoSplits),
		Encoder: pre.EncoderConfig(encoder.Config{
			Dim:     cfg.HiddenDim,
			MaxLen:  cfg.MaxSeqLen,
			Dropout: cfg.Dropout,
		}),
		Tags:     tags.Names(),
		TagType:  tt,
		Mapper:   wordmap.Mapper{Policy: policy, Empty: empty},
		Cosine:   cfg.Cosine,
		Detached: cfg.NoGradThroughNeighbors,
		Seed:     cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	if err := pre.LoadEncoder(m); err != nil {
		return nil, err
	}
	return m, nil
}
