// Package train runs the training and evaluation loop.
//
// Every epoch rebuilds the sentence index from the current encoder, walks
// the training split in seeded shuffled batches, retrieves neighbors for
// each batch from that epoch's index and takes one optimizer step per
// batch. Evaluation retrieves true neighbors from a fresh index of the
// training split for every validation sentence.
package train

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/headlands-org/nntagger/internal/checkpoint"
	"github.com/headlands-org/nntagger/internal/config"
	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/internal/device"
	"github.com/headlands-org/nntagger/internal/eval"
	"github.com/headlands-org/nntagger/internal/index"
	"github.com/headlands-org/nntagger/internal/logging"
	"github.com/headlands-org/nntagger/internal/model"
	"github.com/headlands-org/nntagger/internal/neighbors"
	"github.com/headlands-org/nntagger/internal/nn"
	"github.com/headlands-org/nntagger/internal/optim"
	"github.com/headlands-org/nntagger/internal/tagger"
)

// Loop owns the model, the prepared splits and the optimizer.
type Loop struct {
	cfg   config.Config
	log   *zap.Logger
	model *model.Model
	train []*dataset.Example
	valid []*dataset.Example
	// skipped counts sentences dropped per split by data errors.
	skipped map[string]int

	trainNeighbors *neighbors.Retriever
	evalNeighbors  *neighbors.Retriever
	opt            *optim.AdamW
	sched          optim.Schedule
	dropout        *rand.Rand
	workers        int
	observer       Observer

	state       State
	evaluations int
}

// Option configures a Loop.
type Option func(*Loop)

// WithObserver reports index builds and epochs to o.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observer = o
		}
	}
}

// New returns a loop over already prepared splits. The model must have
// been built with the neighbor detachment cfg asks for.
func New(cfg config.Config, m *model.Model, train, valid []*dataset.Example, log *zap.Logger, opts ...Option) (*Loop, error) {
	decay, err := optim.ParseDecay(cfg.LRSchedule)
	if err != nil {
		return nil, err
	}
	if cfg.TrainBatchSize <= 0 || cfg.ShardBatchSize <= 0 {
		return nil, fmt.Errorf("train: batch sizes must be positive")
	}
	log = logging.OrNop(log)
	workers := device.Workers(cfg.Workers)
	l := &Loop{
		cfg:      cfg,
		log:      log,
		model:    m,
		train:    train,
		valid:    valid,
		skipped:  map[string]int{},
		opt:      optim.NewAdamW(m.Params(), cfg.WeightDecay),
		dropout:  rand.New(rand.NewSource(cfg.Seed)),
		workers:  workers,
		observer: nopObserver{},
		state:    newState(),
	}
	l.sched = optim.Schedule{
		Base:   cfg.LR,
		Warmup: cfg.WarmupProp,
		Total:  cfg.Epochs * l.batchesPerEpoch(),
		Decay:  decay,
	}
	retrieverOpts := []neighbors.Option{
		neighbors.WithChunkSize(cfg.PreprocessBatchSize),
		neighbors.WithWorkers(workers),
		neighbors.WithLogger(log),
	}
	l.trainNeighbors = neighbors.New(
		neighbors.ForTraining(cfg.TopK, cfg.TrainNumNeighborSentences, cfg.MaxNumNeighborTokens, cfg.RandomNeighborsInTrain, cfg.Seed),
		m.Encoder, retrieverOpts...)
	l.evalNeighbors = neighbors.New(
		neighbors.ForEvaluation(cfg.TopK, cfg.EvalNumNeighborSentences, cfg.MaxNumNeighborTokens),
		m.Encoder, retrieverOpts...)
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State returns the training position.
func (l *Loop) State() State { return l.state }

// Model returns the model being trained.
func (l *Loop) Model() *model.Model { return l.model }

// Evaluations returns how many evaluation passes have run.
func (l *Loop) Evaluations() int { return l.evaluations }

// Resume restores the training position and optimizer moments stored in r.
func (l *Loop) Resume(r *checkpoint.Reader) error {
	l.state = stateFrom(r.Meta().State)
	s, ok, err := r.OptimizerState(l.model.Params())
	if err != nil {
		return err
	}
	if ok {
		if err := l.opt.Restore(s); err != nil {
			return fmt.Errorf("train: resume: %w", err)
		}
	}
	l.log.Info("resumed", zap.String("run", l.state.RunID.String()),
		zap.Int("epoch", l.state.Epoch), zap.Int64("step", l.state.Step), zap.Bool("optimizer", ok))
	return nil
}

func (l *Loop) batchesPerEpoch() int {
	return (len(l.train) + l.cfg.TrainBatchSize - 1) / l.cfg.TrainBatchSize
}

func (l *Loop) spans() bool { return l.model.TagType.Spans() }

// Run trains until cfg.Epochs epochs are complete, or evaluates once when
// cfg.EvalOnly is set. A cancelled context stops between batches and
// leaves any existing checkpoint untouched.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("run",
		zap.String("run", l.state.RunID.String()),
		zap.Int("train", len(l.train)),
		zap.Int("valid", len(l.valid)),
		zap.Int("params", nn.Count(l.model.Params())),
		zap.Stringer("train_neighbors", l.trainNeighbors.Strategy()),
		zap.Stringer("eval_neighbors", l.evalNeighbors.Strategy()),
		zap.Bool("detached", l.model.Tagger.Detached()),
		zap.Int("workers", l.workers))

	if l.cfg.EvalOnly {
		_, err := l.Evaluate(ctx)
		return err
	}

	for l.state.Epoch < l.cfg.Epochs {
		epoch := l.state.Epoch + 1
		sum, err := l.trainEpoch(ctx, epoch)
		if err != nil {
			return err
		}
		l.state.Epoch = epoch

		improved := true
		if l.cfg.EvalAccuracy {
			m, err := l.Evaluate(ctx)
			if err != nil {
				return err
			}
			sum.metrics = &m
			score := m.Primary(l.spans())
			improved = !l.state.HasBest || score > l.state.BestScore
			if improved {
				l.state.BestScore, l.state.HasBest = score, true
			}
		}
		sum.log(l.log, l.skipped)

		if l.cfg.Save != "" && improved {
			if err := l.save(); err != nil {
				return err
			}
			l.log.Info("saved checkpoint", zap.String("path", l.cfg.Save), zap.Int("epoch", epoch))
		}
	}
	return nil
}

type epochSummary struct {
	epoch     int
	steps     int
	loss      float64
	words     int
	retrieval neighbors.Stats
	wall, cpu time.Duration
	metrics   *eval.Metrics
}

func (s epochSummary) log(log *zap.Logger, skipped map[string]int) {
	fields := []zap.Field{
		zap.Int("epoch", s.epoch),
		zap.Int("steps", s.steps),
		zap.Float64("loss", ratio(s.loss, s.words)),
		zap.Int64("degraded", s.retrieval.Degraded),
		zap.Int64("dropped_candidates", s.retrieval.Dropped),
		zap.Any("skipped_sentences", skipped),
		zap.Duration("wall", s.wall),
		zap.Duration("cpu", s.cpu),
	}
	if s.metrics != nil {
		fields = append(fields, zap.Object("validation", *s.metrics))
	}
	log.Info("epoch done", fields...)
}

func (l *Loop) trainEpoch(ctx context.Context, epoch int) (epochSummary, error) {
	sum := epochSummary{epoch: epoch}
	start, cpu0 := time.Now(), cpuTime()

	snap, err := l.buildIndex(ctx, fmt.Sprintf("epoch %d index", epoch))
	if err != nil {
		return sum, err
	}
	l.model.Encoder.SetDropout(l.cfg.Dropout)
	l.trainNeighbors.ResetStats()

	order := rand.New(rand.NewSource(l.cfg.Seed + int64(epoch))).Perm(len(l.train))
	batches := l.batchesPerEpoch()
	l.observer.Begin(fmt.Sprintf("epoch %d", epoch), batches)
	defer l.observer.End()

	var intervalLoss float64
	var intervalWords int
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		lo, hi := b*l.cfg.TrainBatchSize, min((b+1)*l.cfg.TrainBatchSize, len(order))
		batch := make([]*dataset.Example, hi-lo)
		for i := range batch {
			batch[i] = l.train[order[lo+i]]
		}

		loss, words, norm, err := l.step(ctx, batch, snap)
		if err != nil {
			return sum, err
		}
		l.observer.Progress(b + 1)
		if words == 0 {
			continue
		}
		sum.steps++
		sum.loss += loss
		sum.words += words
		intervalLoss += loss
		intervalWords += words

		if l.logDue(words) {
			l.log.Info("train",
				zap.Int("epoch", epoch),
				zap.Int64("step", l.state.Step),
				zap.Float64("loss", ratio(intervalLoss, intervalWords)),
				zap.Float64("lr", l.sched.LR(int(l.state.Step))),
				zap.Float64("grad_norm", norm))
			intervalLoss, intervalWords = 0, 0
		}
	}
	sum.retrieval = l.trainNeighbors.Stats()
	sum.wall = time.Since(start)
	sum.cpu = cpuTime() - cpu0
	return sum, nil
}

// logDue reports whether a step that scored words closes a log interval.
// A batch with nothing scored leaves Step unchanged and is never logged.
func (l *Loop) logDue(words int) bool {
	return words > 0 && l.state.Step%int64(l.cfg.LogInterval) == 0
}

// step runs one optimizer update over batch and returns the summed loss,
// the number of scored words and the gradient norm before clipping.
func (l *Loop) step(ctx context.Context, batch []*dataset.Example, snap *index.Snapshot) (float64, int, float64, error) {
	sets, err := l.trainNeighbors.RetrieveAll(ctx, batch, snap)
	if err != nil {
		return 0, 0, 0, err
	}
	passes := make([]*tagger.Pass, len(batch))
	var loss float64
	words := 0
	for i, ex := range batch {
		p, err := l.model.Tagger.Forward(ex, sets[i], l.dropout)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("train: %s: %w", ex.Key(), err)
		}
		passes[i] = p
		loss += p.Loss
		words += p.Scored
	}
	if words == 0 {
		return 0, 0, 0, nil
	}

	params := l.model.Params()
	for _, p := range passes {
		p.Backward(1 / float64(words))
	}
	norm := optim.ClipGradNorm(params, l.cfg.GradNorm)
	l.state.Step++
	l.opt.Step(l.sched.LR(int(l.state.Step)))
	nn.ZeroGrads(params)
	l.model.Encoder.Bump()
	return loss, words, norm, nil
}

func (l *Loop) buildIndex(ctx context.Context, phase string) (*index.Snapshot, error) {
	l.observer.Begin(phase, len(l.train))
	defer l.observer.End()
	return index.Build(ctx, l.train, l.model.Encoder, index.Options{
		ShardSize: l.cfg.ShardBatchSize,
		Workers:   l.workers,
		Metric:    l.model.Metric(),
		Log:       l.log,
		Progress:  l.observer.Progress,
	})
}

// Evaluate tags the validation split against true neighbors from the
// training split and scores the result.
func (l *Loop) Evaluate(ctx context.Context) (eval.Metrics, error) {
	l.evaluations++
	snap, err := l.buildIndex(ctx, "evaluation index")
	if err != nil {
		return eval.Metrics{}, err
	}
	l.evalNeighbors.ResetStats()
	sets, err := l.evalNeighbors.RetrieveAll(ctx, l.valid, snap)
	if err != nil {
		return eval.Metrics{}, err
	}

	preds := make([][]int, len(l.valid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, ex := range l.valid {
		i, ex := i, ex
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := l.model.Tagger.Tag(ex, sets[i])
			if err != nil {
				return fmt.Errorf("train: evaluate %s: %w", ex.Key(), err)
			}
			preds[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eval.Metrics{}, err
	}

	scorer := eval.NewScorer(l.model.Tags.Names())
	for i, ex := range l.valid {
		if err := scorer.Add(preds[i], ex.Tags, ex.Mask); err != nil {
			return eval.Metrics{}, fmt.Errorf("train: score %s: %w", ex.Key(), err)
		}
	}
	m := scorer.Metrics()
	stats := l.evalNeighbors.Stats()
	l.log.Info("evaluation",
		zap.Int("epoch", l.state.Epoch),
		zap.Object("metrics", m),
		zap.Float64("primary", m.Primary(l.spans())),
		zap.Int64("degraded", stats.Degraded))
	return m, nil
}

func (l *Loop) save() error {
	params := l.model.Params()
	meta := checkpoint.Meta{
		Model:  l.model.Describe(),
		State:  l.state.checkpoint(l.opt.Steps()),
		Config: l.cfg.Map(),
	}
	tensors := append(l.model.Tensors(), checkpoint.MomentTensors(params, l.opt.State())...)
	return checkpoint.Save(l.cfg.Save, meta, tensors)
}

func ratio(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
