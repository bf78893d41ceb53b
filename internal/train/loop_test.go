package train

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/headlands-org/nntagger/internal/checkpoint"
	"github.com/headlands-org/nntagger/internal/config"
	"github.com/headlands-org/nntagger/internal/model"
)

var vocab = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"john", "mary", "lives", "works", "in", "paris", "london", "berlin", "the", "city", "."}

var trainText = `-DOCSTART- -X- -X- O

john NNP B-NP B-PER
lives VBZ B-VP O
in IN B-PP O
paris NNP B-NP B-LOC
. . O O

mary NNP B-NP B-PER
works VBZ B-VP O
in IN B-PP O
london NNP B-NP B-LOC

the DT B-NP O
city NN I-NP O
. . O O

mary NNP B-NP B-PER
lives VBZ B-VP O
in IN B-PP O
berlin NNP B-NP B-LOC
`

var validText = `john NNP B-NP B-PER
works VBZ B-VP O
in IN B-PP O
berlin NNP B-NP B-LOC

mary NNP B-NP B-PER
lives VBZ B-VP O
`

// fixture writes a data directory and a model directory and returns a
// configuration pointing at them.
func fixture(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	bert := filepath.Join(dir, "bert")
	for _, d := range []string{data, bert} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		filepath.Join(data, "train.txt"):     trainText,
		filepath.Join(data, "valid.txt"):     validText,
		filepath.Join(bert, model.VocabFile): strings.Join(vocab, "\n") + "\n",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.BertModel = bert
	cfg.DataDir = data
	cfg.HiddenDim = 8
	cfg.MaxSeqLen = 16
	cfg.TrainBatchSize = 2
	cfg.ShardBatchSize = 2
	cfg.PreprocessBatchSize = 2
	cfg.TopK = 3
	cfg.TrainNumNeighborSentences = 2
	cfg.EvalNumNeighborSentences = 2
	cfg.MaxNumNeighborTokens = 12
	cfg.Epochs = 2
	cfg.LogInterval = 1
	cfg.Workers = 2
	cfg.LR = 0.01
	cfg.Save = filepath.Join(dir, "model.nntg")
	return cfg
}

type countingObserver struct {
	begins, ends int
}

func (o *countingObserver) Begin(string, int) { o.begins++ }
func (o *countingObserver) Progress(int)      {}
func (o *countingObserver) End()              { o.ends++ }

func TestTrainSavesAndResumes(t *testing.T) {
	cfg := fixture(t)
	obs := &countingObserver{}
	l, err := Setup(cfg, nil, WithObserver(obs))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if got := l.Model().Tags.Names(); len(got) != 3 {
		t.Fatalf("tags = %v, want O, B-PER, B-LOC", got)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := l.State()
	if st.Epoch != 2 || st.Step != 4 {
		t.Fatalf("state = %+v, want epoch 2 step 4", st)
	}
	if l.Evaluations() != 2 || !st.HasBest || math.IsNaN(st.BestScore) {
		t.Fatalf("evaluations = %d, best = %f (%v)", l.Evaluations(), st.BestScore, st.HasBest)
	}
	// Two epochs, each with an index build, an epoch bar and an evaluation index.
	if obs.begins != 6 || obs.ends != obs.begins {
		t.Fatalf("observer begins=%d ends=%d", obs.begins, obs.ends)
	}

	r, err := checkpoint.Open(cfg.Save)
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	meta := r.Meta()
	r.Close()
	if meta.State.RunID != st.RunID.String() || meta.Model.TagType != "ner" || meta.Config["topk"] != "3" {
		t.Fatalf("checkpoint meta = %+v", meta.State)
	}
	if meta.State.Epoch < 1 {
		t.Fatalf("checkpoint epoch = %d", meta.State.Epoch)
	}

	// Resuming with more epochs continues from the stored position.
	cfg.TrainedWeights = cfg.Save
	cfg.Epochs = 3
	cfg.Save = ""
	resumed, err := Setup(cfg, nil)
	if err != nil {
		t.Fatalf("Setup(resume): %v", err)
	}
	if resumed.State().RunID != st.RunID || resumed.State().Epoch != meta.State.Epoch {
		t.Fatalf("resumed state = %+v", resumed.State())
	}
	if err := resumed.Run(context.Background()); err != nil {
		t.Fatalf("Run(resume): %v", err)
	}
	if resumed.State().Epoch != 3 {
		t.Fatalf("resumed epoch = %d, want 3", resumed.State().Epoch)
	}
}

func TestEvalOnlyRunsOnePassWithoutUpdates(t *testing.T) {
	cfg := fixture(t)
	cfg.Epochs = 1
	l, err := Setup(cfg, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg.EvalOnly = true
	cfg.TrainedWeights = cfg.Save
	cfg.Save = ""
	cfg.Epochs = 5
	ev, err := Setup(cfg, nil)
	if err != nil {
		t.Fatalf("Setup(eval_only): %v", err)
	}
	before := append([]float32(nil), ev.Model().Params()[0].Data...)
	if err := ev.Run(context.Background()); err != nil {
		t.Fatalf("Run(eval_only): %v", err)
	}
	if ev.Evaluations() != 1 {
		t.Fatalf("evaluations = %d, want 1", ev.Evaluations())
	}
	if ev.State().Epoch != 1 || ev.State().Step != l.State().Step {
		t.Fatalf("eval_only changed the training position: %+v", ev.State())
	}
	for i, v := range ev.Model().Params()[0].Data {
		if v != before[i] {
			t.Fatalf("eval_only changed parameter value %d", i)
		}
	}
}

func TestCancelledRunWritesNoCheckpoint(t *testing.T) {
	cfg := fixture(t)
	l, err := Setup(cfg, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run(cancelled) = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(cfg.Save); !os.IsNotExist(err) {
		t.Fatalf("cancelled run wrote %s", cfg.Save)
	}
	if l.State().Epoch != 0 {
		t.Fatalf("cancelled run completed epoch %d", l.State().Epoch)
	}
}

func TestSaveEveryEpochWithoutEvaluation(t *testing.T) {
	cfg := fixture(t)
	cfg.EvalAccuracy = false
	cfg.Epochs = 1
	cfg.RandomNeighborsInTrain = true
	cfg.NoGradThroughNeighbors = false
	l, err := Setup(cfg, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if l.Model().Tagger.Detached() {
		t.Fatalf("model detached although no_grad_through_neighbors=false")
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if l.Evaluations() != 0 {
		t.Fatalf("evaluations = %d with eval_accuracy off", l.Evaluations())
	}
	if _, err := os.Stat(cfg.Save); err != nil {
		t.Fatalf("no checkpoint after epoch: %v", err)
	}
}

func TestSetupRejectsBadConfig(t *testing.T) {
	cfg := fixture(t)
	cfg.DataDir = filepath.Join(t.TempDir(), "missing")
	if _, err := Setup(cfg, nil); err == nil {
		t.Fatalf("Setup accepted a missing data directory")
	}
	cfg = fixture(t)
	cfg.EvalOnly = true
	if _, err := Setup(cfg, nil); err == nil {
		t.Fatalf("Setup accepted eval_only without trained_weights")
	}
}

func TestLogDueSkipsBatchesWithoutScoredWords(t *testing.T) {
	cfg := fixture(t)
	cfg.LogInterval = 2
	l, err := Setup(cfg, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	tests := []struct {
		step  int64
		words int
		want  bool
	}{
		{step: 4, words: 3, want: true},
		{step: 4, words: 0, want: false},
		{step: 5, words: 3, want: false},
		{step: 0, words: 0, want: false},
	}
	for _, tt := range tests {
		l.state.Step = tt.step
		if got := l.logDue(tt.words); got != tt.want {
			t.Errorf("logDue(step=%d, words=%d) = %v, want %v", tt.step, tt.words, got, tt.want)
		}
	}
}
