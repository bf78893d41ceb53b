package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/headlands-org/nntagger/internal/encoder"
	"github.com/headlands-org/nntagger/internal/errs"
	"github.com/headlands-org/nntagger/internal/nn"
	"github.com/headlands-org/nntagger/internal/optim"
)

func testParams() []*nn.Param {
	a := nn.NewParam("a", false, 2, 3)
	b := nn.NewParam("b", true, 5)
	for i := range a.Data {
		a.Data[i] = float32(i) + 0.5
		a.Grad[i] = 1
	}
	for i := range b.Data {
		b.Data[i] = -float32(i)
		b.Grad[i] = -1
	}
	return []*nn.Param{a, b}
}

func TestSaveOpenRoundTrip(t *testing.T) {
	params := testParams()
	opt := optim.NewAdamW(params, 0.01)
	opt.Step(0.1)

	meta := Meta{
		Model: Model{
			Vocab:   []string{"[PAD]", "[UNK]", "a"},
			Encoder: encoder.Config{VocabSize: 3, Dim: 2, MaxLen: 4},
			Tags:    []string{"O", "B-PER"},
			TagType: "ner",
		},
		State:  State{RunID: "run", Epoch: 2, Step: 40, OptimizerSteps: opt.Steps(), BestScore: 0.75, HasBest: true},
		Config: map[string]string{"lr": "5e-05"},
	}
	path := filepath.Join(t.TempDir(), "model.nntg")
	tensors := append(ParamTensors(params), MomentTensors(params, opt.State())...)
	if err := Save(path, meta, tensors); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got := r.Meta()
	if got.State != meta.State || got.Model.TagType != "ner" || len(got.Model.Vocab) != 3 || got.Config["lr"] != "5e-05" {
		t.Fatalf("Meta = %+v", got)
	}
	if len(r.Names()) != 6 {
		t.Fatalf("Names = %v", r.Names())
	}

	fresh := []*nn.Param{nn.NewParam("a", false, 2, 3), nn.NewParam("b", true, 5)}
	if err := r.LoadParams(fresh); err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	for i, p := range fresh {
		for j := range p.Data {
			if p.Data[j] != params[i].Data[j] {
				t.Fatalf("%s[%d] = %f, want %f", p.Name, j, p.Data[j], params[i].Data[j])
			}
		}
	}

	state, ok, err := r.OptimizerState(fresh)
	if err != nil || !ok {
		t.Fatalf("OptimizerState = %v, %v", ok, err)
	}
	if state.Steps != 1 || state.M["a"][0] != opt.State().M["a"][0] {
		t.Fatalf("optimizer state = %+v", state)
	}
}

func TestOpenRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content []byte
	}{
		{"short", []byte("NN")},
		{"magic", []byte("NNTX\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00")},
		{"meta length", []byte("NNTG\x01\x00\x00\x00\xff\x00\x00\x00\x00\x00\x00\x00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, tt.content, 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Open(path); !errs.Is(err, errs.Checkpoint) {
				t.Fatalf("Open(%s) = %v, want checkpoint error", tt.name, err)
			}
		})
	}
	if _, err := Open(filepath.Join(dir, "missing")); !errs.Is(err, errs.Checkpoint) {
		t.Fatalf("Open(missing) = %v, want checkpoint error", err)
	}
}

func TestLoadParamsShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.nntg")
	if err := Save(path, Meta{}, ParamTensors(testParams())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.LoadParams([]*nn.Param{nn.NewParam("a", false, 3, 2)}); !errs.Is(err, errs.Checkpoint) {
		t.Fatalf("LoadParams(wrong shape) = %v", err)
	}
	if err := r.LoadParams([]*nn.Param{nn.NewParam("c", false, 1)}); !errs.Is(err, errs.Checkpoint) {
		t.Fatalf("LoadParams(missing) = %v", err)
	}
	if _, ok, err := r.OptimizerState(testParams()); ok || err != nil {
		t.Fatalf("OptimizerState without moments = %v, %v", ok, err)
	}
}

func TestSaveRejectsInconsistentTensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nntg")
	err := Save(path, Meta{}, []Tensor{{Name: "x", Shape: []int{2, 2}, Data: []float32{1}}})
	if !errs.Is(err, errs.Checkpoint) {
		t.Fatalf("Save = %v, want checkpoint error", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("Save left a file behind")
	}
}
