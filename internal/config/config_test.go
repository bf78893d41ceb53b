package config

import (
	"strings"
	"testing"

	"github.com/headlands-org/nntagger/internal/errs"
)

func validConfig() Config {
	cfg := Default()
	cfg.BertModel = "models/tiny"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.TopK != 50 || cfg.Cuda != -1 || cfg.WordpieceWordMapping != "first" {
		t.Fatalf("unexpected defaults: topk=%d cuda=%d mapping=%q", cfg.TopK, cfg.Cuda, cfg.WordpieceWordMapping)
	}
	if !cfg.NoGradThroughNeighbors || !cfg.Cosine || !cfg.EvalAccuracy {
		t.Fatalf("boolean defaults not applied: %+v", cfg)
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate(defaults): %v", err)
	}
}

func TestValidateRejectsInconsistentOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"eval only without weights", func(c *Config) { c.EvalOnly = true }, "eval_only requires trained_weights"},
		{"unknown mapping", func(c *Config) { c.WordpieceWordMapping = "mean" }, "wordpiece_word_mapping"},
		{"zero topk", func(c *Config) { c.TopK = 0 }, "topk must be positive"},
		{"bad cuda", func(c *Config) { c.Cuda = -2 }, "cuda"},
		{"same splits", func(c *Config) { c.ValidationSplit = c.TrainSplit }, "must differ"},
		{"warmup out of range", func(c *Config) { c.WarmupProp = 1.5 }, "warmup_prop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.want)
			}
			if !errs.Is(err, errs.Configuration) {
				t.Fatalf("Validate() kind = %v, want configuration", errs.KindOf(err))
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestEvalOnlyWithWeightsIsValid(t *testing.T) {
	cfg := Default()
	cfg.EvalOnly = true
	cfg.TrainedWeights = "run/best.nntg"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate(): %v", err)
	}
}

func TestSetAndGet(t *testing.T) {
	cfg := Default()
	if err := cfg.Set("nosplits", "[CLS], -DOCSTART-"); err != nil {
		t.Fatalf("Set(nosplits): %v", err)
	}
	if len(cfg.NoSplits) != 2 || cfg.NoSplits[1] != "-DOCSTART-" {
		t.Fatalf("NoSplits = %q", cfg.NoSplits)
	}
	if err := cfg.Set("lr", "3e-5"); err != nil {
		t.Fatalf("Set(lr): %v", err)
	}
	if got, _ := cfg.Get("lr"); got != "3e-05" {
		t.Fatalf("Get(lr) = %q", got)
	}
	if err := cfg.Set("random_neighbors_in_train", "true"); err != nil || !cfg.RandomNeighborsInTrain {
		t.Fatalf("Set(random_neighbors_in_train): %v", err)
	}
	err := cfg.Set("learning_rate", "1")
	if !errs.Is(err, errs.Configuration) {
		t.Fatalf("Set(unknown) = %v, want configuration error", err)
	}
	if err := cfg.Set("topk", "many"); !errs.Is(err, errs.Configuration) {
		t.Fatalf("Set(topk, many) = %v, want configuration error", err)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("NNTAGGER_TOPK", "7")
	t.Setenv("NNTAGGER_COSINE", "false")
	t.Setenv("NNTAGGER_NOSPLITS", "a,b,c")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if cfg.TopK != 7 || cfg.Cosine || len(cfg.NoSplits) != 3 {
		t.Fatalf("environment not applied: topk=%d cosine=%v nosplits=%q", cfg.TopK, cfg.Cosine, cfg.NoSplits)
	}
}

func TestFieldsCoverEveryOption(t *testing.T) {
	m := Default().Map()
	for _, name := range []string{"bert_model", "train_split", "validation_split", "tag_type", "nosplits",
		"lowercase", "trained_weights", "preprocess_batch_size", "train_batch_size", "topk", "seed", "cuda",
		"lr", "dropout", "grad_norm", "warmup_prop", "epochs", "log_interval", "save",
		"no_grad_through_neighbors", "train_num_neighbor_sentences", "eval_num_neighbor_sentences",
		"random_neighbors_in_train", "eval_accuracy", "shard_batch_size", "cosine",
		"wordpiece_word_mapping", "max_num_neighbor_tokens", "eval_only"} {
		if _, ok := m[name]; !ok {
			t.Errorf("option %q missing", name)
		}
	}
}
