package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/headlands-org/nntagger/internal/config"
	"github.com/headlands-org/nntagger/internal/errs"
	"github.com/headlands-org/nntagger/internal/tokenizer"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := newApp(&out, &errOut).RunContext(context.Background(), append([]string{"nntagger"}, args...))
	return out.String(), err
}

func TestLoadConfigAppliesSetFlagsOnly(t *testing.T) {
	var got config.Config
	app := &cli.App{
		Name:  "probe",
		Flags: configFlags(),
		Action: func(c *cli.Context) error {
			var err error
			got, err = loadConfig(c)
			return err
		},
	}
	args := []string{"probe", "--topk", "7", "--lowercase", "--cosine=false", "--nosplits", "[X],[Y]", "--lr", "0.5"}
	if err := app.Run(args); err != nil {
		t.Fatalf("Run(%v): %v", args, err)
	}
	want := config.Default()
	if got.TopK != 7 || !got.Lowercase || got.Cosine || got.LR != 0.5 {
		t.Fatalf("flags not applied: %+v", got)
	}
	if len(got.NoSplits) != 2 || got.NoSplits[1] != "[Y]" {
		t.Fatalf("nosplits = %q", got.NoSplits)
	}
	if got.Epochs != want.Epochs || got.TagType != want.TagType {
		t.Fatalf("unset flags changed defaults: epochs=%d tag_type=%s", got.Epochs, got.TagType)
	}
}

func TestLoadConfigRejectsBadValue(t *testing.T) {
	app := &cli.App{
		Name:   "probe",
		Flags:  configFlags(),
		Action: func(c *cli.Context) error { _, err := loadConfig(c); return err },
	}
	err := app.Run([]string{"probe", "--epochs", "many"})
	if !errs.Is(err, errs.Configuration) {
		t.Fatalf("Run(--epochs many) = %v, want configuration error", err)
	}
	if exitCode(err) != 2 {
		t.Fatalf("exitCode = %d, want 2", exitCode(err))
	}
}

func TestVocabThenTokenize(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "train.txt")
	text := "Paris NNP B-NP B-LOC\nis VBZ B-VP O\nbig JJ B-ADJP O\n\nparis NNP B-NP B-LOC\nis VBZ B-VP O\n"
	if err := os.WriteFile(data, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	vocabPath := filepath.Join(dir, "vocab.txt")
	out, err := run(t, "vocab", "--out", vocabPath, "--min_freq", "2", "--lowercase", data)
	if err != nil {
		t.Fatalf("vocab: %v", err)
	}
	if !strings.Contains(out, "from 2 sentences") {
		t.Fatalf("vocab output = %q", out)
	}
	vocab, err := tokenizer.LoadVocab(vocabPath)
	if err != nil {
		t.Fatalf("LoadVocab: %v", err)
	}
	if vocab[0] != tokenizer.PadToken {
		t.Fatalf("vocab starts with %q", vocab[0])
	}

	out, err = run(t, "tokenize", "--vocab", vocabPath, "--lowercase", "Paris", "big")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] != "Paris\tparis" {
		t.Fatalf("tokenize output = %q", out)
	}
	// "big" occurs once, below min_freq, so it falls back to characters.
	if lines[1] != "big\tb ##i ##g" {
		t.Fatalf("tokenize big = %q", lines[1])
	}
}

func TestFormatTagged(t *testing.T) {
	got := formatTagged([]string{"John", "runs"}, []string{"B-PER", "O"})
	if got != "John/B-PER runs/O" {
		t.Fatalf("formatTagged = %q", got)
	}
}
