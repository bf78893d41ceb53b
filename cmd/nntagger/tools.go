package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/headlands-org/nntagger/internal/checkpoint"
	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/internal/device"
	"github.com/headlands-org/nntagger/internal/index"
	"github.com/headlands-org/nntagger/internal/kernels"
	"github.com/headlands-org/nntagger/internal/logging"
	"github.com/headlands-org/nntagger/internal/model"
	"github.com/headlands-org/nntagger/internal/tokenizer"
)

func tokenizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "tokenize",
		Usage:     "show the subword units of each word",
		ArgsUsage: "word ...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "vocab", Usage: "vocab.txt", Required: true},
			&cli.BoolFlag{Name: "lowercase", Usage: "lowercase before splitting"},
			&cli.StringSliceFlag{Name: "nosplits", Usage: "words never split"},
		},
		Action: func(c *cli.Context) error {
			tok, err := tokenizer.Load(c.String("vocab"), tokenizer.DefaultConfig(c.Bool("lowercase"), c.StringSlice("nosplits")))
			if err != nil {
				return err
			}
			words := c.Args().Slice()
			enc := tok.Encode(words)
			for i, w := range words {
				span := enc.Words[i]
				if span.Empty() {
					fmt.Fprintf(c.App.Writer, "%s\t(no subwords)\n", w)
					continue
				}
				pieces := make([]string, 0, span.Len())
				for _, id := range enc.IDs[span.Start:span.End] {
					pieces = append(pieces, tok.Token(id))
				}
				fmt.Fprintf(c.App.Writer, "%s\t%s\n", w, strings.Join(pieces, " "))
			}
			return nil
		},
	}
}

func vocabCommand() *cli.Command {
	return &cli.Command{
		Name:      "vocab",
		Usage:     "build a WordPiece vocabulary from CoNLL files",
		ArgsUsage: "file.txt ...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "vocab.txt to write", Required: true},
			&cli.IntFlag{Name: "min_freq", Value: 2, Usage: "minimum whole-word frequency"},
			&cli.IntFlag{Name: "max_size", Value: 30000, Usage: "vocabulary size limit, 0 = unbounded"},
			&cli.BoolFlag{Name: "lowercase", Usage: "lowercase before counting"},
			&cli.StringSliceFlag{Name: "nosplits", Usage: "words kept whole"},
			&cli.StringFlag{Name: "tag_type", Value: "ner", Usage: "tag column the files carry"},
		},
		Action: func(c *cli.Context) error {
			if !c.Args().Present() {
				return fmt.Errorf("vocab: no input files")
			}
			tt, err := dataset.ParseTagType(c.String("tag_type"))
			if err != nil {
				return err
			}
			var sentences [][]string
			for _, path := range c.Args().Slice() {
				corpus, err := readCorpus(path, tt)
				if err != nil {
					return err
				}
				for _, s := range corpus.Sentences {
					sentences = append(sentences, s.Words)
				}
			}
			cfg := tokenizer.DefaultConfig(c.Bool("lowercase"), c.StringSlice("nosplits"))
			vocab := tokenizer.BuildVocab(sentences, cfg, c.Int("min_freq"), c.Int("max_size"))
			if err := tokenizer.SaveVocab(c.String("out"), vocab); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "wrote %d entries from %d sentences to %s\n", len(vocab), len(sentences), c.String("out"))
			return nil
		},
	}
}

func readCorpus(path string, tt dataset.TagType) (*dataset.Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	corpus, _, err := dataset.Read(f, path, tt)
	return corpus, err
}

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "build or query a corpus index",
		Subcommands: []*cli.Command{
			{
				Name:  "build",
				Usage: "embed a CoNLL corpus with a trained encoder and save the index",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "model", Usage: "trained checkpoint", Required: true},
					&cli.StringFlag{Name: "corpus", Usage: "CoNLL corpus", Required: true},
					&cli.StringFlag{Name: "out", Usage: "index file", Required: true},
					&cli.IntFlag{Name: "shard_batch_size", Value: 64, Usage: "sentences per shard"},
					&cli.IntFlag{Name: "workers", Usage: "parallel shards, 0 = physical cores"},
					&cli.BoolFlag{Name: "verbose", Usage: "debug logging"},
				},
				Action: buildIndex,
			},
			{
				Name:      "query",
				Usage:     "print the corpus sentences nearest to a sentence",
				ArgsUsage: "word ...",
				Flags:     runtimeFlags(),
				Action: func(c *cli.Context) error {
					rt, err := openRuntime(c)
					if err != nil {
						return err
					}
					defer rt.Close()
					nbs, err := rt.Neighbors(c.Context, c.Args().Slice())
					if err != nil {
						return err
					}
					for _, n := range nbs {
						fmt.Fprintf(c.App.Writer, "%.4f\t%s\n", n.Score, formatTagged(n.Words, n.Tags))
					}
					return nil
				},
			},
		},
	}
}

func buildIndex(c *cli.Context) error {
	log, err := logging.New(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync()

	r, err := checkpoint.Open(c.String("model"))
	if err != nil {
		return err
	}
	defer r.Close()
	m, err := model.FromCheckpoint(r, true)
	if err != nil {
		return err
	}
	corpus, err := readCorpus(c.String("corpus"), m.TagType)
	if err != nil {
		return err
	}
	examples, skipped := m.Preparer(log).PrepareAll(corpus)
	log.Info("corpus prepared", zap.Int("sentences", len(examples)), zap.Int("skipped", skipped))

	obs := newBarObserver(c.App.ErrWriter)
	obs.Begin("index", len(examples))
	snap, err := index.Build(c.Context, examples, m.Encoder, index.Options{
		ShardSize:   c.Int("shard_batch_size"),
		Workers:     device.Workers(c.Int("workers")),
		Metric:      m.Metric(),
		Log:         log,
		Progress:    obs.Progress,
		Fingerprint: m.Encoder.Fingerprint(),
	})
	obs.End()
	if err != nil {
		return err
	}
	if err := snap.Save(c.String("out")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "indexed %d sentences (dim %d, %s) to %s\n", snap.Len(), snap.Dim(), snap.Metric(), c.String("out"))
	return nil
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the version and the compute device",
		Action: func(c *cli.Context) error {
			info, err := device.Select(-1, zap.NewNop())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "nntagger %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(c.App.Writer, "cpu: %s, %d cores, %d threads, avx2=%v avx512=%v, lanes=%d, workers=%d\n",
				info.CPU, info.Cores, info.Threads, info.AVX2, info.AVX512, kernels.Lanes(), device.DefaultWorkers())
			return nil
		},
	}
}
