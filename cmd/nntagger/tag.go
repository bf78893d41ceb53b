package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/urfave/cli/v2"

	"github.com/headlands-org/nntagger/pkg/nntag"
)

func runtimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "model", Usage: "trained checkpoint", Required: true},
		&cli.StringFlag{Name: "corpus", Usage: "CoNLL file supplying neighbor sentences"},
		&cli.StringFlag{Name: "index", Usage: "index cache for the corpus"},
		&cli.IntFlag{Name: "topk", Value: 50, Usage: "neighbor pool size"},
		&cli.IntFlag{Name: "neighbors", Value: 10, Usage: "neighbor sentences per query"},
		&cli.IntFlag{Name: "max_neighbor_tokens", Value: 512, Usage: "subword budget across neighbors"},
		&cli.IntFlag{Name: "threads", Usage: "sentences tagged at once, 0 = auto"},
		&cli.BoolFlag{Name: "verbose", Usage: "debug logging"},
	}
}

func openRuntime(c *cli.Context) (nntag.Runtime, error) {
	return nntag.Open(c.String("model"),
		nntag.WithCorpus(c.String("corpus")),
		nntag.WithIndex(c.String("index")),
		nntag.WithNeighbors(c.Int("topk"), c.Int("neighbors"), c.Int("max_neighbor_tokens")),
		nntag.WithThreads(c.Int("threads")),
		nntag.WithVerbose(c.Bool("verbose")),
	)
}

func tagCommand() *cli.Command {
	return &cli.Command{
		Name:      "tag",
		Usage:     "tag the sentence given as arguments, or start an interactive prompt",
		ArgsUsage: "[word ...]",
		Flags: append(runtimeFlags(),
			&cli.BoolFlag{Name: "show_neighbors", Usage: "print the retrieved neighbor sentences"}),
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()
			s := &session{rt: rt, out: c.App.Writer, showNeighbors: c.Bool("show_neighbors")}
			if c.Args().Present() {
				return s.tag(c.Context, c.Args().Slice())
			}
			return s.repl(c.Context)
		},
	}
}

// session is one tagging conversation.
type session struct {
	rt            nntag.Runtime
	out           io.Writer
	showNeighbors bool
}

var replCommands = []prompt.Suggest{
	{Text: ":neighbors", Description: "toggle neighbor display"},
	{Text: ":labels", Description: "list the tag set"},
	{Text: ":quit", Description: "leave"},
}

func (s *session) completer(d prompt.Document) []prompt.Suggest {
	w := d.GetWordBeforeCursor()
	if !strings.HasPrefix(w, ":") {
		return nil
	}
	return prompt.FilterHasPrefix(replCommands, w, true)
}

func (s *session) repl(ctx context.Context) error {
	fmt.Fprintln(s.out, "Type a sentence to tag it. :neighbors toggles context, :quit leaves.")
	var history []string
	for ctx.Err() == nil {
		in := strings.TrimSpace(prompt.Input("tag> ", s.completer,
			prompt.OptionTitle("nntagger tag"),
			prompt.OptionPrefixTextColor(prompt.Yellow),
			prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
			prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
			prompt.OptionSuggestionBGColor(prompt.DarkGray),
			prompt.OptionHistory(history),
		))
		switch in {
		case "":
			continue
		case ":quit", "quit", "exit":
			return nil
		case ":labels":
			fmt.Fprintln(s.out, strings.Join(s.rt.Labels(), " "))
			continue
		case ":neighbors":
			s.showNeighbors = !s.showNeighbors
			fmt.Fprintf(s.out, "neighbors %v\n", s.showNeighbors)
			continue
		}
		history = append(history, in)
		if err := s.tag(ctx, strings.Fields(in)); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return nil
}

func (s *session) tag(ctx context.Context, words []string) error {
	tags, err := s.rt.Tag(ctx, words)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, formatTagged(words, tags))
	if !s.showNeighbors {
		return nil
	}
	nbs, err := s.rt.Neighbors(ctx, words)
	if err != nil {
		return err
	}
	for _, n := range nbs {
		fmt.Fprintf(s.out, "  %.3f  %s\n", n.Score, formatTagged(n.Words, n.Tags))
	}
	return nil
}

// formatTagged renders words as word/TAG pairs.
func formatTagged(words, tags []string) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		if i < len(tags) {
			b.WriteByte('/')
			b.WriteString(tags[i])
		}
	}
	return b.String()
}
