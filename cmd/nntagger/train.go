package main

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/headlands-org/nntagger/internal/config"
	"github.com/headlands-org/nntagger/internal/logging"
	"github.com/headlands-org/nntagger/internal/train"
)

const noProgressFlag = "no_progress"

// configFlags registers one flag per configuration option. Defaults shown in
// help are the built-in ones; NNTAGGER_* variables still apply underneath.
func configFlags() []cli.Flag {
	fields := config.Fields()
	flags := make([]cli.Flag, 0, len(fields)+1)
	for _, f := range fields {
		if f.Kind == reflect.Bool {
			flags = append(flags, &cli.BoolFlag{Name: f.Name, Usage: f.Usage, DefaultText: f.Default})
			continue
		}
		flags = append(flags, &cli.StringFlag{Name: f.Name, Usage: f.Usage, DefaultText: f.Default})
	}
	return append(flags, &cli.BoolFlag{Name: noProgressFlag, Usage: "disable progress bars"})
}

// loadConfig overlays the flags the user set on the environment config.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	for _, f := range config.Fields() {
		if !c.IsSet(f.Name) {
			continue
		}
		value := c.String(f.Name)
		if f.Kind == reflect.Bool {
			value = strconv.FormatBool(c.Bool(f.Name))
		}
		if err := cfg.Set(f.Name, value); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func setup(c *cli.Context, cfg config.Config) (*train.Loop, *zap.Logger, error) {
	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return nil, nil, err
	}
	var opts []train.Option
	if !c.Bool(noProgressFlag) {
		opts = append(opts, train.WithObserver(newBarObserver(c.App.ErrWriter)))
	}
	l, err := train.Setup(cfg, log, opts...)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return l, log, nil
}

func trainCommand() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "train a tagger on data_dir/<train_split>.txt",
		Flags: configFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			l, log, err := setup(c, cfg)
			if err != nil {
				return err
			}
			defer log.Sync()
			if err := l.Run(c.Context); err != nil {
				return err
			}
			st := l.State()
			if st.HasBest {
				fmt.Fprintf(c.App.Writer, "run %s: %d epochs, best %.4f\n", st.RunID, st.Epoch, st.BestScore)
			} else {
				fmt.Fprintf(c.App.Writer, "run %s: %d epochs\n", st.RunID, st.Epoch)
			}
			return nil
		},
	}
}

func evalCommand() *cli.Command {
	return &cli.Command{
		Name:  "eval",
		Usage: "evaluate trained_weights on the validation split",
		Flags: configFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			cfg.EvalOnly = true
			l, log, err := setup(c, cfg)
			if err != nil {
				return err
			}
			defer log.Sync()
			m, err := l.Evaluate(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s: %s\n", cfg.ValidationSplit, m)
			return nil
		},
	}
}
