// Package config holds the training/evaluation options and their validation.
//
// Values come from three layers, later layers winning: built-in defaults,
// NNTAGGER_* environment variables, then command-line flags applied by the
// caller through Set.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/headlands-org/nntagger/internal/errs"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "NNTAGGER_"

// Config is the full option surface. Field names in `name` tags are the
// option names accepted on the command line.
type Config struct {
	BertModel       string   `name:"bert_model" env:"BERT_MODEL" usage:"directory holding vocab.txt and optional pretrained encoder weights"`
	DataDir         string   `name:"data_dir" env:"DATA_DIR" envDefault:"data" usage:"directory holding <split>.txt CoNLL files"`
	TrainSplit      string   `name:"train_split" env:"TRAIN_SPLIT" envDefault:"train" usage:"training split name"`
	ValidationSplit string   `name:"validation_split" env:"VALIDATION_SPLIT" envDefault:"valid" usage:"validation split name"`
	TagType         string   `name:"tag_type" env:"TAG_TYPE" envDefault:"ner" usage:"tag column: ner, pos or chunk"`
	NoSplits        []string `name:"nosplits" env:"NOSPLITS" envSeparator:"," usage:"tokens the subword tokenizer must never split"`
	Lowercase       bool     `name:"lowercase" env:"LOWERCASE" usage:"lowercase words before subword tokenization"`
	TrainedWeights  string   `name:"trained_weights" env:"TRAINED_WEIGHTS" usage:"checkpoint to resume from or evaluate"`

	PreprocessBatchSize int   `name:"preprocess_batch_size" env:"PREPROCESS_BATCH_SIZE" envDefault:"128" usage:"queries retrieved per parallel chunk"`
	TrainBatchSize      int   `name:"train_batch_size" env:"TRAIN_BATCH_SIZE" envDefault:"16" usage:"sentences per optimizer step"`
	TopK                int   `name:"topk" env:"TOPK" envDefault:"50" usage:"maximum neighbors per sentence"`
	Seed                int64 `name:"seed" env:"SEED" envDefault:"0" usage:"random seed"`
	Cuda                int   `name:"cuda" env:"CUDA" envDefault:"-1" usage:"CUDA device index, -1 for CPU"`

	LR          float64 `name:"lr" env:"LR" envDefault:"0.001" usage:"peak learning rate"`
	Dropout     float64 `name:"dropout" env:"DROPOUT" envDefault:"0.1" usage:"encoder dropout probability"`
	GradNorm    float64 `name:"grad_norm" env:"GRAD_NORM" envDefault:"1.0" usage:"global gradient norm clip"`
	WarmupProp  float64 `name:"warmup_prop" env:"WARMUP_PROP" envDefault:"0.1" usage:"fraction of steps spent in linear warmup"`
	WeightDecay float64 `name:"weight_decay" env:"WEIGHT_DECAY" envDefault:"0.01" usage:"decoupled weight decay"`
	LRSchedule  string  `name:"lr_schedule" env:"LR_SCHEDULE" envDefault:"linear" usage:"decay after warmup: linear or constant"`
	Epochs      int     `name:"epochs" env:"EPOCHS" envDefault:"3" usage:"training epochs"`
	LogInterval int     `name:"log_interval" env:"LOG_INTERVAL" envDefault:"100" usage:"steps between loss log lines"`
	Save        string  `name:"save" env:"SAVE" usage:"checkpoint output path"`

	NoGradThroughNeighbors    bool   `name:"no_grad_through_neighbors" env:"NO_GRAD_THROUGH_NEIGHBORS" envDefault:"true" usage:"treat neighbor encodings as constants"`
	TrainNumNeighborSentences int    `name:"train_num_neighbor_sentences" env:"TRAIN_NUM_NEIGHBOR_SENTENCES" envDefault:"10" usage:"neighbors per sentence during training"`
	EvalNumNeighborSentences  int    `name:"eval_num_neighbor_sentences" env:"EVAL_NUM_NEIGHBOR_SENTENCES" envDefault:"10" usage:"neighbors per sentence during evaluation"`
	RandomNeighborsInTrain    bool   `name:"random_neighbors_in_train" env:"RANDOM_NEIGHBORS_IN_TRAIN" usage:"sample random neighbors while training"`
	EvalAccuracy              bool   `name:"eval_accuracy" env:"EVAL_ACCURACY" envDefault:"true" usage:"evaluate on the validation split"`
	ShardBatchSize            int    `name:"shard_batch_size" env:"SHARD_BATCH_SIZE" envDefault:"64" usage:"sentences per index shard"`
	Cosine                    bool   `name:"cosine" env:"COSINE" envDefault:"true" usage:"cosine similarity instead of dot product"`
	WordpieceWordMapping      string `name:"wordpiece_word_mapping" env:"WORDPIECE_WORD_MAPPING" envDefault:"first" usage:"subword reduction: first, last or sum"`
	MaxNumNeighborTokens      int    `name:"max_num_neighbor_tokens" env:"MAX_NUM_NEIGHBOR_TOKENS" envDefault:"512" usage:"subword budget across all neighbors"`
	EvalOnly                  bool   `name:"eval_only" env:"EVAL_ONLY" usage:"evaluate trained_weights once and exit"`
	EmptyWordPolicy           string `name:"empty_word_policy" env:"EMPTY_WORD_POLICY" envDefault:"skip" usage:"words without subwords: skip, zero or error"`

	HiddenDim int  `name:"hidden_dim" env:"HIDDEN_DIM" envDefault:"64" usage:"encoder width when no pretrained weights are given"`
	MaxSeqLen int  `name:"max_seq_len" env:"MAX_SEQ_LEN" envDefault:"256" usage:"encoder position table size"`
	Workers   int  `name:"workers" env:"WORKERS" envDefault:"0" usage:"parallel workers, 0 = physical cores"`
	Verbose   bool `name:"verbose" env:"VERBOSE" usage:"debug logging"`
}

var (
	tagTypes    = []string{"ner", "pos", "chunk"}
	mappings    = []string{"first", "last", "sum"}
	schedules   = []string{"linear", "constant"}
	emptyPolicy = []string{"skip", "zero", "error"}
)

// Default returns the built-in defaults with no environment applied.
func Default() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}, Prefix: EnvPrefix}); err != nil {
		panic(fmt.Sprintf("config: defaults do not parse: %v", err))
	}
	return cfg
}

// Load returns the defaults overlaid with NNTAGGER_* environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errs.Wrap(errs.Configuration, err, "parse environment")
	}
	return cfg, nil
}

// Validate checks single options and cross-option consistency.
func (c Config) Validate() error {
	var problems []string
	bad := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !contains(tagTypes, c.TagType) {
		bad("tag_type %q not one of %v", c.TagType, tagTypes)
	}
	if !contains(mappings, c.WordpieceWordMapping) {
		bad("wordpiece_word_mapping %q not one of %v", c.WordpieceWordMapping, mappings)
	}
	if !contains(schedules, c.LRSchedule) {
		bad("lr_schedule %q not one of %v", c.LRSchedule, schedules)
	}
	if !contains(emptyPolicy, c.EmptyWordPolicy) {
		bad("empty_word_policy %q not one of %v", c.EmptyWordPolicy, emptyPolicy)
	}
	if c.EvalOnly && c.TrainedWeights == "" {
		bad("eval_only requires trained_weights")
	}
	if !c.EvalOnly && c.BertModel == "" && c.TrainedWeights == "" {
		bad("bert_model or trained_weights is required")
	}
	if c.TrainSplit == "" || c.ValidationSplit == "" {
		bad("train_split and validation_split must be set")
	}
	if c.TrainSplit == c.ValidationSplit {
		bad("train_split and validation_split must differ")
	}
	for name, v := range map[string]int{
		"preprocess_batch_size": c.PreprocessBatchSize,
		"train_batch_size":      c.TrainBatchSize,
		"topk":                  c.TopK,
		"shard_batch_size":      c.ShardBatchSize,
		"log_interval":          c.LogInterval,
		"hidden_dim":            c.HiddenDim,
		"max_seq_len":           c.MaxSeqLen,
	} {
		if v <= 0 {
			bad("%s must be positive, got %d", name, v)
		}
	}
	if c.Epochs < 0 {
		bad("epochs must be non-negative, got %d", c.Epochs)
	}
	if c.TrainNumNeighborSentences < 0 || c.EvalNumNeighborSentences < 0 {
		bad("neighbor sentence counts must be non-negative")
	}
	if c.MaxNumNeighborTokens < 0 {
		bad("max_num_neighbor_tokens must be non-negative, got %d", c.MaxNumNeighborTokens)
	}
	if c.Cuda < -1 {
		bad("cuda must be -1 or a device index, got %d", c.Cuda)
	}
	if c.LR <= 0 {
		bad("lr must be positive, got %g", c.LR)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		bad("dropout must be in [0,1), got %g", c.Dropout)
	}
	if c.GradNorm <= 0 {
		bad("grad_norm must be positive, got %g", c.GradNorm)
	}
	if c.WarmupProp < 0 || c.WarmupProp > 1 {
		bad("warmup_prop must be in [0,1], got %g", c.WarmupProp)
	}
	if c.WeightDecay < 0 {
		bad("weight_decay must be non-negative, got %g", c.WeightDecay)
	}
	if c.Workers < 0 {
		bad("workers must be non-negative, got %d", c.Workers)
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return errs.New(errs.Configuration, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// Set assigns the option called name from its string form. Unknown names are
// a configuration error.
func (c *Config) Set(name, value string) error {
	f, ok := fieldsByName()[name]
	if !ok {
		return errs.New(errs.Configuration, "unrecognised option %q", name)
	}
	if err := f.set(c, value); err != nil {
		return errs.Wrap(errs.Configuration, err, "option %s", name)
	}
	return nil
}

// Get returns the string form of the option called name.
func (c Config) Get(name string) (string, bool) {
	f, ok := fieldsByName()[name]
	if !ok {
		return "", false
	}
	return f.get(c), true
}

// Map returns every option in string form, keyed by option name.
func (c Config) Map() map[string]string {
	out := make(map[string]string, len(Fields()))
	for _, f := range Fields() {
		out[f.Name] = f.get(c)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func parseBool(value string) (bool, error) {
	return strconv.ParseBool(value)
}
