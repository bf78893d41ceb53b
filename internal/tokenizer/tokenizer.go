// Package tokenizer provides WordPiece subword tokenization over
// pre-split words.
package tokenizer

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"github.com/VictoriaMetrics/fastcache"
)

// Special tokens every vocabulary must carry.
const (
	PadToken = "[PAD]"
	UnkToken = "[UNK]"
	ClsToken = "[CLS]"
	SepToken = "[SEP]"

	continuationPrefix = "##"
)

// Config holds tokenizer configuration
type Config struct {
	Lowercase     bool
	RemoveAccents bool
	NFKC          bool
	// NoSplit lists words that map to a single vocabulary entry (or [UNK])
	// and are never broken into pieces.
	NoSplit         []string
	MaxCharsPerWord int
	// CacheBytes sizes the word cache; 0 disables it.
	CacheBytes int
}

// DefaultConfig mirrors an uncased BERT tokenizer when lowercase is set.
func DefaultConfig(lowercase bool, noSplit []string) Config {
	return Config{
		Lowercase:       lowercase,
		RemoveAccents:   lowercase,
		NFKC:            true,
		NoSplit:         append([]string(nil), noSplit...),
		MaxCharsPerWord: 100,
		CacheBytes:      32 << 20,
	}
}

// Tokenizer is a greedy longest-match-first WordPiece tokenizer.
type Tokenizer struct {
	vocab      []string
	tokenToID  map[string]int
	unkID      int
	padID      int
	noSplit    map[string]struct{}
	normalizer Normalizer
	cfg        Config
	cache      *fastcache.Cache
}

// New creates a tokenizer over vocab. Token ids are vocabulary positions.
func New(vocab []string, cfg Config) (*Tokenizer, error) {
	if len(vocab) == 0 {
		return nil, fmt.Errorf("tokenizer: empty vocabulary")
	}
	if cfg.MaxCharsPerWord <= 0 {
		cfg.MaxCharsPerWord = 100
	}
	t := &Tokenizer{
		vocab:      vocab,
		tokenToID:  make(map[string]int, len(vocab)),
		unkID:      -1,
		padID:      -1,
		noSplit:    make(map[string]struct{}, len(cfg.NoSplit)),
		normalizer: NewNormalizer(cfg.Lowercase, cfg.RemoveAccents, cfg.NFKC),
		cfg:        cfg,
	}
	for i, token := range vocab {
		if _, dup := t.tokenToID[token]; !dup {
			t.tokenToID[token] = i
		}
	}
	if id, ok := t.tokenToID[UnkToken]; ok {
		t.unkID = id
	} else {
		return nil, fmt.Errorf("tokenizer: vocabulary lacks %s", UnkToken)
	}
	if id, ok := t.tokenToID[PadToken]; ok {
		t.padID = id
	}
	for _, w := range cfg.NoSplit {
		t.noSplit[w] = struct{}{}
	}
	if cfg.CacheBytes > 0 {
		t.cache = fastcache.New(cfg.CacheBytes)
	}
	return t, nil
}

// Config returns the configuration the tokenizer was built with.
func (t *Tokenizer) Config() Config { return t.cfg }

// VocabSize returns the vocabulary size
func (t *Tokenizer) VocabSize() int { return len(t.vocab) }

// Vocab returns the vocabulary in id order. The slice must not be mutated.
func (t *Tokenizer) Vocab() []string { return t.vocab }

// UnkID returns the id of the unknown token.
func (t *Tokenizer) UnkID() int { return t.unkID }

// ID looks up a vocabulary entry.
func (t *Tokenizer) ID(token string) (int, bool) {
	id, ok := t.tokenToID[token]
	return id, ok
}

// Token returns the vocabulary entry for id, or [UNK] when out of range.
func (t *Tokenizer) Token(id int) string {
	if id < 0 || id >= len(t.vocab) {
		return UnkToken
	}
	return t.vocab[id]
}

// Tokenize returns the subword ids of a single word. A word that normalizes
// to nothing yields no ids.
func (t *Tokenizer) Tokenize(word string) []int {
	if t.cache != nil {
		if buf, ok := t.cache.HasGet(nil, []byte(word)); ok {
			return decodeIDs(buf)
		}
	}
	ids := t.tokenize(word)
	if t.cache != nil {
		t.cache.Set([]byte(word), encodeIDs(ids))
	}
	return ids
}

func (t *Tokenizer) tokenize(word string) []int {
	if _, ok := t.noSplit[word]; ok {
		if id, ok := t.tokenToID[word]; ok {
			return []int{id}
		}
		return []int{t.unkID}
	}

	text := t.normalizer.Normalize(word)
	var ids []int
	for _, piece := range splitPunctuation(text) {
		ids = append(ids, t.wordPiece(piece)...)
	}
	return ids
}

// wordPiece performs greedy longest-match-first segmentation of one piece.
func (t *Tokenizer) wordPiece(piece string) []int {
	runes := []rune(piece)
	if len(runes) > t.cfg.MaxCharsPerWord {
		return []int{t.unkID}
	}

	var ids []int
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := -1
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = continuationPrefix + sub
			}
			if id, ok := t.tokenToID[sub]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int{t.unkID}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

// Decode joins subword ids back into space-separated words, merging
// continuation pieces.
func (t *Tokenizer) Decode(ids []int) string {
	var b strings.Builder
	for i, id := range ids {
		token := t.Token(id)
		if id == t.padID {
			continue
		}
		if strings.HasPrefix(token, continuationPrefix) {
			b.WriteString(token[len(continuationPrefix):])
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(token)
	}
	return b.String()
}

// splitPunctuation breaks text on whitespace and isolates punctuation runes,
// as BERT's basic tokenizer does before WordPiece.
func splitPunctuation(text string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return out
}

func encodeIDs(ids []int) []byte {
	buf := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(id))
	}
	return buf
}

func decodeIDs(buf []byte) []int {
	if len(buf) == 0 {
		return nil
	}
	ids := make([]int, len(buf)/4)
	for i := range ids {
		ids[i] = int(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return ids
}
