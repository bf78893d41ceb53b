package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// LoadVocab reads a vocab.txt file where each line is a token and the line
// number (0-indexed) is the token ID.
func LoadVocab(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read error: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocab: file is empty: %s", path)
	}
	return tokens, nil
}

// Load reads vocab.txt at path and builds a tokenizer over it.
func Load(path string, cfg Config) (*Tokenizer, error) {
	vocab, err := LoadVocab(path)
	if err != nil {
		return nil, err
	}
	return New(vocab, cfg)
}

// SaveVocab writes one token per line.
func SaveVocab(path string, vocab []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vocab: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, tok := range vocab {
		w.WriteString(tok)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("vocab: %w", err)
	}
	return f.Close()
}

// BuildVocab derives a WordPiece vocabulary from a corpus of pre-split words:
// special tokens, every character seen (as word start and continuation), and
// whole words occurring at least minFreq times, most frequent first, up to
// maxSize entries in total (0 = unbounded). Entries of noSplit are always
// included whole.
func BuildVocab(sentences [][]string, cfg Config, minFreq, maxSize int) []string {
	normalizer := NewNormalizer(cfg.Lowercase, cfg.RemoveAccents, cfg.NFKC)
	freq := make(map[string]int)
	chars := make(map[string]struct{})

	for _, words := range sentences {
		for _, word := range words {
			for _, piece := range splitPunctuation(normalizer.Normalize(word)) {
				freq[piece]++
				for i, r := range []rune(piece) {
					if i == 0 {
						chars[string(r)] = struct{}{}
					} else {
						chars[continuationPrefix+string(r)] = struct{}{}
					}
				}
			}
		}
	}

	vocab := []string{PadToken, UnkToken, ClsToken, SepToken}
	seen := make(map[string]struct{}, len(vocab))
	add := func(tok string) {
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		vocab = append(vocab, tok)
	}
	for _, tok := range vocab {
		seen[tok] = struct{}{}
	}
	for _, w := range cfg.NoSplit {
		add(w)
	}

	charList := make([]string, 0, len(chars))
	for c := range chars {
		charList = append(charList, c)
	}
	sort.Strings(charList)
	for _, c := range charList {
		add(c)
	}

	words := make([]string, 0, len(freq))
	for w, n := range freq {
		if n >= minFreq && len([]rune(w)) > 1 {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	for _, w := range words {
		if maxSize > 0 && len(vocab) >= maxSize {
			break
		}
		add(w)
	}
	return vocab
}
