// Package dataset reads CoNLL-formatted tagged sentences and prepares them
// for the encoder.
package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/headlands-org/nntagger/internal/errs"
)

// TagType selects the tag column of a CoNLL file.
type TagType uint8

const (
	NER TagType = iota
	POS
	Chunk
)

// ParseTagType maps a tag_type value to a TagType.
func ParseTagType(s string) (TagType, error) {
	switch s {
	case "ner":
		return NER, nil
	case "pos":
		return POS, nil
	case "chunk":
		return Chunk, nil
	}
	return 0, errs.New(errs.Configuration, "dataset: unknown tag type %q", s)
}

func (t TagType) String() string {
	switch t {
	case NER:
		return "ner"
	case POS:
		return "pos"
	case Chunk:
		return "chunk"
	default:
		return fmt.Sprintf("TagType(%d)", uint8(t))
	}
}

// Column returns the field index holding this tag in a CoNLL-2003 line
// ("word pos chunk ner").
func (t TagType) Column() int {
	switch t {
	case POS:
		return 1
	case Chunk:
		return 2
	default:
		return 3
	}
}

// Spans reports whether tags of this type encode BIO/IOB1 chunks.
func (t TagType) Spans() bool { return t != POS }

// Key identifies a sentence across splits.
type Key struct {
	Split string
	Index int
}

func (k Key) String() string { return fmt.Sprintf("%s/%d", k.Split, k.Index) }

// Sentence is one tagged sentence.
type Sentence struct {
	Split string
	Index int
	Words []string
	Tags  []string
}

// Key returns the sentence identifier.
func (s *Sentence) Key() Key { return Key{Split: s.Split, Index: s.Index} }

// Corpus is one split of a dataset in file order.
type Corpus struct {
	Split     string
	TagType   TagType
	Sentences []*Sentence
}

// Len returns the number of sentences.
func (c *Corpus) Len() int { return len(c.Sentences) }

const docStart = "-DOCSTART-"

// Read parses CoNLL text from r. Malformed sentences are skipped and
// reported as data errors in the second return value; the third is reserved
// for I/O failures.
func Read(r io.Reader, split string, tagType TagType) (*Corpus, []error, error) {
	c := &Corpus{Split: split, TagType: tagType}
	var skipped []error

	col := tagType.Column()
	var words, tags []string
	var bad error
	lineNo, startLine := 0, 1

	flush := func() {
		switch {
		case bad != nil:
			skipped = append(skipped, bad)
		case len(words) > 0:
			c.Sentences = append(c.Sentences, &Sentence{
				Split: split,
				Index: len(c.Sentences),
				Words: words,
				Tags:  tags,
			})
		}
		words, tags, bad = nil, nil, nil
		startLine = lineNo + 1
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		fields := strings.Fields(line)
		if fields[0] == docStart {
			continue
		}
		if bad != nil {
			continue
		}
		if len(fields) <= col {
			bad = errs.New(errs.Data, "dataset: %s sentence at line %d: line %d has %d fields, %s tags need %d",
				split, startLine, lineNo, len(fields), tagType, col+1)
			continue
		}
		words = append(words, fields[0])
		tags = append(tags, fields[col])
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("dataset: read %s: %w", split, err)
	}
	flush()
	return c, skipped, nil
}

// Path returns the file holding split under dir.
func Path(dir, split string) string {
	return filepath.Join(dir, split+".txt")
}

// Load reads dir/<split>.txt.
func Load(dir, split string, tagType TagType) (*Corpus, []error, error) {
	f, err := os.Open(Path(dir, split))
	if err != nil {
		return nil, nil, errs.Wrap(errs.Configuration, err, "dataset: open split %q", split)
	}
	defer f.Close()
	return Read(f, split, tagType)
}
