// Package checkpoint stores model parameters, optimizer moments and the
// training position in a single memory-mappable file.
//
// Layout, little endian:
//
//	magic    uint32  "NNTG"
//	version  uint32
//	metaLen  uint64
//	meta     metaLen bytes of JSON (Meta)
//	padding  to a 32-byte boundary
//	data     float32 tensors at the offsets listed in Meta.Tensors
package checkpoint

import (
	"encoding/binary"

	"github.com/headlands-org/nntagger/internal/encoder"
	"github.com/headlands-org/nntagger/internal/tokenizer"
)

const (
	// Magic is "NNTG" read as a little-endian uint32.
	Magic   uint32 = 'N' | 'N'<<8 | 'T'<<16 | 'G'<<24
	Version uint32 = 1

	headerSize = 16
	alignment  = 32
)

var byteOrder = binary.LittleEndian

// Model is everything needed to rebuild the network and its inputs.
type Model struct {
	Vocab           []string         `json:"vocab"`
	Tokenizer       tokenizer.Config `json:"tokenizer"`
	Encoder         encoder.Config   `json:"encoder"`
	Tags            []string         `json:"tags"`
	TagType         string           `json:"tag_type"`
	Cosine          bool             `json:"cosine"`
	WordMapping     string           `json:"word_mapping"`
	EmptyWordPolicy string           `json:"empty_word_policy"`
}

// State is the training position.
type State struct {
	RunID          string  `json:"run_id"`
	Epoch          int     `json:"epoch"`
	Step           int64   `json:"step"`
	OptimizerSteps int64   `json:"optimizer_steps"`
	BestScore      float64 `json:"best_score"`
	HasBest        bool    `json:"has_best"`
}

// TensorDesc locates one tensor in the data section.
type TensorDesc struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
}

// Elements returns the number of values.
func (d TensorDesc) Elements() int {
	n := 1
	for _, s := range d.Shape {
		n *= s
	}
	return n
}

// Meta is the JSON block.
type Meta struct {
	Model   Model             `json:"model"`
	State   State             `json:"state"`
	Config  map[string]string `json:"config,omitempty"`
	Tensors []TensorDesc      `json:"tensors"`
}

// Tensor is a named float32 array.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

func align(offset, alignment int) int {
	return (offset + alignment - 1) &^ (alignment - 1)
}
