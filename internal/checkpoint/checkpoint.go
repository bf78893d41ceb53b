package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"

	"golang.org/x/exp/mmap"

	"github.com/headlands-org/nntagger/internal/atomicfile"
	"github.com/headlands-org/nntagger/internal/errs"
	"github.com/headlands-org/nntagger/internal/nn"
	"github.com/headlands-org/nntagger/internal/optim"
)

// Prefixes of the optimizer moment tensors.
const (
	momentM = "adam.m/"
	momentV = "adam.v/"
)

// Save writes meta and tensors to path atomically. meta.Tensors is
// filled in from tensors.
func Save(path string, meta Meta, tensors []Tensor) error {
	meta.Tensors = nil
	var offset int64
	for _, t := range tensors {
		d := TensorDesc{Name: t.Name, Shape: t.Shape, Offset: offset}
		if d.Elements() != len(t.Data) {
			return errs.New(errs.Checkpoint, "checkpoint: tensor %s has %d values for shape %v", t.Name, len(t.Data), t.Shape)
		}
		meta.Tensors = append(meta.Tensors, d)
		offset += int64(4 * len(t.Data))
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return errs.Wrap(errs.Checkpoint, err, "checkpoint: encode metadata")
	}

	err = atomicfile.Write(path, func(w io.Writer) error {
		head := make([]byte, headerSize)
		byteOrder.PutUint32(head[0:], Magic)
		byteOrder.PutUint32(head[4:], Version)
		byteOrder.PutUint64(head[8:], uint64(len(blob)))
		if _, err := w.Write(head); err != nil {
			return err
		}
		if _, err := w.Write(blob); err != nil {
			return err
		}
		end := headerSize + len(blob)
		if _, err := w.Write(make([]byte, align(end, alignment)-end)); err != nil {
			return err
		}
		buf := make([]byte, 0, 4096)
		for _, t := range tensors {
			for _, v := range t.Data {
				buf = byteOrder.AppendUint32(buf, math.Float32bits(v))
				if len(buf) == cap(buf) {
					if _, err := w.Write(buf); err != nil {
						return err
					}
					buf = buf[:0]
				}
			}
		}
		_, err := w.Write(buf)
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Checkpoint, err, "checkpoint: write %s", path)
	}
	return nil
}

// Reader gives access to a checkpoint file.
type Reader struct {
	path    string
	ra      *mmap.ReaderAt
	meta    Meta
	dataOff int64
	tensors map[string]TensorDesc
}

// Open memory-maps path and parses its metadata. Every failure is a
// checkpoint error.
func Open(path string) (*Reader, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.Checkpoint, err, "checkpoint: open %s", path)
	}
	r := &Reader{path: path, ra: ra, tensors: make(map[string]TensorDesc)}
	if err := r.parse(); err != nil {
		ra.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parse() error {
	if r.ra.Len() < headerSize {
		return errs.New(errs.Checkpoint, "checkpoint: %s is too small for a header", r.path)
	}
	head := make([]byte, headerSize)
	if _, err := r.ra.ReadAt(head, 0); err != nil {
		return errs.Wrap(errs.Checkpoint, err, "checkpoint: read header")
	}
	if m := byteOrder.Uint32(head[0:]); m != Magic {
		return errs.New(errs.Checkpoint, "checkpoint: %s has invalid magic 0x%08x", r.path, m)
	}
	if v := byteOrder.Uint32(head[4:]); v != Version {
		return errs.New(errs.Checkpoint, "checkpoint: %s has unsupported version %d", r.path, v)
	}
	metaLen := byteOrder.Uint64(head[8:])
	if metaLen > uint64(r.ra.Len()-headerSize) {
		return errs.New(errs.Checkpoint, "checkpoint: %s metadata length %d exceeds file", r.path, metaLen)
	}
	blob := make([]byte, metaLen)
	if _, err := r.ra.ReadAt(blob, headerSize); err != nil {
		return errs.Wrap(errs.Checkpoint, err, "checkpoint: read metadata")
	}
	if err := json.Unmarshal(blob, &r.meta); err != nil {
		return errs.Wrap(errs.Checkpoint, err, "checkpoint: decode metadata")
	}
	r.dataOff = int64(align(headerSize+int(metaLen), alignment))
	for _, d := range r.meta.Tensors {
		end := r.dataOff + d.Offset + int64(4*d.Elements())
		if d.Offset < 0 || end > int64(r.ra.Len()) {
			return errs.New(errs.Checkpoint, "checkpoint: tensor %s lies outside %s", d.Name, r.path)
		}
		r.tensors[d.Name] = d
	}
	return nil
}

// Close unmaps the file.
func (r *Reader) Close() error { return r.ra.Close() }

// Meta returns the parsed metadata.
func (r *Reader) Meta() Meta { return r.meta }

// Names lists the stored tensors in sorted order.
func (r *Reader) Names() []string {
	out := make([]string, 0, len(r.tensors))
	for name := range r.tensors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether a tensor is stored.
func (r *Reader) Has(name string) bool {
	_, ok := r.tensors[name]
	return ok
}

// Tensor decodes one tensor.
func (r *Reader) Tensor(name string) (Tensor, error) {
	d, ok := r.tensors[name]
	if !ok {
		return Tensor{}, errs.New(errs.Checkpoint, "checkpoint: %s has no tensor %s", r.path, name)
	}
	raw := make([]byte, 4*d.Elements())
	if _, err := r.ra.ReadAt(raw, r.dataOff+d.Offset); err != nil {
		return Tensor{}, errs.Wrap(errs.Checkpoint, err, "checkpoint: read %s", name)
	}
	data := make([]float32, d.Elements())
	for i := range data {
		data[i] = math.Float32frombits(byteOrder.Uint32(raw[4*i:]))
	}
	return Tensor{Name: name, Shape: d.Shape, Data: data}, nil
}

// LoadParams copies stored values into params. Every parameter must be
// present with the same shape.
func (r *Reader) LoadParams(params []*nn.Param) error {
	for _, p := range params {
		t, err := r.Tensor(p.Name)
		if err != nil {
			return err
		}
		if !slices.Equal(t.Shape, p.Shape) {
			return errs.New(errs.Checkpoint, "checkpoint: %s has shape %v, model expects %v", p.Name, t.Shape, p.Shape)
		}
		copy(p.Data, t.Data)
	}
	return nil
}

// OptimizerState reads the moment buffers of params. ok is false when the
// checkpoint carries no optimizer state.
func (r *Reader) OptimizerState(params []*nn.Param) (s optim.State, ok bool, err error) {
	if len(params) == 0 || !r.Has(momentM+params[0].Name) {
		return optim.State{}, false, nil
	}
	s = optim.State{
		Steps: r.meta.State.OptimizerSteps,
		M:     make(map[string][]float32, len(params)),
		V:     make(map[string][]float32, len(params)),
	}
	for _, p := range params {
		m, err := r.Tensor(momentM + p.Name)
		if err != nil {
			return optim.State{}, false, err
		}
		v, err := r.Tensor(momentV + p.Name)
		if err != nil {
			return optim.State{}, false, err
		}
		s.M[p.Name], s.V[p.Name] = m.Data, v.Data
	}
	return s, true, nil
}

// ParamTensors views params as tensors without copying.
func ParamTensors(params []*nn.Param) []Tensor {
	out := make([]Tensor, len(params))
	for i, p := range params {
		out[i] = Tensor{Name: p.Name, Shape: p.Shape, Data: p.Data}
	}
	return out
}

// MomentTensors returns the optimizer moments of params as tensors.
func MomentTensors(params []*nn.Param, s optim.State) []Tensor {
	out := make([]Tensor, 0, 2*len(params))
	for _, p := range params {
		out = append(out,
			Tensor{Name: momentM + p.Name, Shape: p.Shape, Data: s.M[p.Name]},
			Tensor{Name: momentV + p.Name, Shape: p.Shape, Data: s.V[p.Name]},
		)
	}
	return out
}

func (r *Reader) String() string {
	return fmt.Sprintf("checkpoint %s (%d tensors, epoch %d)", r.path, len(r.tensors), r.meta.State.Epoch)
}
