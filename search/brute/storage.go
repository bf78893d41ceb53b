package brute

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"

	"github.com/headlands-org/nntagger/search"
)

var bruteMagic = [4]byte{'B', 'R', 'U', 'T'}

const bruteVersion uint16 = 2

type bruteHeader struct {
	Magic     [4]byte
	Version   uint16
	Dimension uint16
	Count     uint32
	Metric    uint8
	_         [7]byte
}

// Serializer implements search.Serializer for brute-force indices.
type Serializer struct{}

var _ search.Serializer = Serializer{}

// Serialize encodes the index.
func (Serializer) Serialize(idx search.Index) ([]byte, error) {
	bruteIdx, ok := idx.(*Index)
	if !ok {
		return nil, fmt.Errorf("brute: serializer expects *Index, got %T", idx)
	}
	var buf bytes.Buffer
	if err := WriteIndex(&buf, bruteIdx); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize decodes an index from bytes.
func (Serializer) Deserialize(data []byte) (search.Index, error) {
	return ReadIndex(bytes.NewReader(data))
}

// WriteIndex streams idx to w.
func WriteIndex(w io.Writer, idx *Index) error {
	if idx.dimension > 0xFFFF {
		return fmt.Errorf("brute: dimension %d too large", idx.dimension)
	}
	hdr := bruteHeader{
		Magic:     bruteMagic,
		Version:   bruteVersion,
		Dimension: uint16(idx.dimension),
		Count:     uint32(len(idx.ids)),
		Metric:    uint8(idx.metric),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}

	if len(idx.ids) > 0 {
		if err := binary.Write(w, binary.LittleEndian, idx.ids); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, idx.data); err != nil {
			return err
		}
	}
	return nil
}

// ReadIndex decodes an index written by WriteIndex.
func ReadIndex(r io.Reader) (*Index, error) {
	var hdr bruteHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != bruteMagic {
		return nil, fmt.Errorf("brute: invalid magic: %q", hdr.Magic)
	}
	if hdr.Version != bruteVersion {
		return nil, fmt.Errorf("brute: unsupported version %d", hdr.Version)
	}
	if m := search.Metric(hdr.Metric); m != search.Cosine && m != search.Dot {
		return nil, fmt.Errorf("brute: unsupported metric %d", hdr.Metric)
	}

	count := int(hdr.Count)
	idx := &Index{
		dimension: int(hdr.Dimension),
		metric:    search.Metric(hdr.Metric),
		ids:       make([]int32, count),
		idToIdx:   make(map[int32]int, count),
	}

	if count > 0 {
		if err := binary.Read(r, binary.LittleEndian, idx.ids); err != nil {
			return nil, err
		}
		for i, id := range idx.ids {
			idx.idToIdx[id] = i
		}
	}

	byteLen := count * idx.dimension * 4
	if byteLen > 0 {
		buf := make([]byte, byteLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		idx.base = buf
		idx.data = unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), count*idx.dimension)
	}
	return idx, nil
}
