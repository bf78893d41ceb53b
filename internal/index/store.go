package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/headlands-org/nntagger/internal/atomicfile"
	"github.com/headlands-org/nntagger/search/brute"
)

// KeysSuffix names the sidecar file holding sentence keys and token counts.
const KeysSuffix = ".keys.json"

type sidecar struct {
	Version     uint64  `json:"version"`
	Fingerprint uint64  `json:"fingerprint"`
	Entries     []Entry `json:"entries"`
}

// Save writes the embeddings to path and the sentence keys to
// path+KeysSuffix. Both files are replaced atomically.
func (s *Snapshot) Save(path string) error {
	if err := atomicfile.Write(path, func(w io.Writer) error {
		return brute.WriteIndex(w, s.idx)
	}); err != nil {
		return fmt.Errorf("index: save %s: %w", path, err)
	}
	meta := sidecar{Version: s.version, Fingerprint: s.fingerprint, Entries: s.entries}
	if err := atomicfile.Write(path+KeysSuffix, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", " ")
		return enc.Encode(meta)
	}); err != nil {
		return fmt.Errorf("index: save %s: %w", path+KeysSuffix, err)
	}
	return nil
}

// Load reads a snapshot written by Save. The result has no examples
// attached; see Attach.
func Load(path string) (*Snapshot, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("index: mmap %s: %w", path, err)
	}
	defer r.Close()

	idx, err := brute.ReadIndex(io.NewSectionReader(r, 0, int64(r.Len())))
	if err != nil {
		return nil, fmt.Errorf("index: read %s: %w", path, err)
	}

	f, err := os.Open(path + KeysSuffix)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	defer f.Close()
	var meta sidecar
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("index: decode %s: %w", path+KeysSuffix, err)
	}
	if len(meta.Entries) != idx.Count() {
		return nil, fmt.Errorf("index: %s lists %d sentences, index holds %d", path+KeysSuffix, len(meta.Entries), idx.Count())
	}
	snap := newSnapshot(meta.Version, meta.Entries, idx)
	snap.fingerprint = meta.Fingerprint
	return snap, nil
}
