package bm25

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/defensa-digital/contratos-rag/document"
)

// snapshot is the on-disk representation: chunks plus the derived index
// state, so loading does not re-tokenize the corpus.
type snapshot struct {
	Postings map[string]map[string]int
	DocFreq  map[string]int
	Length   map[string]int
	Chunks   map[string]document.Chunk
	TotalLen int
}

// Save writes the index to path atomically.
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	snap := snapshot{
		Postings: ix.postings,
		DocFreq:  ix.docFreq,
		Length:   ix.length,
		Chunks:   ix.chunks,
		TotalLen: ix.totalLen,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bm25-*.gob")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode bm25 index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads the index from path. A missing file yields an empty index.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open bm25 index: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode bm25 index %s: %w", path, err)
	}

	ix := New()
	if snap.Postings != nil {
		ix.postings = snap.Postings
	}
	if snap.DocFreq != nil {
		ix.docFreq = snap.DocFreq
	}
	if snap.Length != nil {
		ix.length = snap.Length
	}
	if snap.Chunks != nil {
		ix.chunks = snap.Chunks
	}
	ix.totalLen = snap.TotalLen
	return ix, nil
}
