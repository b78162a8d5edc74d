package vindex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/pkg/fsx"
)

var magic = [4]byte{'W', 'H', 'F', 'L'}

const formatVersion uint32 = 1

// Encode writes the index as: magic, version, dim, count, then per entry a
// length-prefixed key followed by dim little-endian float32s.
func (f *FlatL2) Encode(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bw := bufio.NewWriter(w)
	hdr := struct {
		Magic   [4]byte
		Version uint32
		Dim     uint32
		Count   uint64
	}{magic, formatVersion, uint32(f.dim), uint64(len(f.keys))}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return err
	}
	for i, k := range f.keys {
		if len(k) > math.MaxUint16 {
			return fmt.Errorf("vindex: key %d too long (%d bytes)", i, len(k))
		}
		if err := binary.Write(bw, binary.LittleEndian, uint16(len(k))); err != nil {
			return err
		}
		if _, err := bw.WriteString(k); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, f.data[i*f.dim:(i+1)*f.dim]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// MaxDim caps the dimension accepted from an index header.
const MaxDim = 1 << 16

// headerSize is the encoded size of the fixed header.
const headerSize = 4 + 4 + 4 + 8

// Decode reads an index written by Encode. Any structural problem is
// reported as ErrDegradedIndex.
func Decode(r io.Reader) (*FlatL2, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, degraded("read", err)
	}
	return decode(data)
}

// decode checks the header against len(data) before allocating anything
// sized by it.
func decode(data []byte) (*FlatL2, error) {
	br := bytes.NewReader(data)
	var hdr struct {
		Magic   [4]byte
		Version uint32
		Dim     uint32
		Count   uint64
	}
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, degraded("header", err)
	}
	if hdr.Magic != magic {
		return nil, degraded("header", errors.New("bad magic"))
	}
	if hdr.Version != formatVersion {
		return nil, degraded("header", fmt.Errorf("version %d", hdr.Version))
	}
	if hdr.Dim == 0 || hdr.Dim > MaxDim {
		return nil, degraded("header", fmt.Errorf("dimension %d out of range", hdr.Dim))
	}
	// Every entry takes at least a key length and its vector.
	entry := 2 + 4*uint64(hdr.Dim)
	if body := uint64(len(data) - headerSize); hdr.Count > body/entry {
		return nil, degraded("header", fmt.Errorf("%d entries of dimension %d do not fit in %d bytes", hdr.Count, hdr.Dim, body))
	}

	f := NewFlatL2(int(hdr.Dim))
	vec := make([]float32, hdr.Dim)
	for i := uint64(0); i < hdr.Count; i++ {
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, degraded(fmt.Sprintf("entry %d", i), err)
		}
		if int(n) > br.Len() {
			return nil, degraded(fmt.Sprintf("entry %d key", i), io.ErrUnexpectedEOF)
		}
		key := make([]byte, n)
		if _, err := io.ReadFull(br, key); err != nil {
			return nil, degraded(fmt.Sprintf("entry %d key", i), err)
		}
		if err := binary.Read(br, binary.LittleEndian, vec); err != nil {
			return nil, degraded(fmt.Sprintf("entry %d vector", i), err)
		}
		if err := f.Add(string(key), vec); err != nil {
			return nil, degraded(fmt.Sprintf("entry %d", i), err)
		}
	}
	if br.Len() != 0 {
		return nil, degraded("trailer", errors.New("trailing bytes"))
	}
	return f, nil
}

func degraded(where string, err error) error {
	return fmt.Errorf("vindex: decode %s: %w: %v", where, domain.ErrDegradedIndex, err)
}

// FileProvider keeps a FlatL2 index at a fixed path.
type FileProvider struct {
	path string
}

var _ Provider = (*FileProvider)(nil)

// NewFileProvider creates a provider for the index file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Path returns the index file location.
func (p *FileProvider) Path() string { return p.path }

// Open reads the index file. A missing file matches ErrNotFound; a damaged
// one matches ErrDegradedIndex.
func (p *FileProvider) Open(_ context.Context) (Index, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("vindex: open %s: %w", p.path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("vindex: open %s: %w: %v", p.path, domain.ErrDegradedIndex, err)
	}
	f, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("vindex: open %s: %w", p.path, err)
	}
	return f, nil
}

// Create returns an empty in-memory index; nothing is written until Persist.
func (p *FileProvider) Create(_ context.Context, dim int) (Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vindex: create: dimension %d: %w", dim, domain.ErrInvalidShape)
	}
	return NewFlatL2(dim), nil
}

// Persist atomically replaces the index file.
func (p *FileProvider) Persist(_ context.Context, idx Index) error {
	f, ok := idx.(*FlatL2)
	if !ok {
		return fmt.Errorf("vindex: persist: unsupported index %T", idx)
	}
	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		return fmt.Errorf("vindex: encode: %w", err)
	}
	if err := fsx.WriteFile(p.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("vindex: persist: %w", err)
	}
	return nil
}
