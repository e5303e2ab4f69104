// Package artifact encodes compiled filter programs into the single binary
// file consumed by the runtime loader.
//
// The layout is the bincode encoding of a map from string to a sequence of
// u64 (all integers little-endian):
//
//	u64 entry count
//	per entry, sorted by name:
//	    u64 name length, name bytes (UTF-8)
//	    u64 instruction count, instructions as u64
//
// Entries are sorted so identical input always yields identical bytes.
package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"seccompiler/pkg/seccomp"
)

// DefaultFileName is the output file used when none is configured.
const DefaultFileName = "seccomp_binary_filter.out"

var (
	ErrOutputCreate = errors.New("cannot create output file")
	ErrSerialize    = errors.New("cannot serialize filters")
	ErrCorrupt      = errors.New("corrupt artifact")
)

// Artifact maps filter-group names to their compiled programs.
type Artifact map[string]seccomp.Program

// Names returns the group names in encoding order.
func (a Artifact) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode serializes the artifact.
func Encode(a Artifact) ([]byte, error) {
	size := 8
	for name, prog := range a {
		if !utf8.ValidString(name) {
			return nil, fmt.Errorf("%w: group name %q is not valid UTF-8", ErrSerialize, name)
		}
		size += 16 + len(name) + 8*len(prog)
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(a)))
	for _, name := range a.Names() {
		prog := a[name]
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(name)))
		buf = append(buf, name...)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(prog)))
		for _, w := range prog {
			buf = binary.LittleEndian.AppendUint64(buf, w)
		}
	}
	return buf, nil
}

// Decode parses an encoded artifact. Truncated input, trailing bytes,
// duplicate names and invalid UTF-8 are rejected.
func Decode(data []byte) (Artifact, error) {
	d := decoder{data: data}

	count, err := d.length(16)
	if err != nil {
		return nil, fmt.Errorf("%w: entry count: %v", ErrCorrupt, err)
	}

	a := make(Artifact, count)
	for i := uint64(0); i < count; i++ {
		n, err := d.length(1)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d name: %v", ErrCorrupt, i, err)
		}
		name := string(d.data[d.off : d.off+int(n)])
		d.off += int(n)
		if !utf8.ValidString(name) {
			return nil, fmt.Errorf("%w: entry %d name is not valid UTF-8", ErrCorrupt, i)
		}
		if _, dup := a[name]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrCorrupt, name)
		}

		words, err := d.length(8)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q program: %v", ErrCorrupt, name, err)
		}
		prog := make(seccomp.Program, words)
		for j := range prog {
			prog[j] = binary.LittleEndian.Uint64(d.data[d.off:])
			d.off += 8
		}
		a[name] = prog
	}

	if d.off != len(d.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(d.data)-d.off)
	}
	return a, nil
}

type decoder struct {
	data []byte
	off  int
}

// length reads a u64 length prefix and checks that at least n*elemSize bytes
// remain after it.
func (d *decoder) length(elemSize uint64) (uint64, error) {
	if len(d.data)-d.off < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint64(d.data[d.off:])
	d.off += 8
	remaining := uint64(len(d.data) - d.off)
	if n > remaining/elemSize {
		return 0, fmt.Errorf("length %d exceeds remaining %d bytes", n, remaining)
	}
	return n, nil
}

// WriteFile replaces path with data. The bytes go to a temporary file in
// the same directory which is synced and renamed over path, so a failed
// write never leaves a partial artifact at path.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputCreate, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialize, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputCreate, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialize, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialize, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputCreate, err)
	}
	committed = true
	return nil
}

// ReadFile loads and decodes an artifact file.
func ReadFile(path string) (Artifact, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	return Decode(data)
}
