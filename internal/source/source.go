// Package source provides random-access byte sources for the disassembler.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Source is a random-access view of bytes with a known total size. ReadAt
// follows io.ReaderAt: a read that reaches the end returns n < len(p) and
// io.EOF, which callers treat as a short read rather than a failure.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Bytes is an in-memory source.
type Bytes struct {
	r *bytes.Reader
}

func NewBytes(b []byte) *Bytes {
	return &Bytes{r: bytes.NewReader(b)}
}

func (b *Bytes) ReadAt(p []byte, off int64) (int, error) { return b.r.ReadAt(p, off) }

func (b *Bytes) Size() int64 { return b.r.Size() }

// File is a source backed by an open file. Reads go straight to the file so
// memory use does not grow with the file size.
type File struct {
	Path string
	f    *os.File
	size int64
}

// Open opens path read-only.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open source: %s is a directory", path)
	}
	return &File{Path: path, f: f, size: fi.Size()}, nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.f == nil {
		return 0, os.ErrClosed
	}
	return f.f.ReadAt(p, off)
}

func (f *File) Size() int64 { return f.size }

// Close closes the underlying file.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

// ReadFull reads up to len(p) bytes at off, treating a short read at the end of
// the source as success. It returns the number of bytes read.
func ReadFull(src Source, p []byte, off int64) (int, error) {
	n, err := src.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("read at %#x: %w", off, err)
	}
	return n, nil
}
