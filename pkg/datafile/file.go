// Package datafile holds the run file writers.
package datafile

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
)

var ErrNotOpen = errors.New("file not open")

// HeaderFunc writes the file header right after creation.
type HeaderFunc func(w io.Writer) error

// SaveFunc writes one pending item.
type SaveFunc[T any] func(w io.Writer, item *T) error

// DataFile is a buffered output file with a list of items waiting to be
// written. Pending storage is kept between saves so items can reuse the
// buffers they held the previous time.
type DataFile[T any] struct {
	path    string
	f       *os.File
	w       *bufio.Writer
	pending []T
}

// Open creates path, and its parent directories, and writes the header.
func (d *DataFile[T]) Open(path string, header HeaderFunc) error {
	if d.f != nil {
		return &ErrOpenFile{Filename: path, Err: errors.New("another file is open: " + d.path)}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &ErrOpenFile{Filename: path, Err: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return &ErrOpenFile{Filename: path, Err: err}
	}
	w := bufio.NewWriter(f)
	if header != nil {
		if err := header(w); err != nil {
			f.Close()
			return &ErrOpenFile{Filename: path, Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return &ErrOpenFile{Filename: path, Err: err}
	}
	d.path, d.f, d.w = path, f, w
	d.pending = d.pending[:0]
	return nil
}

func (d *DataFile[T]) IsOpen() bool {
	return d.f != nil
}

func (d *DataFile[T]) Path() string {
	return d.path
}

// Add queues item for the next Save.
func (d *DataFile[T]) Add(item T) {
	d.pending = append(d.pending, item)
}

// Next queues one more item and returns it for filling in place.
func (d *DataFile[T]) Next() *T {
	if len(d.pending) < cap(d.pending) {
		d.pending = d.pending[:len(d.pending)+1]
	} else {
		var zero T
		d.pending = append(d.pending, zero)
	}
	return &d.pending[len(d.pending)-1]
}

// Pending is the number of items waiting for Save.
func (d *DataFile[T]) Pending() int {
	return len(d.pending)
}

// Save writes every pending item with fn and flushes the file.
func (d *DataFile[T]) Save(fn SaveFunc[T]) error {
	if d.f == nil {
		return ErrNotOpen
	}
	for i := range d.pending {
		if err := fn(d.w, &d.pending[i]); err != nil {
			return err
		}
	}
	d.pending = d.pending[:0]
	return d.w.Flush()
}

// Close drops unsaved items and closes the file.
func (d *DataFile[T]) Close() error {
	if d.f == nil {
		return nil
	}
	err := errors.Join(d.w.Flush(), d.f.Close())
	d.f, d.w = nil, nil
	d.pending = d.pending[:0]
	return err
}
