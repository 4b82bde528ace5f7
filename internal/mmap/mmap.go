// Package mmap provides read-only memory-mapped file access for the local
// photo store. Mapping the source file avoids a copy of the encoded bytes on
// the decode path; on platforms without mmap support the package falls back
// to reading the file into memory.
package mmap

import (
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrClosed is returned when accessing a closed mapping.
var ErrClosed = errors.New("mmap: mapping is closed")

// File is a read-only view of a file's contents.
type File struct {
	data  []byte
	unmap func([]byte) error
	f     *os.File
}

// Open maps the file at path into memory as read-only.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	size := fi.Size()
	if size > math.MaxInt {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: file too large: %d bytes", size)
	}
	if size == 0 {
		// Zero-length files cannot be mapped; an empty view is fine.
		_ = f.Close()
		return &File{}, nil
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &File{data: data, unmap: unmap, f: f}, nil
}

// Bytes returns the mapped contents. The slice is valid until Close.
func (m *File) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Len returns the length of the mapped contents.
func (m *File) Len() int {
	if m == nil {
		return 0
	}
	return len(m.data)
}

// Close unmaps the memory and closes the underlying file.
func (m *File) Close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.data != nil && m.unmap != nil {
		err = m.unmap(m.data)
	}
	m.data = nil
	m.unmap = nil
	if m.f != nil {
		if closeErr := m.f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		m.f = nil
	}
	return err
}
