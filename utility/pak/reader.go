// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package pak

import (
	"io"
	"io/ioutil"
	"sort"

	"github.com/pierrec/lz4"
	"golang.org/x/exp/mmap"
)

// Open reads the archive header from r and prepares the
// archive for random file access. The reader must stay
// valid for the lifetime of the Archive.
func Open(r io.ReaderAt) (*Archive, error) {
	var magicBytes [MagicLength]byte
	if _, err := r.ReadAt(magicBytes[:], 0); err != nil {
		return nil, ErrFileFormat
	}
	if magicBytes != magic {
		return nil, ErrFileFormat
	}

	sizeBytes := make([]byte, HeaderSizeNumberLength)
	if _, err := r.ReadAt(sizeBytes, MagicLength); err != nil {
		return nil, ErrFileFormat
	}
	headerSize, err := binaryToint64(sizeBytes)
	if err != nil || headerSize <= 0 {
		return nil, ErrFileFormat
	}

	rawHeader := make([]byte, headerSize)
	if _, err := r.ReadAt(rawHeader, MagicLength+HeaderSizeNumberLength); err != nil {
		return nil, ErrFileFormat
	}

	var header Header
	if err := gobDecode(&header, rawHeader); err != nil {
		return nil, ErrFileFormat
	}

	return &Archive{
		reader:     r,
		header:     header,
		dataOffset: MagicLength + HeaderSizeNumberLength + headerSize,
	}, nil
}

// OpenFile memory-maps the archive at the given path and opens it.
func OpenFile(path string) (*Archive, error) {
	f, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	archive, err := Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	archive.closer = f
	return archive, nil
}

// Archive reads files from a pak archive. Safe for concurrent
// use, every Open and ReadAll works on an independent section
// of the underlying reader.
type Archive struct {
	reader     io.ReaderAt
	closer     io.Closer
	header     Header
	dataOffset int64
}

// Header returns a copy of the archive header.
func (a *Archive) Header() Header {
	return a.header
}

// Index returns the sorted names of all files in the archive.
func (a *Archive) Index() []string {
	names := make([]string, 0, len(a.header.Index))
	for _, entry := range a.header.Index {
		names = append(names, entry.Name)
	}
	sort.Strings(names)
	return names
}

func (a *Archive) entry(name string) (IndexEntry, bool) {
	for _, entry := range a.header.Index {
		if entry.Name == name {
			return entry, true
		}
	}
	return IndexEntry{}, false
}

// Open returns a reader that streams and decompresses the named file.
func (a *Archive) Open(name string) (io.Reader, error) {
	entry, ok := a.entry(name)
	if !ok {
		return nil, ErrNotFound
	}
	section := io.NewSectionReader(a.reader, a.dataOffset+entry.Offset, entry.CompressedSize)
	return lz4.NewReader(section), nil
}

// ReadAll decompresses the whole named file into memory.
func (a *Archive) ReadAll(name string) ([]byte, error) {
	r, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	return ioutil.ReadAll(r)
}

// Close releases the underlying file if the Archive owns one.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
