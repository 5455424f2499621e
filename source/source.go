// Package source reads the documents of a load job from the local
// filesystem: single files, directory trees, zip archives and zstd
// compressed files. Every document is returned with its URI and raw bytes.
package source

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/mevdschee/tqpump/content"
)

// ErrNoInput is returned when no input path is configured
var ErrNoInput = errors.New("source: no input")

// Record is one document read from the input
type Record struct {
	URI     string
	Payload content.Payload
}

// Reader returns the documents of an input in order. Next returns io.EOF
// after the last document.
type Reader interface {
	Next() (Record, error)
	Close() error
}

// Open returns a reader for path. Directories are walked recursively in
// lexical order, .zip files are read entry by entry and .zst files are
// decompressed.
func Open(path string) (Reader, error) {
	if path == "" {
		return nil, ErrNoInput
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	switch {
	case info.IsDir():
		return openDir(path)
	case strings.EqualFold(filepath.Ext(path), ".zip"):
		return OpenZip(path)
	case strings.EqualFold(filepath.Ext(path), ".zst"):
		return openZstd(path)
	}
	return &fileReader{paths: []string{path}, root: filepath.Dir(path)}, nil
}

// fileReader reads plain files, one document each
type fileReader struct {
	paths []string
	root  string
	next  int
}

func openDir(root string) (*fileReader, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return &fileReader{paths: paths, root: root}, nil
}

func (r *fileReader) Next() (Record, error) {
	if r.next >= len(r.paths) {
		return Record{}, io.EOF
	}
	path := r.paths[r.next]
	r.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return Record{}, err
	}
	return Record{URI: uri(rel), Payload: content.BinaryPayload(data)}, nil
}

func (r *fileReader) Close() error {
	r.next = len(r.paths)
	return nil
}

// zstdReader decompresses a single .zst file into one document
type zstdReader struct {
	path string
	done bool
}

func openZstd(path string) (*zstdReader, error) {
	return &zstdReader{path: path}, nil
}

func (r *zstdReader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}
	r.done = true

	f, err := os.Open(r.path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return Record{}, fmt.Errorf("zstd %s: %w", r.path, err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return Record{}, fmt.Errorf("zstd %s: %w", r.path, err)
	}
	name := strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
	return Record{URI: uri(name), Payload: content.BinaryPayload(data)}, nil
}

func (r *zstdReader) Close() error {
	r.done = true
	return nil
}

// ZipReader reads the entries of a zip archive, one document each. Close
// releases the current entry; CloseArchive closes the archive itself.
type ZipReader struct {
	archive *zip.ReadCloser
	files   []*zip.File
	next    int
	entry   io.ReadCloser
}

// OpenZip opens a zip archive for reading
func OpenZip(path string) (*ZipReader, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("zip %s: %w", path, err)
	}
	var files []*zip.File
	for _, f := range archive.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	return &ZipReader{archive: archive, files: files}, nil
}

func (r *ZipReader) Next() (Record, error) {
	if err := r.Close(); err != nil {
		return Record{}, err
	}
	if r.next >= len(r.files) {
		return Record{}, io.EOF
	}
	f := r.files[r.next]
	r.next++

	entry, err := f.Open()
	if err != nil {
		return Record{}, fmt.Errorf("zip entry %s: %w", f.Name, err)
	}
	r.entry = entry
	data, err := io.ReadAll(entry)
	if err != nil {
		return Record{}, fmt.Errorf("zip entry %s: %w", f.Name, err)
	}
	return Record{URI: uri(f.Name), Payload: content.BinaryPayload(data)}, nil
}

// Close closes the current entry
func (r *ZipReader) Close() error {
	if r.entry == nil {
		return nil
	}
	err := r.entry.Close()
	r.entry = nil
	return err
}

// CloseArchive closes the archive. It is safe to call more than once.
func (r *ZipReader) CloseArchive() error {
	if r.archive == nil {
		return nil
	}
	err := r.archive.Close()
	r.archive = nil
	r.next = len(r.files)
	return err
}

// uri turns a relative path into a document URI
func uri(rel string) string {
	return "/" + strings.TrimPrefix(filepath.ToSlash(rel), "/")
}
