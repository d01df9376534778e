// Package archive bundles named byte blobs into an in-memory zip file.
//
// klauspost/compress/zip is a drop-in for archive/zip with a faster
// deflate implementation, which matters when a run packs thousands of PDFs.
package archive

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Writer accumulates entries in memory. Not safe for concurrent use.
type Writer struct {
	buf   bytes.Buffer
	zw    *zip.Writer
	names map[string]struct{}
}

// NewWriter creates an empty archive.
func NewWriter() *Writer {
	w := &Writer{names: make(map[string]struct{})}
	w.zw = zip.NewWriter(&w.buf)
	return w
}

// Add writes one entry. Entry names must be unique.
func (w *Writer) Add(name string, data []byte) error {
	if _, dup := w.names[name]; dup {
		return fmt.Errorf("duplicate archive entry %q", name)
	}

	f, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %q: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write archive entry %q: %w", name, err)
	}
	w.names[name] = struct{}{}
	return nil
}

// Len returns the number of entries written so far.
func (w *Writer) Len() int {
	return len(w.names)
}

// Bytes finalizes the archive and returns its contents. The writer must
// not be used afterwards.
func (w *Writer) Bytes() ([]byte, error) {
	if err := w.zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return w.buf.Bytes(), nil
}

// EntryName returns the archive entry name for a serial. Path separators
// are replaced so a serial can never create directories inside the zip.
func EntryName(serial string) string {
	r := strings.NewReplacer("/", "-", `\`, "-")
	return r.Replace(serial) + ".pdf"
}
