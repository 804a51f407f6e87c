package core

// streaming.go prepares an uploaded source for the CSV reader without
// buffering the whole file:
//
//   - CountingReader: tracks raw bytes consumed for progress reporting
//   - decoding: strips a UTF-8 BOM (or decodes UTF-16 when a UTF-16 BOM is
//     present) and replaces invalid UTF-8 with U+FFFD, or decodes a legacy
//     single-byte charset when one is configured
//
// Use NewSourceReader to apply both in the correct order.

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// legacyEncodings are the single-byte charsets spreadsheet tools commonly emit.
var legacyEncodings = map[string]encoding.Encoding{
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"macintosh":    charmap.Macintosh,
}

// CountingReader wraps an io.Reader to track bytes read. BytesRead is safe to
// call from another goroutine.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of raw bytes consumed so far.
func (r *CountingReader) BytesRead() int64 {
	return r.read.Load()
}

// SourceReader yields UTF-8 text from an uploaded source.
type SourceReader struct {
	io.Reader
	Counter *CountingReader
}

// NewSourceReader wraps r for CSV parsing. encoding names the source charset;
// empty or "utf-8" means UTF-8 with an optional BOM.
func NewSourceReader(r io.Reader, totalSize int64, encodingName string) (*SourceReader, error) {
	dec, err := decoderFor(encodingName)
	if err != nil {
		return nil, err
	}
	counter := NewCountingReader(r, totalSize)
	return &SourceReader{
		Reader:  transform.NewReader(counter, dec),
		Counter: counter,
	}, nil
}

// decoderFor resolves an encoding name to a transformer producing UTF-8.
func decoderFor(name string) (transform.Transformer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "utf-8", "utf8":
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	}
	if enc, ok := legacyEncodings[name]; ok {
		return enc.NewDecoder(), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
	return unicode.BOMOverride(enc.NewDecoder()), nil
}

// IsSupportedEncoding reports whether name can be used as a source encoding.
func IsSupportedEncoding(name string) bool {
	_, err := decoderFor(name)
	return err == nil
}
