package tabular

// charset.go turns uploaded text bytes into a Go string before delimiter
// parsing. Spreadsheet exports from Windows often arrive as UTF-16 with a BOM
// or in a legacy code page (windows-1256 for Persian/Arabic Excel installs),
// so plain UTF-8 cannot be assumed.
//
// Order of checks:
//  1. UTF-16 BOM: decode as UTF-16 in the indicated byte order.
//  2. UTF-8 BOM: strip it.
//  3. Valid UTF-8: use as-is.
//  4. Otherwise decode with the configured legacy charset, or replace invalid
//     bytes with '?' when the charset is UTF-8.

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultCharset is the fallback code page for text that is not valid UTF-8.
const DefaultCharset = "windows-1256"

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeBytes converts raw text file contents to a string.
func DecodeBytes(data []byte, charset string) (string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(data)
		if err != nil {
			return "", decodeErr("charset", fmt.Errorf("utf-16: %w", err))
		}
		return string(out), nil
	case bytes.HasPrefix(data, bomUTF8):
		data = data[len(bomUTF8):]
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	if isUTF8Name(charset) {
		return string(SanitizeUTF8(data)), nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", decodeErr("charset", fmt.Errorf("unknown charset %q: %w", charset, err))
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", decodeErr("charset", fmt.Errorf("%s: %w", charset, err))
	}
	return string(out), nil
}

func isUTF8Name(charset string) bool {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// SanitizeUTF8 replaces each invalid byte with '?'. Valid multi-byte runes
// are copied unchanged. '?' is used instead of U+FFFD so the output never
// grows.
func SanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			out = append(out, '?')
			i++
			continue
		}
		out = append(out, data[i:i+size]...)
		i += size
	}
	return out
}

// CountingReader wraps an io.Reader to track bytes read and report percent
// complete through OnProgress whenever the whole-number percentage advances.
type CountingReader struct {
	reader     io.Reader
	BytesRead  int64
	Total      int64 // 0 if unknown
	OnProgress func(percent int)

	lastPercent int
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64, onProgress func(int)) *CountingReader {
	return &CountingReader{
		reader:      r,
		Total:       total,
		OnProgress:  onProgress,
		lastPercent: -1,
	}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.OnProgress != nil {
		if pct := r.Progress(); pct > r.lastPercent {
			r.lastPercent = pct
			r.OnProgress(pct)
		}
	}
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	pct := int(r.BytesRead * 100 / r.Total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
