package core

// streaming.go provides the reader used for source CSV files.
//
// Source files are streamed row by row, so cleanup happens on the fly:
//
//   - a leading UTF-8 BOM (0xEF 0xBB 0xBF) is dropped
//   - invalid UTF-8 bytes become '?' so encoding/csv never sees them
//   - bytes delivered are counted for progress reporting

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SourceReader wraps a source file. It is not safe for concurrent use.
type SourceReader struct {
	br         *bufio.Reader
	bomChecked bool
	pending    []byte // tail of a rune that did not fit the caller's buffer

	BytesRead int64
	Total     int64 // size of the underlying file, 0 if unknown
}

// NewSourceReader wraps r. total is the expected size for Progress.
func NewSourceReader(r io.Reader, total int64) *SourceReader {
	return &SourceReader{
		br:    bufio.NewReaderSize(r, 64*1024),
		Total: total,
	}
}

// Read implements io.Reader.
func (s *SourceReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !s.bomChecked {
		s.bomChecked = true
		if head, err := s.br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = s.br.Discard(len(utf8BOM))
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]

	var readErr error
	for n < len(p) {
		r, size, err := s.br.ReadRune()
		if err != nil {
			readErr = err
			break
		}
		if r == utf8.RuneError && size == 1 {
			p[n] = '?'
			n++
			continue
		}
		var buf [utf8.UTFMax]byte
		w := utf8.EncodeRune(buf[:], r)
		c := copy(p[n:], buf[:w])
		n += c
		if c < w {
			s.pending = append(s.pending[:0], buf[c:w]...)
		}
	}

	s.BytesRead += int64(n)
	if n > 0 {
		return n, nil
	}
	return 0, readErr
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (s *SourceReader) Progress() int {
	if s.Total <= 0 {
		return 0
	}
	pct := int(s.BytesRead * 100 / s.Total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
