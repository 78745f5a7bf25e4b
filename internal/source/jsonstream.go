package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// ArrayScanner incrementally walks a large JSON-array file laid out one
// object per line (the bulk snapshot format), without ever materializing the
// parsed collection. Array brackets and trailing separators are discarded;
// malformed fragments are skipped and counted instead of aborting the walk.
type ArrayScanner struct {
	reader    *bufio.Reader
	done      bool
	malformed int
}

// NewArrayScanner creates a scanner over a raw snapshot byte stream.
// Parameters:
//   - r: snapshot content, a JSON array with one object per line.
// Returns:
//   - *ArrayScanner: scanner positioned before the first object.
func NewArrayScanner(r io.Reader) *ArrayScanner {
	// Large buffer: single card objects run well past bufio's default.
	return &ArrayScanner{reader: bufio.NewReaderSize(r, 256*1024)}
}

// Next returns the raw bytes of the next JSON object in the array, or io.EOF
// once the array is exhausted.
// Parameters: none.
// Returns:
//   - []byte: one JSON object, valid until the next call.
//   - error: io.EOF at the end of the array, or a read error.
func (s *ArrayScanner) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		line, err := s.readLine()
		if err != nil {
			if err == io.EOF {
				s.done = true
			}
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		// Array delimiters appear on their own lines.
		if bytes.Equal(line, []byte("[")) {
			continue
		}
		if bytes.Equal(line, []byte("]")) {
			s.done = true
			return nil, io.EOF
		}

		// Opening bracket may be glued to the first object.
		line = bytes.TrimPrefix(line, []byte("["))
		// Trailing separator, possibly followed by the closing bracket.
		closing := false
		if bytes.HasSuffix(line, []byte("]")) {
			line = bytes.TrimSuffix(line, []byte("]"))
			closing = true
		}
		line = bytes.TrimSuffix(bytes.TrimSpace(line), []byte(","))
		line = bytes.TrimSpace(line)

		if closing {
			s.done = true
		}
		if len(line) == 0 {
			if s.done {
				return nil, io.EOF
			}
			continue
		}

		if !json.Valid(line) {
			s.malformed++
			if s.done {
				return nil, io.EOF
			}
			continue
		}

		return line, nil
	}
}

// MalformedCount returns how many fragments were skipped as unparseable.
func (s *ArrayScanner) MalformedCount() int {
	return s.malformed
}

// readLine reads one full line regardless of length. A final line without a
// trailing newline is still returned before io.EOF.
func (s *ArrayScanner) readLine() ([]byte, error) {
	line, err := s.reader.ReadBytes('\n')
	if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
		return line, nil
	}
	return line, err
}
