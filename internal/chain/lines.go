package chain

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxLineBytes bounds the memory a single log line may occupy.
const DefaultMaxLineBytes = 16 << 20

// LineReader yields the lines of a log in file order, one at a time.
type LineReader struct {
	sc     *bufio.Scanner
	closer func() error
	index  int
	line   []byte
}

// OpenLog opens path for a forward-only line scan. Files ending in .gz
// or .zst are decompressed on the fly. maxLine <= 0 selects
// DefaultMaxLineBytes.
func OpenLog(path string, maxLine int) (*LineReader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, ioErr("open log", err)
	}

	var r io.Reader = f
	closer := f.Close
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, ioErr("open gzip log", err)
		}
		r = gz
		closer = func() error {
			gz.Close()
			return f.Close()
		}
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, ioErr("open zstd log", err)
		}
		r = zr
		closer = func() error {
			zr.Close()
			return f.Close()
		}
	}

	return newLineReader(r, closer, maxLine), nil
}

// NewLineReader scans lines from r. It is used for in-memory logs.
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	return newLineReader(r, func() error { return nil }, maxLine)
}

func newLineReader(r io.Reader, closer func() error, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	sc := bufio.NewScanner(r)
	initial := 64 * 1024
	if initial > maxLine {
		initial = maxLine
	}
	sc.Buffer(make([]byte, 0, initial), maxLine)
	sc.Split(scanLines)
	return &LineReader{sc: sc, closer: closer, index: -1}
}

// Next advances to the next line. It returns false at end of input or on
// error; Err distinguishes the two.
func (lr *LineReader) Next() bool {
	if !lr.sc.Scan() {
		return false
	}
	lr.index++
	lr.line = lr.sc.Bytes()
	return true
}

// Line returns the raw bytes of the current line without its terminator.
// The slice is only valid until the next call to Next.
func (lr *LineReader) Line() []byte { return lr.line }

// Index returns the zero-based position of the current line.
func (lr *LineReader) Index() int { return lr.index }

// Count returns the number of lines read so far.
func (lr *LineReader) Count() int { return lr.index + 1 }

// Err returns the first scan error, tagged as an I/O failure.
func (lr *LineReader) Err() error {
	err := lr.sc.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return ioErr("read log line "+strconv.Itoa(lr.index+1), err)
	}
	return ioErr("read log", err)
}

// Close releases the underlying file.
func (lr *LineReader) Close() error {
	return lr.closer()
}

// scanLines splits on "\n", "\r\n" and a lone "\r", dropping the
// terminator. A final unterminated line is returned; a trailing
// terminator does not produce an empty line.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// '\r': need one more byte to know whether it is "\r\n".
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
