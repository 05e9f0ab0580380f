package chain

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmerrifield20/linechain/internal/digest"
)

// Format is an artifact encoding.
type Format string

const (
	// FormatJSONL is a header line followed by one JSON record per line.
	FormatJSONL Format = "jsonl"
	// FormatCBOR is an RFC 8742 CBOR sequence of the same header and records.
	FormatCBOR Format = "cbor"
	// FormatLegacy is the JSON array written by the original evidence-log
	// script. It is read-only.
	FormatLegacy Format = "legacy"
)

// ParseFormat validates a writable format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSONL:
		return FormatJSONL, nil
	case FormatCBOR:
		return FormatCBOR, nil
	}
	return "", fmt.Errorf("unknown artifact format %q (want jsonl or cbor)", s)
}

// DefaultArtifactPath derives the artifact name from the log name:
// "evidence.csv" becomes "evidence.csv.chain.jsonl".
func DefaultArtifactPath(logPath string, f Format) string {
	if f == FormatCBOR {
		return logPath + ".chain.cbor"
	}
	return logPath + ".chain.jsonl"
}

type wireRecord struct {
	Index       int    `json:"index" cbor:"index"`
	LineDigest  string `json:"line_digest" cbor:"line_digest"`
	ChainDigest string `json:"chain_digest" cbor:"chain_digest"`
}

type legacyRecord struct {
	LineNo    int    `json:"line_no"`
	SHA256    string `json:"sha256_line"`
	ChainHash string `json:"chain_hash"`
}

func toWire(r Record) wireRecord {
	return wireRecord{Index: r.Index, LineDigest: r.LineHex(), ChainDigest: r.ChainHex()}
}

func fromWire(w wireRecord, size int) (Record, error) {
	line, err := decodeDigest(w.LineDigest, size)
	if err != nil {
		return Record{}, fmt.Errorf("%w: record %d line_digest: %w", ErrMalformedArtifact, w.Index, err)
	}
	chained, err := decodeDigest(w.ChainDigest, size)
	if err != nil {
		return Record{}, fmt.Errorf("%w: record %d chain_digest: %w", ErrMalformedArtifact, w.Index, err)
	}
	return Record{Index: w.Index, LineDigest: line, ChainDigest: chained}, nil
}

func decodeDigest(s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("digest is %d bytes, want %d", len(b), size)
	}
	return b, nil
}

// recordEncoder writes one artifact.
type recordEncoder interface {
	writeHeader(Header) error
	writeRecord(Record) error
	flush() error
}

// recordDecoder reads the records that follow a header. next returns
// io.EOF after the last record.
type recordDecoder interface {
	next() (wireRecord, error)
}

func newEncoder(f Format, w io.Writer) (recordEncoder, error) {
	switch f {
	case FormatJSONL:
		return newJSONLEncoder(w), nil
	case FormatCBOR:
		return newCBOREncoder(w), nil
	}
	return nil, fmt.Errorf("artifact format %q is not writable", f)
}

type jsonlEncoder struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

func newJSONLEncoder(w io.Writer) *jsonlEncoder {
	bw := bufio.NewWriter(w)
	return &jsonlEncoder{bw: bw, enc: json.NewEncoder(bw)}
}

func (e *jsonlEncoder) writeHeader(h Header) error { return e.enc.Encode(h) }
func (e *jsonlEncoder) writeRecord(r Record) error { return e.enc.Encode(toWire(r)) }
func (e *jsonlEncoder) flush() error               { return e.bw.Flush() }

type jsonlDecoder struct {
	dec *json.Decoder
}

func (d *jsonlDecoder) next() (wireRecord, error) {
	var w wireRecord
	err := d.dec.Decode(&w)
	return w, err
}

type legacyDecoder struct {
	dec  *json.Decoder
	done bool
}

func (d *legacyDecoder) next() (wireRecord, error) {
	if d.done {
		return wireRecord{}, io.EOF
	}
	if !d.dec.More() {
		d.done = true
		tok, err := d.dec.Token()
		if err != nil {
			return wireRecord{}, err
		}
		if tok != json.Delim(']') {
			return wireRecord{}, fmt.Errorf("unexpected token %v", tok)
		}
		return wireRecord{}, io.EOF
	}
	var l legacyRecord
	if err := d.dec.Decode(&l); err != nil {
		return wireRecord{}, err
	}
	return wireRecord{Index: l.LineNo, LineDigest: l.SHA256, ChainDigest: l.ChainHash}, nil
}

// ArtifactReader streams the records of a committed artifact.
type ArtifactReader struct {
	f      *os.File
	dec    recordDecoder
	header Header
	format Format
	alg    digest.Algorithm
	rec    Record
	next   int
	err    error
}

// OpenArtifact opens path, detects its encoding and decodes the header.
// An artifact whose algorithm is not supported fails with
// ErrAlgorithmMismatch.
func OpenArtifact(path string) (*ArtifactReader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, ioErr("open artifact", err)
	}
	ar, err := newArtifactReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ar.f = f
	return ar, nil
}

func newArtifactReader(r io.Reader) (*ArtifactReader, error) {
	br := bufio.NewReader(r)
	first, err := firstSignificantByte(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty artifact", ErrMalformedArtifact)
		}
		return nil, ioErr("read artifact", err)
	}

	ar := &ArtifactReader{}
	switch {
	case first == '{':
		dec := json.NewDecoder(br)
		if err := dec.Decode(&ar.header); err != nil {
			return nil, fmt.Errorf("%w: header: %w", ErrMalformedArtifact, err)
		}
		ar.dec = &jsonlDecoder{dec: dec}
		ar.format = FormatJSONL
	case first == '[':
		dec := json.NewDecoder(br)
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedArtifact, err)
		}
		ar.dec = &legacyDecoder{dec: dec}
		ar.header = Header{Format: string(FormatLegacy), Algorithm: digest.SHA256}
		ar.format = FormatLegacy
	case first>>5 == 5: // CBOR major type 5: map
		dec := newCBORDecoder(br)
		if err := dec.decodeHeader(&ar.header); err != nil {
			return nil, fmt.Errorf("%w: header: %w", ErrMalformedArtifact, err)
		}
		ar.dec = dec
		ar.format = FormatCBOR
	default:
		return nil, fmt.Errorf("%w: unrecognised encoding (first byte 0x%02x)", ErrMalformedArtifact, first)
	}

	if ar.format != FormatLegacy {
		if ar.header.Format != FormatTag {
			return nil, fmt.Errorf("%w: format tag %q", ErrMalformedArtifact, ar.header.Format)
		}
		if ar.header.Version != FormatVersion {
			return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedArtifact, ar.header.Version)
		}
	}

	alg, err := digest.Lookup(ar.header.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlgorithmMismatch, err)
	}
	ar.alg = alg
	return ar, nil
}

func firstSignificantByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

// Header returns the decoded artifact header.
func (ar *ArtifactReader) Header() Header { return ar.header }

// Format returns the detected encoding.
func (ar *ArtifactReader) Format() Format { return ar.format }

// Algorithm returns the digest algorithm declared by the header.
func (ar *ArtifactReader) Algorithm() digest.Algorithm { return ar.alg }

// Next decodes the next record. Records must carry consecutive indexes
// starting at zero.
func (ar *ArtifactReader) Next() bool {
	if ar.err != nil {
		return false
	}
	w, err := ar.dec.next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			ar.err = fmt.Errorf("%w: record %d: %w", ErrMalformedArtifact, ar.next, err)
		}
		return false
	}
	if w.Index != ar.next {
		ar.err = fmt.Errorf("%w: record %d carries index %d", ErrMalformedArtifact, ar.next, w.Index)
		return false
	}
	rec, err := fromWire(w, ar.alg.Size)
	if err != nil {
		ar.err = err
		return false
	}
	ar.rec = rec
	ar.next++
	return true
}

// Record returns the record decoded by the last call to Next.
func (ar *ArtifactReader) Record() Record { return ar.rec }

// Count returns the number of records read so far.
func (ar *ArtifactReader) Count() int { return ar.next }

// Err returns the first decode error.
func (ar *ArtifactReader) Err() error { return ar.err }

// Close releases the artifact file.
func (ar *ArtifactReader) Close() error {
	if ar.f == nil {
		return nil
	}
	return ar.f.Close()
}
