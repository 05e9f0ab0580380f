package chain

import (
	"bytes"
	"encoding/hex"
	"hash"

	"github.com/jmerrifield20/linechain/internal/digest"
)

// FormatTag and FormatVersion identify a linechain artifact header.
const (
	FormatTag     = "linechain"
	FormatVersion = 1
)

// Header precedes the records of an artifact.
type Header struct {
	Format    string `json:"format" cbor:"format" yaml:"format"`
	Version   int    `json:"version" cbor:"version" yaml:"version"`
	Algorithm string `json:"algorithm" cbor:"algorithm" yaml:"algorithm"`
}

// NewHeader returns the header written for artifacts built with alg.
func NewHeader(alg digest.Algorithm) Header {
	return Header{Format: FormatTag, Version: FormatVersion, Algorithm: alg.Name}
}

// Record is one chain entry. Digests are raw bytes in memory and hex on disk.
type Record struct {
	Index       int
	LineDigest  []byte
	ChainDigest []byte
}

// Equal reports whether two records are byte-for-byte identical.
func (r Record) Equal(o Record) bool {
	return r.Index == o.Index &&
		bytes.Equal(r.LineDigest, o.LineDigest) &&
		bytes.Equal(r.ChainDigest, o.ChainDigest)
}

// LineHex returns the hex-encoded line digest.
func (r Record) LineHex() string { return hex.EncodeToString(r.LineDigest) }

// ChainHex returns the hex-encoded chain digest.
func (r Record) ChainHex() string { return hex.EncodeToString(r.ChainDigest) }

// Folder computes records for consecutive lines. The zero chain state is
// the empty previous digest used for index 0.
type Folder struct {
	h    hash.Hash
	prev []byte
	next int
}

// NewFolder starts a chain at index 0.
func NewFolder(alg digest.Algorithm) *Folder {
	return &Folder{h: alg.New()}
}

// Resume continues a chain after the record last, as an incremental
// append does once the existing records are verified.
func (f *Folder) Resume(last Record) {
	f.prev = append(f.prev[:0], last.ChainDigest...)
	f.next = last.Index + 1
}

// Next folds raw into the chain and returns its record.
func (f *Folder) Next(raw []byte) Record {
	f.h.Reset()
	f.h.Write(raw)
	line := f.h.Sum(nil)

	f.h.Reset()
	f.h.Write(f.prev)
	f.h.Write(raw)
	chained := f.h.Sum(nil)

	rec := Record{Index: f.next, LineDigest: line, ChainDigest: chained}
	f.prev = append(f.prev[:0], chained...)
	f.next++
	return rec
}

// Index is the index the next call to Next will produce.
func (f *Folder) Index() int { return f.next }
