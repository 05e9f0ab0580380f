package chain

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned by RecordAt for an index past the end.
var ErrRecordNotFound = errors.New("chain: record not found")

// Summary describes a committed artifact without reference to its log.
type Summary struct {
	Header  Header `json:"header" yaml:"header"`
	Format  Format `json:"format" yaml:"format"`
	Records int    `json:"records" yaml:"records"`
	Head    string `json:"head,omitempty" yaml:"head,omitempty"`
}

// Summarize streams the artifact at path and returns its length and head.
func Summarize(ctx context.Context, path string) (*Summary, error) {
	return Scan(ctx, path, 0, 0, nil)
}

// Scan streams the artifact, calling fn for each record with index >= from,
// at most limit times when limit > 0. The returned summary always covers
// the whole artifact.
func Scan(ctx context.Context, path string, from, limit int, fn func(Record) error) (*Summary, error) {
	ar, err := OpenArtifact(path)
	if err != nil {
		return nil, err
	}
	defer ar.Close()

	sum := &Summary{Header: ar.Header(), Format: ar.Format()}
	emitted := 0
	for ar.Next() {
		rec := ar.Record()
		if rec.Index%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sum.Head = rec.ChainHex()
		if fn == nil || rec.Index < from || (limit > 0 && emitted >= limit) {
			continue
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		emitted++
	}
	if err := ar.Err(); err != nil {
		return nil, err
	}
	sum.Records = ar.Count()
	return sum, nil
}

// RecordAt returns the record at index. The artifact is read up to that
// record only.
func RecordAt(ctx context.Context, path string, index int) (Record, error) {
	if index < 0 {
		return Record{}, ErrRecordNotFound
	}
	ar, err := OpenArtifact(path)
	if err != nil {
		return Record{}, err
	}
	defer ar.Close()

	for ar.Next() {
		rec := ar.Record()
		if rec.Index == index {
			return rec, nil
		}
		if rec.Index%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Record{}, err
			}
		}
	}
	if err := ar.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, ErrRecordNotFound
}
