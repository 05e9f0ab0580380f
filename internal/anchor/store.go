package anchor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jmerrifield20/linechain/internal/chain"
)

var (
	// ErrNotFound is returned by Latest when a log has never been anchored.
	ErrNotFound = errors.New("anchor: no checkpoint for log")

	// ErrRegression is returned when a checkpoint would commit to fewer
	// records than the log's previous checkpoint.
	ErrRegression = errors.New("anchor: checkpoint shorter than previous checkpoint")

	// ErrMismatch is returned by Confirm when an artifact no longer holds
	// the anchored head.
	ErrMismatch = errors.New("anchor: artifact does not match checkpoint")
)

// Store is the append-only, hash-chained checkpoint log.
// Both MemoryStore and PostgresStore implement this interface.
type Store interface {
	// Record appends a checkpoint for logName chained to the previous one.
	Record(ctx context.Context, logName string, records int, head, algorithm string) (*Checkpoint, error)

	// Latest returns the most recent checkpoint for logName.
	Latest(ctx context.Context, logName string) (*Checkpoint, error)

	// List returns up to limit checkpoints for logName, newest first.
	List(ctx context.Context, logName string, limit int) ([]*Checkpoint, error)

	// Verify walks every checkpoint and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context) error
}

// Confirm checks that the artifact at path still carries cp's head at
// record cp.Records-1.
func Confirm(ctx context.Context, cp *Checkpoint, artifactPath string) error {
	if cp.Records == 0 {
		return nil
	}
	want, err := cp.Chain()
	if err != nil {
		return err
	}
	rec, err := chain.RecordAt(ctx, artifactPath, cp.Records-1)
	if err != nil {
		if errors.Is(err, chain.ErrRecordNotFound) {
			return fmt.Errorf("%w: artifact has fewer than %d records", ErrMismatch, cp.Records)
		}
		return err
	}
	if rec.ChainHex() != hex.EncodeToString(want.Head) {
		return fmt.Errorf("%w: record %d is %s, anchored %s", ErrMismatch, rec.Index, rec.ChainHex(), cp.Head)
	}
	return nil
}

// Anchor confirms the artifact extends the log's latest checkpoint and
// records a new checkpoint at its current head. It returns the previous
// checkpoint (nil on first anchor) and the new one.
func Anchor(ctx context.Context, s Store, logName, artifactPath string) (prev, next *Checkpoint, err error) {
	prev, err = s.Latest(ctx, logName)
	switch {
	case errors.Is(err, ErrNotFound):
		prev = nil
	case err != nil:
		return nil, nil, err
	default:
		if err := Confirm(ctx, prev, artifactPath); err != nil {
			return prev, nil, err
		}
	}

	sum, err := chain.Summarize(ctx, artifactPath)
	if err != nil {
		return prev, nil, err
	}
	next, err = s.Record(ctx, logName, sum.Records, sum.Head, sum.Header.Algorithm)
	if err != nil {
		return prev, nil, err
	}
	return prev, next, nil
}
