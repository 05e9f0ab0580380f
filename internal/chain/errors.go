package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrIO covers every unreadable or unwritable log or artifact.
	ErrIO = errors.New("chain: i/o failure")

	// ErrMalformedArtifact is returned when an artifact cannot be decoded.
	// It wraps ErrIO: a file that cannot be read as an artifact is not
	// evidence about the log.
	ErrMalformedArtifact = fmt.Errorf("%w: malformed artifact", ErrIO)

	// ErrChainCorrupted means previously committed records no longer
	// reproduce from the current log.
	ErrChainCorrupted = errors.New("chain: committed records do not reproduce from log")

	// ErrLogTruncated means the log has fewer lines than the artifact has records.
	ErrLogTruncated = errors.New("chain: log shorter than artifact")

	// ErrAlgorithmMismatch means the artifact declares a digest algorithm
	// this verifier cannot, or was told not to, use.
	ErrAlgorithmMismatch = errors.New("chain: digest algorithm mismatch")

	// ErrInvariantViolation means a record's line digest matched but its
	// chain digest did not, although every earlier record matched.
	ErrInvariantViolation = errors.New("chain: chain digest inconsistent with verified predecessor")

	// ErrLocked means another writer holds the artifact lock.
	ErrLocked = errors.New("chain: artifact locked by another writer")
)

// DivergenceError reports the first index at which a log and an
// artifact disagree during an operation that cannot continue.
type DivergenceError struct {
	Err   error
	Index int
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%v at index %d", e.Err, e.Index)
}

func (e *DivergenceError) Unwrap() error { return e.Err }

func divergence(err error, index int) error {
	return &DivergenceError{Err: err, Index: index}
}

// ioErr tags err as an I/O failure while keeping the underlying error
// available to errors.Is / errors.As.
func ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
