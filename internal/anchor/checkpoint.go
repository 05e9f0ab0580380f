package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/linechain/internal/chain"
)

// GenesisHash is the PrevHash of the first checkpoint in a store.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Checkpoint commits to the first Records records of one artifact: the
// record at Records-1 carried chain digest Head when it was anchored.
// Checkpoints are themselves hash-chained across the whole store.
type Checkpoint struct {
	Index      int       `json:"index" yaml:"index"`
	ID         uuid.UUID `json:"id" yaml:"id"`
	LogName    string    `json:"log_name" yaml:"log_name"`
	Records    int       `json:"records" yaml:"records"`
	Head       string    `json:"head" yaml:"head"`
	Algorithm  string    `json:"algorithm" yaml:"algorithm"`
	AnchoredAt time.Time `json:"anchored_at" yaml:"anchored_at"`
	PrevHash   string    `json:"prev_hash" yaml:"prev_hash"`
	Hash       string    `json:"hash" yaml:"hash"`
}

// Chain returns the checkpoint in the form chain.Verify consumes.
func (c *Checkpoint) Chain() (*chain.Checkpoint, error) {
	head, err := hex.DecodeString(c.Head)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint head: %w", err)
	}
	return &chain.Checkpoint{Records: c.Records, Head: head}, nil
}

// hashCheckpoint computes a deterministic SHA-256 over a checkpoint's fields.
func hashCheckpoint(c *Checkpoint) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%d|%s|%s|%s|%s",
		c.Index, c.ID, c.LogName, c.Records, c.Head, c.Algorithm,
		c.AnchoredAt.Format(time.RFC3339Nano), c.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// newCheckpoint builds the next checkpoint after prevIndex/prevHash.
func newCheckpoint(prevIndex int, prevHash, logName string, records int, head, algorithm string) *Checkpoint {
	c := &Checkpoint{
		Index:      prevIndex + 1,
		ID:         uuid.New(),
		LogName:    logName,
		Records:    records,
		Head:       head,
		Algorithm:  algorithm,
		AnchoredAt: time.Now().UTC().Truncate(time.Microsecond),
		PrevHash:   prevHash,
	}
	c.Hash = hashCheckpoint(c)
	return c
}

// verifyLink checks curr against its predecessor's hash.
func verifyLink(prevHash string, curr *Checkpoint) error {
	if curr.PrevHash != prevHash {
		return fmt.Errorf("checkpoint chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashCheckpoint(curr) {
		return fmt.Errorf("checkpoint %d has invalid hash", curr.Index)
	}
	return nil
}
