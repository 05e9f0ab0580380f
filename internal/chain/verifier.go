package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Verdict is the outcome of a verification. Verdicts are values, never
// errors: a log failing verification is an expected result.
type Verdict string

const (
	VerdictValid        Verdict = "VALID"
	VerdictUncommitted  Verdict = "VALID_BUT_UNCOMMITTED_APPENDS"
	VerdictTampered     Verdict = "TAMPERED"
	VerdictInconclusive Verdict = "INCONCLUSIVE"
)

// Kind names the nature of a divergence.
type Kind string

const (
	KindLineModified       Kind = "line_modified"
	KindLengthMismatch     Kind = "length_mismatch"
	KindUncommittedAppends Kind = "uncommitted_appends"
	KindAnchorMismatch     Kind = "anchor_mismatch"
)

// Checkpoint is an externally held commitment to an artifact prefix:
// record Records-1 must carry chain digest Head.
type Checkpoint struct {
	Records int
	Head    []byte
}

// VerifyOptions configures Verify.
type VerifyOptions struct {
	// Algorithm, when set, is the only digest the artifact may declare.
	Algorithm    string
	MaxLineBytes int
	// Checkpoint, when set, is additionally confirmed against the artifact.
	Checkpoint *Checkpoint
	Logger     *zap.Logger
}

// Report is the structured result of Verify.
type Report struct {
	ID      uuid.UUID `json:"id" yaml:"id"`
	Verdict Verdict   `json:"verdict" yaml:"verdict"`
	Kind    Kind      `json:"kind,omitempty" yaml:"kind,omitempty"`
	// Index is the first divergent (or first uncommitted / missing) index.
	Index *int `json:"index,omitempty" yaml:"index,omitempty"`
	// Expected and Actual are hex digests at Index for content divergences:
	// Expected is what the artifact holds, Actual what the log produces.
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual   string `json:"actual,omitempty" yaml:"actual,omitempty"`
	// LogLines and ArtifactRecords are full counts, except after a
	// TAMPERED verdict where scanning stops at Index.
	LogLines        int           `json:"log_lines" yaml:"log_lines"`
	ArtifactRecords int           `json:"artifact_records" yaml:"artifact_records"`
	Compared        int           `json:"compared" yaml:"compared"`
	Algorithm       string        `json:"algorithm" yaml:"algorithm"`
	Format          Format        `json:"format" yaml:"format"`
	Head            string        `json:"head,omitempty" yaml:"head,omitempty"`
	Duration        time.Duration `json:"duration_ns" yaml:"duration"`
}

// DivergentIndex returns Index and whether it is set.
func (r *Report) DivergentIndex() (int, bool) {
	if r.Index == nil {
		return 0, false
	}
	return *r.Index, true
}

func (r *Report) mark(v Verdict, k Kind, index int) {
	r.Verdict = v
	r.Kind = k
	r.Index = &index
}

// Verify recomputes the chain from the log and compares it, record by
// record, with the artifact. It never writes to either file and takes no
// lock: artifacts are replaced by rename, so an open handle always sees
// one committed snapshot.
//
// A line whose digest matches while its chain digest does not, after every
// earlier record matched, cannot be explained by any edit of the log and
// is returned as ErrInvariantViolation rather than a verdict.
func Verify(ctx context.Context, logPath, artifactPath string, opts VerifyOptions) (*Report, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ar, err := OpenArtifact(artifactPath)
	if err != nil {
		return nil, err
	}
	defer ar.Close()

	alg := ar.Algorithm()
	if opts.Algorithm != "" && opts.Algorithm != alg.Name {
		return nil, fmt.Errorf("%w: artifact uses %s, expected %s", ErrAlgorithmMismatch, alg.Name, opts.Algorithm)
	}

	lr, err := OpenLog(logPath, opts.MaxLineBytes)
	if err != nil {
		return nil, err
	}
	defer lr.Close()

	rep := &Report{ID: uuid.New(), Algorithm: alg.Name, Format: ar.Format()}
	cp := opts.Checkpoint
	folder := NewFolder(alg)

	finish := func() (*Report, error) {
		rep.LogLines = lr.Count()
		rep.ArtifactRecords = ar.Count()
		rep.Duration = time.Since(start)
		logger.Debug("chain verified",
			zap.String("id", rep.ID.String()),
			zap.String("log", logPath),
			zap.String("verdict", string(rep.Verdict)),
			zap.Int("log_lines", rep.LogLines),
			zap.Int("artifact_records", rep.ArtifactRecords),
		)
		return rep, nil
	}
	anchorMismatch := func(stored Record) bool {
		return cp != nil && stored.Index == cp.Records-1 && !bytes.Equal(stored.ChainDigest, cp.Head)
	}

	logExhausted := false
	for ar.Next() {
		stored := ar.Record()
		if !lr.Next() {
			if err := lr.Err(); err != nil {
				return nil, err
			}
			logExhausted = true
			break
		}
		i := lr.Index()
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		computed := folder.Next(lr.Line())
		if !bytes.Equal(computed.LineDigest, stored.LineDigest) {
			rep.mark(VerdictTampered, KindLineModified, i)
			rep.Expected = stored.LineHex()
			rep.Actual = computed.LineHex()
			rep.Compared = i
			return finish()
		}
		if !bytes.Equal(computed.ChainDigest, stored.ChainDigest) {
			return nil, divergence(ErrInvariantViolation, i)
		}
		if anchorMismatch(stored) {
			rep.mark(VerdictTampered, KindAnchorMismatch, i)
			rep.Expected = hex.EncodeToString(cp.Head)
			rep.Actual = stored.ChainHex()
			rep.Compared = i
			return finish()
		}
		rep.Head = stored.ChainHex()
	}
	if err := ar.Err(); err != nil {
		return nil, err
	}
	rep.Compared = folder.Index()

	if logExhausted {
		// The record that found the log empty has been read; keep scanning
		// the artifact for its length, head and any anchored record.
		stored := ar.Record()
		for {
			if anchorMismatch(stored) {
				rep.mark(VerdictTampered, KindAnchorMismatch, stored.Index)
				rep.Expected = hex.EncodeToString(cp.Head)
				rep.Actual = stored.ChainHex()
				return finish()
			}
			rep.Head = stored.ChainHex()
			if !ar.Next() {
				break
			}
			stored = ar.Record()
			if stored.Index%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
		}
		if err := ar.Err(); err != nil {
			return nil, err
		}
	} else {
		for lr.Next() {
			if lr.Index()%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
		}
		if err := lr.Err(); err != nil {
			return nil, err
		}
	}

	if cp != nil && ar.Count() < cp.Records {
		rep.mark(VerdictTampered, KindAnchorMismatch, ar.Count())
		rep.Expected = hex.EncodeToString(cp.Head)
		return finish()
	}

	lines, records := lr.Count(), ar.Count()
	switch {
	case lines == records:
		rep.Verdict = VerdictValid
	case lines > records:
		rep.mark(VerdictUncommitted, KindUncommittedAppends, records)
	default:
		rep.mark(VerdictInconclusive, KindLengthMismatch, lines)
	}
	return finish()
}
