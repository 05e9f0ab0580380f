package chain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jmerrifield20/linechain/internal/digest"
	"go.uber.org/zap"
)

// ctxCheckInterval is how many lines are folded between context checks.
const ctxCheckInterval = 1024

// BuildOptions configures a full build.
type BuildOptions struct {
	// Algorithm names the digest; empty selects digest.Default.
	Algorithm string
	// Format selects the artifact encoding; empty selects FormatJSONL.
	Format Format
	// MaxLineBytes bounds a single line; <= 0 selects DefaultMaxLineBytes.
	MaxLineBytes int
	// Wait blocks on the writer lock instead of failing with ErrLocked.
	Wait   bool
	Logger *zap.Logger
}

// AppendOptions configures an incremental append.
type AppendOptions struct {
	// Algorithm, when set, pins the digest the existing artifact must
	// declare. It also selects the digest when CreateIfMissing builds.
	Algorithm string
	// Format is only used when CreateIfMissing builds a new artifact.
	Format       Format
	MaxLineBytes int
	// CreateIfMissing turns an append onto a missing artifact into a
	// full build. Without it a missing artifact is an I/O failure.
	CreateIfMissing bool
	Wait            bool
	Logger          *zap.Logger
}

// BuildResult describes the artifact left in place by Build or Append.
type BuildResult struct {
	Artifact  string `json:"artifact" yaml:"artifact"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Format    Format `json:"format" yaml:"format"`
	Records   int    `json:"records" yaml:"records"`
	Appended  int    `json:"appended" yaml:"appended"`
	Head      string `json:"head,omitempty" yaml:"head,omitempty"`
	Committed bool   `json:"committed" yaml:"committed"`
}

// Build discards any existing artifact and chains every line of the log
// from an empty previous digest. The new artifact replaces the old one
// atomically, or not at all.
func Build(ctx context.Context, logPath, artifactPath string, opts BuildOptions) (*BuildResult, error) {
	lock, err := lockArtifact(artifactPath, opts.Wait)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock() //nolint:errcheck

	return build(ctx, logPath, artifactPath, opts)
}

func build(ctx context.Context, logPath, artifactPath string, opts BuildOptions) (*BuildResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	algName := opts.Algorithm
	if algName == "" {
		algName = digest.Default
	}
	alg, err := digest.Lookup(algName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlgorithmMismatch, err)
	}
	format := opts.Format
	if format == "" {
		format = FormatJSONL
	}

	lr, err := OpenLog(logPath, opts.MaxLineBytes)
	if err != nil {
		return nil, err
	}
	defer lr.Close()

	out, err := createPending(artifactPath, format, NewHeader(alg))
	if err != nil {
		return nil, err
	}

	folder := NewFolder(alg)
	var last Record
	for lr.Next() {
		if lr.Index()%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				out.abort()
				return nil, err
			}
		}
		last = folder.Next(lr.Line())
		if err := out.write(last); err != nil {
			out.abort()
			return nil, err
		}
	}
	if err := lr.Err(); err != nil {
		out.abort()
		return nil, err
	}
	if err := out.commit(); err != nil {
		return nil, err
	}

	res := &BuildResult{
		Artifact:  artifactPath,
		Algorithm: alg.Name,
		Format:    format,
		Records:   out.n,
		Appended:  out.n,
		Committed: true,
	}
	if out.n > 0 {
		res.Head = last.ChainHex()
	}
	logger.Info("chain built",
		zap.String("log", logPath),
		zap.String("artifact", artifactPath),
		zap.String("algorithm", alg.Name),
		zap.Int("records", res.Records),
	)
	return res, nil
}

// Append extends an existing artifact with the lines added to the log
// since it was last built. Every existing record is first recomputed from
// the current log and compared byte for byte: a mismatch fails with
// ErrChainCorrupted and a short log with ErrLogTruncated, both as a
// *DivergenceError, and leave the artifact untouched.
func Append(ctx context.Context, logPath, artifactPath string, opts AppendOptions) (*BuildResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	lock, err := lockArtifact(artifactPath, opts.Wait)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock() //nolint:errcheck

	ar, err := OpenArtifact(artifactPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && opts.CreateIfMissing {
			logger.Info("artifact missing, building from empty chain", zap.String("artifact", artifactPath))
			return build(ctx, logPath, artifactPath, BuildOptions{
				Algorithm:    opts.Algorithm,
				Format:       opts.Format,
				MaxLineBytes: opts.MaxLineBytes,
				Logger:       logger,
			})
		}
		return nil, err
	}
	defer ar.Close()

	alg := ar.Algorithm()
	if opts.Algorithm != "" && opts.Algorithm != alg.Name {
		return nil, fmt.Errorf("%w: artifact uses %s, expected %s", ErrAlgorithmMismatch, alg.Name, opts.Algorithm)
	}
	format := ar.Format()
	if format == FormatLegacy {
		format = FormatJSONL
	}

	lr, err := OpenLog(logPath, opts.MaxLineBytes)
	if err != nil {
		return nil, err
	}
	defer lr.Close()

	out, err := createPending(artifactPath, format, NewHeader(alg))
	if err != nil {
		return nil, err
	}

	folder := NewFolder(alg)
	var last Record
	for ar.Next() {
		stored := ar.Record()
		if !lr.Next() {
			out.abort()
			if err := lr.Err(); err != nil {
				return nil, err
			}
			logger.Warn("log shorter than artifact",
				zap.String("log", logPath),
				zap.Int("log_lines", lr.Count()),
				zap.Int("first_missing", stored.Index),
			)
			return nil, divergence(ErrLogTruncated, stored.Index)
		}
		if lr.Index()%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				out.abort()
				return nil, err
			}
		}
		computed := folder.Next(lr.Line())
		if !computed.Equal(stored) {
			out.abort()
			logger.Warn("committed record does not reproduce",
				zap.String("log", logPath),
				zap.String("artifact", artifactPath),
				zap.Int("index", stored.Index),
			)
			return nil, divergence(ErrChainCorrupted, stored.Index)
		}
		last = computed
		if err := out.write(computed); err != nil {
			out.abort()
			return nil, err
		}
	}
	if err := ar.Err(); err != nil {
		out.abort()
		return nil, err
	}
	existing := ar.Count()

	for lr.Next() {
		if lr.Index()%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				out.abort()
				return nil, err
			}
		}
		last = folder.Next(lr.Line())
		if err := out.write(last); err != nil {
			out.abort()
			return nil, err
		}
	}
	if err := lr.Err(); err != nil {
		out.abort()
		return nil, err
	}

	res := &BuildResult{
		Artifact:  artifactPath,
		Algorithm: alg.Name,
		Format:    ar.Format(),
		Records:   out.n,
		Appended:  out.n - existing,
	}
	if out.n > 0 {
		res.Head = last.ChainHex()
	}
	if res.Appended == 0 {
		out.abort()
		logger.Debug("no new lines to append", zap.String("log", logPath), zap.Int("records", res.Records))
		return res, nil
	}

	if err := out.commit(); err != nil {
		return nil, err
	}
	res.Format = format
	res.Committed = true
	logger.Info("chain appended",
		zap.String("log", logPath),
		zap.String("artifact", artifactPath),
		zap.Int("appended", res.Appended),
		zap.Int("records", res.Records),
	)
	return res, nil
}
