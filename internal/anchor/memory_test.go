package anchor_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

// build writes lines to a log under dir and (re)builds its artifact.
func build(t *testing.T, dir string, lines ...string) (logPath, artifactPath string) {
	t.Helper()
	logPath = filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	artifactPath = chain.DefaultArtifactPath(logPath, chain.FormatJSONL)
	_, err := chain.Build(ctx, logPath, artifactPath, chain.BuildOptions{})
	require.NoError(t, err)
	return logPath, artifactPath
}

func TestRecord_chainsCorrectly(t *testing.T) {
	s := anchor.NewMemoryStore()

	c1, err := s.Record(ctx, "a.log", 3, "aa", "sha256")
	require.NoError(t, err)
	c2, err := s.Record(ctx, "b.log", 1, "bb", "sha256")
	require.NoError(t, err)

	assert.Equal(t, 0, c1.Index)
	assert.Equal(t, anchor.GenesisHash, c1.PrevHash)
	assert.Equal(t, 1, c2.Index)
	assert.Equal(t, c1.Hash, c2.PrevHash, "checkpoints chain across logs")
	assert.NoError(t, s.Verify(ctx))
}

func TestRecord_regression(t *testing.T) {
	s := anchor.NewMemoryStore()
	_, err := s.Record(ctx, "a.log", 5, "aa", "sha256")
	require.NoError(t, err)

	_, err = s.Record(ctx, "a.log", 4, "bb", "sha256")
	assert.ErrorIs(t, err, anchor.ErrRegression)

	// Other logs are unaffected.
	_, err = s.Record(ctx, "b.log", 1, "cc", "sha256")
	assert.NoError(t, err)
}

func TestLatestAndList(t *testing.T) {
	s := anchor.NewMemoryStore()

	_, err := s.Latest(ctx, "a.log")
	assert.ErrorIs(t, err, anchor.ErrNotFound)

	for i := 1; i <= 3; i++ {
		_, err := s.Record(ctx, "a.log", i, "h", "sha256")
		require.NoError(t, err)
	}
	_, err = s.Record(ctx, "b.log", 9, "h", "sha256")
	require.NoError(t, err)

	latest, err := s.Latest(ctx, "a.log")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Records)

	list, err := s.List(ctx, "a.log", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 3, list[0].Records, "newest first")
	assert.Equal(t, 2, list[1].Records)

	all, err := s.List(ctx, "a.log", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestVerify_detectsTamper(t *testing.T) {
	s := anchor.NewMemoryStore()
	c, err := s.Record(ctx, "a.log", 3, "aa", "sha256")
	require.NoError(t, err)
	_, err = s.Record(ctx, "a.log", 4, "bb", "sha256")
	require.NoError(t, err)

	c.Records = 30
	assert.Error(t, s.Verify(ctx))
}

func TestAnchor_thenVerify(t *testing.T) {
	dir := t.TempDir()
	logPath, artifactPath := build(t, dir, "A1,t1", "A2,t2", "A3,t3")
	s := anchor.NewMemoryStore()

	prev, next, err := anchor.Anchor(ctx, s, logPath, artifactPath)
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, 3, next.Records)
	assert.Equal(t, "sha256", next.Algorithm)

	cp, err := next.Chain()
	require.NoError(t, err)
	report, err := chain.Verify(ctx, logPath, artifactPath, chain.VerifyOptions{Checkpoint: cp})
	require.NoError(t, err)
	assert.Equal(t, chain.VerdictValid, report.Verdict)
}

func TestAnchor_extendsAfterAppend(t *testing.T) {
	dir := t.TempDir()
	logPath, artifactPath := build(t, dir, "A1,t1", "A2,t2")
	s := anchor.NewMemoryStore()
	_, first, err := anchor.Anchor(ctx, s, logPath, artifactPath)
	require.NoError(t, err)

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("A3,t3\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = chain.Append(ctx, logPath, artifactPath, chain.AppendOptions{})
	require.NoError(t, err)

	prev, next, err := anchor.Anchor(ctx, s, logPath, artifactPath)
	require.NoError(t, err)
	assert.Equal(t, first.ID, prev.ID)
	assert.Equal(t, 3, next.Records)
	assert.Equal(t, first.Hash, next.PrevHash)
}

func TestAnchor_rebuiltArtifactRejected(t *testing.T) {
	dir := t.TempDir()
	logPath, artifactPath := build(t, dir, "A1,t1", "A2,t2", "A3,t3")
	s := anchor.NewMemoryStore()
	_, _, err := anchor.Anchor(ctx, s, logPath, artifactPath)
	require.NoError(t, err)

	// Rewrite history and rebuild a self-consistent chain.
	build(t, dir, "A1,t1", "X2,t2", "A3,t3")

	_, _, err = anchor.Anchor(ctx, s, logPath, artifactPath)
	assert.ErrorIs(t, err, anchor.ErrMismatch)

	latest, err := s.Latest(ctx, logPath)
	require.NoError(t, err)
	cp, err := latest.Chain()
	require.NoError(t, err)
	report, err := chain.Verify(ctx, logPath, artifactPath, chain.VerifyOptions{Checkpoint: cp})
	require.NoError(t, err)
	assert.Equal(t, chain.VerdictTampered, report.Verdict)
	assert.Equal(t, chain.KindAnchorMismatch, report.Kind)
}

func TestConfirm_shorterArtifact(t *testing.T) {
	dir := t.TempDir()
	_, artifactPath := build(t, dir, "A1,t1")
	cp := &anchor.Checkpoint{Records: 4, Head: strings.Repeat("ab", 32)}

	assert.ErrorIs(t, anchor.Confirm(ctx, cp, artifactPath), anchor.ErrMismatch)
}
