package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/jmerrifield20/linechain/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
}

func records(t *testing.T, artifact string) int {
	t.Helper()
	sum, err := chain.Summarize(context.Background(), artifact)
	if err != nil {
		return -1
	}
	return sum.Records
}

func start(t *testing.T, cfg watch.Config) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- watch.New(cfg, zap.NewNop()).Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, errCh
}

func TestRun_followsAppends(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte("A1,t1\n"), 0o644))
	artifact := chain.DefaultArtifactPath(logPath, chain.FormatJSONL)
	store := anchor.NewMemoryStore()

	var calls atomic.Int32
	cancel, done := start(t, watch.Config{
		Name:         "app",
		LogPath:      logPath,
		ArtifactPath: artifact,
		Debounce:     20 * time.Millisecond,
		Poll:         true,
		Anchors:      store,
		OnAppend:     func(*chain.BuildResult) { calls.Add(1) },
	})

	// Catch-up creates the artifact.
	require.Eventually(t, func() bool { return records(t, artifact) == 1 }, 5*time.Second, 10*time.Millisecond)

	appendLines(t, logPath, "A2,t2", "A3,t3")
	require.Eventually(t, func() bool { return records(t, artifact) == 3 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))

	rep, err := chain.Verify(context.Background(), logPath, artifact, chain.VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, chain.VerdictValid, rep.Verdict)

	cp, err := store.Latest(context.Background(), "app")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Records)
	assert.NoError(t, store.Verify(context.Background()))
}

func TestRun_stopsOnCorruptedChain(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte("A1,t1\nA2,t2\n"), 0o644))
	artifact := chain.DefaultArtifactPath(logPath, chain.FormatJSONL)
	_, err := chain.Build(context.Background(), logPath, artifact, chain.BuildOptions{})
	require.NoError(t, err)

	// Rewrite an already chained line.
	require.NoError(t, os.WriteFile(logPath, []byte("A1,t1\nX2,t2\n"), 0o644))

	_, done := start(t, watch.Config{
		LogPath:      logPath,
		ArtifactPath: artifact,
		Debounce:     20 * time.Millisecond,
		Poll:         true,
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, chain.ErrChainCorrupted)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on a corrupted chain")
	}
}

func TestRun_missingLog(t *testing.T) {
	dir := t.TempDir()
	err := watch.New(watch.Config{
		LogPath:      filepath.Join(dir, "nope.log"),
		ArtifactPath: filepath.Join(dir, "nope.log.chain.jsonl"),
	}, nil).Run(context.Background())
	assert.ErrorIs(t, err, chain.ErrIO)
}
