package chain_test

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

var scenario = []string{"A1,t1", "A2,t2", "A3,t3"}

func writeLog(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "evidence_log.csv")
	writeLines(t, path, lines...)
	return path
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	var content string
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// buildFixture writes a log and builds its jsonl artifact.
func buildFixture(t *testing.T, lines ...string) (logPath, artifactPath string) {
	t.Helper()
	dir := t.TempDir()
	logPath = writeLog(t, dir, lines...)
	artifactPath = chain.DefaultArtifactPath(logPath, chain.FormatJSONL)
	_, err := chain.Build(ctx, logPath, artifactPath, chain.BuildOptions{})
	require.NoError(t, err)
	return logPath, artifactPath
}

func readRecords(t *testing.T, artifactPath string) []chain.Record {
	t.Helper()
	var out []chain.Record
	_, err := chain.Scan(ctx, artifactPath, 0, 0, func(r chain.Record) error {
		out = append(out, r)
		return nil
	})
	require.NoError(t, err)
	return out
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func sha(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// editJSONL rewrites line n (0 is the header) of a jsonl artifact.
func editJSONL(t *testing.T, path string, n int, edit func(map[string]any)) {
	t.Helper()
	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(mustRead(t, path)))
	for sc.Scan() {
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	require.NoError(t, sc.Err())
	require.Less(t, n, len(lines))

	var obj map[string]any
	require.NoError(t, json.Unmarshal(lines[n], &obj))
	edit(obj)
	b, err := json.Marshal(obj)
	require.NoError(t, err)
	lines[n] = b

	require.NoError(t, os.WriteFile(path, append(bytes.Join(lines, []byte("\n")), '\n'), 0o644))
}

// writeLegacy writes the JSON array produced by the original evidence-log
// chaining script for lines.
func writeLegacy(t *testing.T, path string, lines ...string) {
	t.Helper()
	type legacy struct {
		LineNo    int    `json:"line_no"`
		SHA256    string `json:"sha256_line"`
		ChainHash string `json:"chain_hash"`
	}
	out := []legacy{}
	var prev []byte
	for i, l := range lines {
		chained := sha(prev, []byte(l))
		out = append(out, legacy{LineNo: i, SHA256: hex.EncodeToString(sha([]byte(l))), ChainHash: hex.EncodeToString(chained)})
		prev = chained
	}
	b, err := json.MarshalIndent(out, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
}
