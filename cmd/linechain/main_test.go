package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/jmerrifield20/linechain/internal/filelock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// setup isolates the test from any user config and writes the scenario log.
func setup(t *testing.T, lines ...string) (dir, logPath string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir = t.TempDir()
	logPath = filepath.Join(dir, "evidence_log.csv")
	writeLog(t, logPath, lines...)
	return dir, logPath
}

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	var content string
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuildVerify_valid(t *testing.T) {
	_, logPath := setup(t, "A1,t1", "A2,t2", "A3,t3")

	r := run(t, "build", logPath)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "3 records")
	assert.FileExists(t, logPath+".chain.jsonl")

	r = run(t, "verify", logPath, logPath+".chain.jsonl")
	assert.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "VALID")
}

func TestVerify_exitCodes(t *testing.T) {
	tests := []struct {
		name  string
		after []string
		code  int
	}{
		{"valid", []string{"A1,t1", "A2,t2", "A3,t3"}, exitOK},
		{"uncommitted", []string{"A1,t1", "A2,t2", "A3,t3", "A4,t4"}, exitUncommitted},
		{"tampered", []string{"A1,t1", "A2,tX", "A3,t3"}, exitTampered},
		{"inconclusive", []string{"A1,t1", "A2,t2"}, exitInconclusive},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, logPath := setup(t, "A1,t1", "A2,t2", "A3,t3")
			require.Equal(t, exitOK, run(t, "build", logPath).code)

			writeLog(t, logPath, tc.after...)
			r := run(t, "verify", logPath)
			assert.Equal(t, tc.code, r.code, r.stdout+r.stderr)
			assert.NotContains(t, r.stderr, "linechain:", "verdicts are not reported as errors")
		})
	}
}

func TestVerify_jsonReport(t *testing.T) {
	_, logPath := setup(t, "A1,t1", "A2,t2", "A3,t3")
	require.Equal(t, exitOK, run(t, "build", logPath).code)
	writeLog(t, logPath, "A1,t1", "A2,tX", "A3,t3")

	r := run(t, "verify", logPath, "-o", "json")
	require.Equal(t, exitTampered, r.code)

	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &rep))
	assert.Equal(t, "TAMPERED", rep["verdict"])
	assert.Equal(t, "line_modified", rep["kind"])
	assert.EqualValues(t, 1, rep["index"])
}

func TestVerify_yamlReport(t *testing.T) {
	_, logPath := setup(t, "A1,t1")
	require.Equal(t, exitOK, run(t, "build", logPath).code)

	r := run(t, "verify", logPath, "--output", "yaml")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "verdict: VALID")
}

func TestAppend_exitCodes(t *testing.T) {
	t.Run("appended", func(t *testing.T) {
		_, logPath := setup(t, "A1,t1")
		require.Equal(t, exitOK, run(t, "build", logPath).code)
		writeLog(t, logPath, "A1,t1", "A2,t2")

		r := run(t, "append", logPath)
		require.Equal(t, exitOK, r.code, r.stderr)
		assert.Contains(t, r.stdout, "appended 1 records")
		assert.Equal(t, exitOK, run(t, "verify", logPath).code)
	})
	t.Run("corrupted", func(t *testing.T) {
		_, logPath := setup(t, "A1,t1", "A2,t2")
		require.Equal(t, exitOK, run(t, "build", logPath).code)
		writeLog(t, logPath, "X1,t1", "A2,t2", "A3,t3")

		r := run(t, "append", logPath)
		assert.Equal(t, exitCorrupted, r.code)
		assert.Contains(t, r.stderr, "index 0")
	})
	t.Run("truncated", func(t *testing.T) {
		_, logPath := setup(t, "A1,t1", "A2,t2")
		require.Equal(t, exitOK, run(t, "build", logPath).code)
		writeLog(t, logPath, "A1,t1")

		assert.Equal(t, exitTruncated, run(t, "append", logPath).code)
	})
	t.Run("missing artifact", func(t *testing.T) {
		_, logPath := setup(t, "A1,t1")
		assert.Equal(t, exitIO, run(t, "append", logPath).code)

		r := run(t, "append", "--init", logPath)
		assert.Equal(t, exitOK, r.code, r.stderr)
	})
	t.Run("init keeps existing algorithm", func(t *testing.T) {
		_, logPath := setup(t, "A1,t1")
		require.Equal(t, exitOK, run(t, "build", "--algorithm", "blake3", logPath).code)
		writeLog(t, logPath, "A1,t1", "A2,t2")

		r := run(t, "append", "--init", logPath, "-o", "json")
		require.Equal(t, exitOK, r.code, r.stderr)
		assert.Contains(t, r.stdout, `"algorithm": "blake3"`)
	})
}

func TestAlgorithmMismatch(t *testing.T) {
	_, logPath := setup(t, "A1,t1")
	require.Equal(t, exitOK, run(t, "build", "--algorithm", "sha3-256", logPath).code)

	assert.Equal(t, exitOK, run(t, "verify", logPath).code, "unpinned verify accepts any known digest")
	assert.Equal(t, exitAlgorithm, run(t, "verify", "--algorithm", "sha256", logPath).code)
	assert.Equal(t, exitAlgorithm, run(t, "append", "--algorithm", "blake3", logPath).code)
}

func TestBuild_missingLog(t *testing.T) {
	dir, _ := setup(t)
	assert.Equal(t, exitIO, run(t, "build", filepath.Join(dir, "nope.csv")).code)
}

func TestBuild_locked(t *testing.T) {
	_, logPath := setup(t, "A1,t1")
	lock, err := filelock.TryLock(chain.LockPath(logPath + ".chain.jsonl"))
	require.NoError(t, err)
	defer lock.Unlock() //nolint:errcheck

	assert.Equal(t, exitLocked, run(t, "build", logPath).code)
}

func TestBuild_cborThenShow(t *testing.T) {
	_, logPath := setup(t, "A1,t1", "A2,t2", "A3,t3")
	require.Equal(t, exitOK, run(t, "build", "--format", "cbor", logPath).code)
	artifact := logPath + ".chain.cbor"
	require.FileExists(t, artifact)

	assert.Equal(t, exitOK, run(t, "verify", logPath).code, "cbor artifact is found by default")

	r := run(t, "show", artifact, "--from", "1", "--limit", "1", "-o", "json")
	require.Equal(t, exitOK, r.code, r.stderr)
	var res struct {
		Summary struct {
			Records int    `json:"records"`
			Format  string `json:"format"`
		} `json:"summary"`
		Records []recordView `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &res))
	assert.Equal(t, 3, res.Summary.Records)
	assert.Equal(t, "cbor", res.Summary.Format)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Records[0].Index)

	r = run(t, "show", artifact)
	require.Equal(t, exitOK, r.code)
	assert.Contains(t, r.stdout, "CHAIN DIGEST")
}

func TestUsageErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tests := []struct {
		name string
		args []string
	}{
		{"build without log", []string{"build"}},
		{"verify too many args", []string{"verify", "a", "b", "c"}},
		{"unknown flag", []string{"build", "--bogus", "x"}},
		{"unknown command", []string{"frobnicate"}},
		{"bad output", []string{"show", "x", "-o", "xml"}},
		{"bad algorithm", []string{"build", "--algorithm", "md5", "x"}},
		{"bad format", []string{"build", "--format", "xml", "x"}},
		{"anchor without database", []string{"anchor", "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := run(t, tc.args...)
			assert.Equal(t, exitUsage, r.code, r.stderr)
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	_, logPath := setup(t, "A1,t1")
	t.Setenv("LINECHAIN_CHAIN_FORMAT", "cbor")

	require.Equal(t, exitOK, run(t, "build", logPath).code)
	assert.FileExists(t, logPath+".chain.cbor")
}

func TestVersion(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	r := run(t, "version")
	assert.Equal(t, exitOK, r.code)
	assert.Contains(t, r.stdout, "linechain dev")
}
