package chain_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, lr *chain.LineReader) []string {
	t.Helper()
	var out []string
	for lr.Next() {
		out = append(out, string(lr.Line()))
	}
	require.NoError(t, lr.Err())
	return out
}

func TestLineReader_terminators(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single unterminated", "a", []string{"a"}},
		{"trailing newline", "a\n", []string{"a"}},
		{"lf", "a\nb\nc", []string{"a", "b", "c"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"lone cr", "a\rb", []string{"a", "b"}},
		{"trailing cr", "a\r", []string{"a"}},
		{"cr then crlf", "a\r\r\n", []string{"a", ""}},
		{"blank lines kept", "\n\nx\n", []string{"", "", "x"}},
		{"whitespace kept", " a \t\n\tb ", []string{" a \t", "\tb "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lr := chain.NewLineReader(strings.NewReader(tc.in), 0)
			assert.Equal(t, tc.want, readAll(t, lr))
			assert.Equal(t, len(tc.want), lr.Count())
		})
	}
}

// A reader that hands out one byte at a time forces the split function
// to see "\r" at the end of its buffer before the "\n" arrives.
type oneByteReader struct{ s string }

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.s) == 0 {
		return 0, io.EOF
	}
	p[0] = r.s[0]
	r.s = r.s[1:]
	return 1, nil
}

func TestLineReader_crlfAcrossReads(t *testing.T) {
	lr := chain.NewLineReader(&oneByteReader{s: "A1,t1\r\nA2,t2\r\n"}, 0)
	assert.Equal(t, []string{"A1,t1", "A2,t2"}, readAll(t, lr))
}

func TestLineReader_lineTooLong(t *testing.T) {
	lr := chain.NewLineReader(strings.NewReader("short\n0123456789abcdef\n"), 8)
	require.True(t, lr.Next())
	assert.Equal(t, "short", string(lr.Line()))
	require.False(t, lr.Next())
	err := lr.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, chain.ErrIO), "got %v", err)
}
