// Package chain builds and verifies a tamper-evident hash chain over the
// lines of a log file.
//
// Every line i yields a Record holding H(line) and H(prev ++ line), where
// prev is the raw chain digest of record i-1 (empty for i = 0). Editing,
// removing, reordering or truncating any historical line changes the
// chain digest of every later record, so it is detected by Verify.
//
// Build and Append are the only writers. They hold an flock on
// "<artifact>.lock" and commit through a temporary file and a rename, so
// readers never see a partially written artifact. Verify is read-only.
//
// Log contents are never interpreted: a CSV header is chained like any
// other line, and only the line terminators ("\n", "\r\n", "\r") are
// stripped.
package chain
