// Package anchor keeps checkpoints of chain artifacts outside the host
// that writes the logs.
//
// A party able to rewrite both a log and its artifact can rebuild a
// consistent chain from scratch. A checkpoint records the record count and
// head chain digest of an artifact in a separate store; later verification
// confirms the artifact still carries that head, so a wholesale rebuild is
// detected. Checkpoints are SHA-256 chained to each other starting from
// GenesisHash, making edits to the store itself detectable via Verify.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package anchor
