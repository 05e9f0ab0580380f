// Package digest names the hash functions a chain artifact may be built with.
//
// The algorithm identifier is persisted in every artifact header so that a
// verifier can refuse an artifact it cannot check instead of comparing
// digests produced by a different function.
package digest

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"sort"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Algorithm identifiers as they appear in artifact headers.
const (
	SHA256     = "sha256"
	SHA3_256   = "sha3-256"
	BLAKE2b256 = "blake2b-256"
	BLAKE3     = "blake3"
)

// Default is used when no algorithm is configured. It matches the digest
// the original evidence-log chains were produced with.
const Default = SHA256

// ErrUnsupported is returned by Lookup for an unknown identifier.
var ErrUnsupported = errors.New("unsupported digest algorithm")

// Algorithm is a named, fixed-size cryptographic hash.
type Algorithm struct {
	Name string
	Size int
	new  func() hash.Hash
}

// New returns a fresh hasher for the algorithm.
func (a Algorithm) New() hash.Hash {
	return a.new()
}

// Sum returns the digest of data.
func (a Algorithm) Sum(data []byte) []byte {
	h := a.new()
	h.Write(data)
	return h.Sum(nil)
}

func (a Algorithm) String() string { return a.Name }

var registry = map[string]Algorithm{
	SHA256: {Name: SHA256, Size: sha256.Size, new: sha256.New},
	SHA3_256: {Name: SHA3_256, Size: 32, new: func() hash.Hash {
		return sha3.New256()
	}},
	BLAKE2b256: {Name: BLAKE2b256, Size: blake2b.Size256, new: func() hash.Hash {
		// New256 only fails for keys longer than 64 bytes.
		h, err := blake2b.New256(nil)
		if err != nil {
			panic("digest: blake2b initialization failed: " + err.Error())
		}
		return h
	}},
	BLAKE3: {Name: BLAKE3, Size: 32, new: func() hash.Hash {
		return blake3.New()
	}},
}

// Lookup returns the algorithm registered under name.
func Lookup(name string) (Algorithm, error) {
	a, ok := registry[name]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	return a, nil
}

// Names lists the supported identifiers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
