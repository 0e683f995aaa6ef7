// Package hash defines the opaque content identifier shared by the
// object-store adapter, the B-tree, and the on-disk persistence file.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// prefix is the fixed marker the reference substrate (IPFS CIDv0) puts
// on every content identifier.
const prefix = "Qm"

// length is the fixed wire-form length of a valid Hash.
const length = 46

// Hash is an opaque content identifier. Its zero value is not a valid
// hash; use Parse or Of to obtain one.
type Hash string

// Parse validates s against the reference substrate's wire form (46
// characters, "Qm" prefix) and returns it as a Hash, or an error if it
// doesn't match.
func Parse(s string) (Hash, error) {
	h := Hash(s)
	if !h.Valid() {
		return "", &InvalidError{Value: s}
	}
	return h, nil
}

// Valid reports whether h matches the reference substrate's wire form.
func (h Hash) Valid() bool {
	s := string(h)
	return len(s) == length && strings.HasPrefix(s, prefix)
}

// String returns the raw wire-form string.
func (h Hash) String() string {
	return string(h)
}

// Of synthesizes a content identifier for data, encoding a SHA-256
// digest in the same "Qm"+46-char shape the reference substrate uses.
// Object-store adapters that don't front a real IPFS daemon (e.g.
// LocalAdapter) use this to derive a stable, content-addressed id
// without depending on multihash/CIDv0 encoding.
func Of(data []byte) Hash {
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])
	// prefix + 44 hex chars == 46 chars total.
	return Hash(prefix + hexSum[:44])
}

// InvalidError reports that a string does not match the hash wire form.
type InvalidError struct {
	Value string
}

func (e *InvalidError) Error() string {
	return "hash: invalid value " + e.Value
}
