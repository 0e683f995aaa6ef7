// Package objectstore defines the external object-store adapter
// contract (add/cat/resolve/publish/pin/unpin) the B-tree, republisher,
// and database layers consume, plus two concrete bindings: a
// bbolt-backed LocalAdapter for tests and offline development, and a
// ShellAdapter fronting a real IPFS daemon over its HTTP API.
package objectstore

import (
	"context"
	"time"

	"github.com/cuemby/ipfscached/pkg/hash"
)

// Adapter is the object-store contract every cache-directory
// component depends on. Implementations are assumed safe for
// concurrent submission; callers never serialize access to an
// Adapter themselves.
type Adapter interface {
	// Add stores data and returns its content hash.
	Add(ctx context.Context, data []byte) (hash.Hash, error)

	// Cat returns the bytes previously stored under h.
	Cat(ctx context.Context, h hash.Hash) ([]byte, error)

	// Resolve dereferences a mutable name to its current hash.
	Resolve(ctx context.Context, name string) (hash.Hash, error)

	// Publish announces that the adapter's own mutable name now points
	// to h, valid for lifetime.
	Publish(ctx context.Context, h hash.Hash, lifetime time.Duration) error

	// Pin prevents h from being garbage-collected.
	Pin(ctx context.Context, h hash.Hash) error

	// Unpin allows h to be garbage-collected.
	Unpin(ctx context.Context, h hash.Hash) error
}

// SelfIdentifier is implemented by adapters that can report which
// backing daemon/instance they are bound to. Optional: only
// ShellAdapter implements it in this repository.
type SelfIdentifier interface {
	SelfID(ctx context.Context) (string, error)
}
