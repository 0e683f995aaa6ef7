package objectstore

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/ipfscached/pkg/cacheerrors"
	"github.com/cuemby/ipfscached/pkg/hash"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlocks  = []byte("blocks")
	bucketPins    = []byte("pins")
	bucketPublish = []byte("publish")
)

// LocalAdapter is a disk-backed, content-addressed Adapter implemented
// on top of bbolt. It has no network dependency and no notion of
// lifetime expiry: publish overwrites the mutable-name bucket
// unconditionally and resolve reads it back. Used by tests, the
// --objectstore=local CLI mode, and local development without a
// running IPFS daemon.
//
// selfName is the mutable name this adapter instance publishes under;
// Resolve still accepts any name, so one LocalAdapter shared by an
// Injector and a Client can model the Injector publishing under its
// own name and the Client resolving it. bbolt holds an exclusive lock
// on the file while it is open, so a second LocalAdapter on the same
// dataDir blocks in NewLocalAdapter until the first is closed.
type LocalAdapter struct {
	db       *bolt.DB
	selfName string
}

// NewLocalAdapter opens (creating if absent) a bbolt database under
// dataDir holding the blocks, pins, and publish-table buckets.
// selfName is the mutable name Publish announces under.
func NewLocalAdapter(dataDir, selfName string) (*LocalAdapter, error) {
	dbPath := filepath.Join(dataDir, "objectstore.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlocks, bucketPins, bucketPublish} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &LocalAdapter{db: db, selfName: selfName}, nil
}

// Close releases the underlying bbolt file handle.
func (a *LocalAdapter) Close() error {
	return a.db.Close()
}

// Add stores data under its SHA-256-derived content hash.
func (a *LocalAdapter) Add(ctx context.Context, data []byte) (hash.Hash, error) {
	h := hash.Of(data)
	err := a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put([]byte(h), data)
	})
	if err != nil {
		return "", fmt.Errorf("objectstore: %w", cacheerrors.ErrAddFailed)
	}
	return h, nil
}

// Cat returns the bytes previously stored under h.
func (a *LocalAdapter) Cat(ctx context.Context, h hash.Hash) ([]byte, error) {
	var data []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get([]byte(h))
		if v == nil {
			return cacheerrors.ErrCatFailed
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: cat %s: %w", h, err)
	}
	return data, nil
}

// Resolve reads the current hash bound to name from the publish table.
func (a *LocalAdapter) Resolve(ctx context.Context, name string) (hash.Hash, error) {
	var h hash.Hash
	err := a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPublish).Get([]byte(name))
		if v == nil {
			return cacheerrors.ErrResolveFailed
		}
		h = hash.Hash(v)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("objectstore: resolve %s: %w", name, err)
	}
	return h, nil
}

// Publish binds this adapter's selfName to h in the publish table.
// lifetime is accepted for interface parity with ShellAdapter but not
// enforced locally.
func (a *LocalAdapter) Publish(ctx context.Context, h hash.Hash, lifetime time.Duration) error {
	err := a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPublish).Put([]byte(a.selfName), []byte(h))
	})
	if err != nil {
		return fmt.Errorf("objectstore: publish %s: %w", a.selfName, cacheerrors.ErrPublishFailed)
	}
	return nil
}

// Pin marks h as retained in the pins bucket.
func (a *LocalAdapter) Pin(ctx context.Context, h hash.Hash) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPins).Put([]byte(h), []byte{1})
	})
}

// Unpin removes h's retention marker. The underlying block is left in
// place; compaction of unpinned blocks is out of scope.
func (a *LocalAdapter) Unpin(ctx context.Context, h hash.Hash) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPins).Delete([]byte(h))
	})
}

// Pinned reports whether h currently carries a retention marker. Used
// by tests to verify unpin behavior.
func (a *LocalAdapter) Pinned(h hash.Hash) (bool, error) {
	var pinned bool
	err := a.db.View(func(tx *bolt.Tx) error {
		pinned = tx.Bucket(bucketPins).Get([]byte(h)) != nil
		return nil
	})
	return pinned, err
}
