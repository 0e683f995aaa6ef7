// Package injectordb implements the Injector role of the cache
// directory: it accepts (key, content hash) updates, serializes each
// into a timestamped payload, drives the underlying B-tree's
// insert/store/publish pipeline, and persists the resulting root hash
// to a local file so a restart can resume without a full resync. A
// single background goroutine drains a work channel and a stop
// channel, batching concurrent updates into one store pass.
package injectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/ipfscached/pkg/btree"
	"github.com/cuemby/ipfscached/pkg/cacheerrors"
	"github.com/cuemby/ipfscached/pkg/hash"
	"github.com/cuemby/ipfscached/pkg/log"
	"github.com/cuemby/ipfscached/pkg/metrics"
	"github.com/cuemby/ipfscached/pkg/objectstore"
	"github.com/cuemby/ipfscached/pkg/republisher"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// timestampLayout is the fractional-second UTC ISO-8601 timestamp
// format recorded alongside each cached value.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// Payload is the JSON value stored at each key: the content hash plus
// the UTC time it was recorded.
type Payload struct {
	Value string `json:"value"`
	TS    string `json:"ts"`
}

// Config configures an InjectorDb.
type Config struct {
	Adapter     objectstore.Adapter
	Republisher *republisher.Republisher
	RepoDir     string
	IPNSName    string
	MaxNodeSize int
}

type updateRequest struct {
	key     string
	payload string // "" for the empty-key "just drive the store loop" case
	resp    chan error
}

type queryRequest struct {
	key  string
	resp chan queryResult
}

type queryResult struct {
	value []byte
	err   error
}

// InjectorDb owns the writable side of the cache directory. All
// B-tree mutation happens on its single background goroutine,
// satisfying btree.Tree's single-owning-goroutine requirement, which
// then stores the new root and hands it to the republisher.
type InjectorDb struct {
	tree        *btree.Tree
	adapter     objectstore.Adapter
	republisher *republisher.Republisher
	repoDir     string
	ipnsName    string
	logger      zerolog.Logger

	updates chan updateRequest
	queries chan queryRequest
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs an InjectorDb, loading its persisted root hash (if
// present and well-formed) and starting its background worker.
func New(ctx context.Context, cfg Config) (*InjectorDb, error) {
	tree := btree.NewTree(btree.Config{
		Adapter:     cfg.Adapter,
		MaxNodeSize: cfg.MaxNodeSize,
		Publisher:   cfg.Republisher,
	})

	db := &InjectorDb{
		tree:        tree,
		adapter:     cfg.Adapter,
		republisher: cfg.Republisher,
		repoDir:     cfg.RepoDir,
		ipnsName:    cfg.IPNSName,
		logger:      log.WithComponent("injectordb"),
		updates:     make(chan updateRequest),
		queries:     make(chan queryRequest),
		stopCh:      make(chan struct{}),
	}

	if h, ok := readPersistedRootHash(cfg.RepoDir, cfg.IPNSName); ok {
		if err := tree.Load(ctx, h); err != nil {
			return nil, err
		}
		db.logger.Info().Str("root", h.String()).Msg("resumed from persisted root hash")
	}

	db.wg.Add(1)
	go db.run(ctx)

	return db, nil
}

// Close stops the background worker and waits for it to exit. It
// destroys the underlying tree first so any store pass currently
// in flight observes the destroyed flag at its next object-store
// checkpoint and aborts with ErrCancelled instead of completing.
func (db *InjectorDb) Close() {
	db.tree.Destroy()
	select {
	case <-db.stopCh:
	default:
		close(db.stopCh)
	}
	db.wg.Wait()
}

// LocalNodeCount reports how many B-tree nodes are currently
// materialized, satisfying metrics.NodeCounter for the background
// gauge collector.
func (db *InjectorDb) LocalNodeCount() int {
	return db.tree.LocalNodeCount()
}

// Update records key → contentHash, blocking until the value is
// durable in the object store and the new root has been announced via
// the republisher. An empty key drives a store pass without adding an
// entry, useful for the initial publication of an empty database.
func (db *InjectorDb) Update(ctx context.Context, key, contentHash string) error {
	payload := Payload{Value: contentHash, TS: time.Now().UTC().Format(timestampLayout)}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("injectordb: %w", cacheerrors.ErrParsingJSON)
	}

	req := updateRequest{key: key, payload: string(data), resp: make(chan error, 1)}
	select {
	case db.updates <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-db.stopCh:
		return cacheerrors.ErrCancelled
	}

	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query returns the raw JSON payload bytes stored at key, or
// ErrKeyNotFound if absent.
func (db *InjectorDb) Query(ctx context.Context, key string) ([]byte, error) {
	req := queryRequest{key: key, resp: make(chan queryResult, 1)}
	select {
	case db.queries <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-db.stopCh:
		return nil, cacheerrors.ErrCancelled
	}

	select {
	case res := <-req.resp:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the single background worker: it coalesces a burst of
// pending updates into one buffered batch, drives exactly one
// store+publish pass over that batch, and answers every request in
// the batch with the pass's shared result — the Go shape of the
// original's "drains an upload-callback queue guarded by a condition
// variable" worker.
func (db *InjectorDb) run(ctx context.Context) {
	defer db.wg.Done()

	for {
		select {
		case <-db.stopCh:
			return
		case req := <-db.updates:
			db.handleUpdateBatch(ctx, db.collectUpdateBatch(req))
		case q := <-db.queries:
			db.handleQuery(ctx, q)
		}
	}
}

// collectUpdateBatch gathers first plus any other update requests
// already queued, without blocking further.
func (db *InjectorDb) collectUpdateBatch(first updateRequest) []updateRequest {
	batch := []updateRequest{first}
	for {
		select {
		case req := <-db.updates:
			batch = append(batch, req)
		default:
			return batch
		}
	}
}

func (db *InjectorDb) handleUpdateBatch(ctx context.Context, batch []updateRequest) {
	for _, req := range batch {
		if req.key != "" {
			db.tree.BufferInsert(req.key, req.payload)
		}
	}

	err := db.tree.Store(ctx)
	if err == nil {
		if err = db.persistRootHash(); err != nil {
			db.logger.Warn().Err(err).Msg("failed to persist root hash")
		} else {
			metrics.InjectorRootHashUpdatesTotal.Inc()
		}
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.InjectorUpdatesTotal.WithLabelValues(result).Add(float64(len(batch)))

	for _, req := range batch {
		req.resp <- err
	}
}

func (db *InjectorDb) handleQuery(ctx context.Context, q queryRequest) {
	value, ok, err := db.tree.Find(ctx, q.key)
	if err != nil {
		q.resp <- queryResult{err: err}
		return
	}
	if !ok {
		q.resp <- queryResult{err: cacheerrors.ErrKeyNotFound}
		return
	}
	q.resp <- queryResult{value: []byte(value)}
}

// persistRootHash atomically rewrites <repo>/ipfs_cache_db.<ipns> to
// the tree's current root hash via a temp-file-plus-rename, so a
// reader never observes a partially written file.
func (db *InjectorDb) persistRootHash() error {
	root := db.tree.RootHash()
	target := filepath.Join(db.repoDir, "ipfs_cache_db."+db.ipnsName)
	tmp := target + ".tmp-" + uuid.NewString()

	if err := os.WriteFile(tmp, []byte(root.String()), 0644); err != nil {
		return fmt.Errorf("injectordb: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("injectordb: rename %s to %s: %w", tmp, target, err)
	}
	return nil
}

// readPersistedRootHash reads and validates the persistence file,
// discarding any content that doesn't match the hash shape.
func readPersistedRootHash(repoDir, ipnsName string) (hash.Hash, bool) {
	target := filepath.Join(repoDir, "ipfs_cache_db."+ipnsName)
	data, err := os.ReadFile(target)
	if err != nil {
		return "", false
	}
	h, err := hash.Parse(string(data))
	if err != nil {
		return "", false
	}
	return h, true
}
