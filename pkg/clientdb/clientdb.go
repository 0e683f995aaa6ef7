// Package clientdb implements the Client role of the cache directory:
// a background loop that periodically resolves the Injector's mutable
// name, loads any new root into the underlying B-tree, persists it
// locally, and serves reads. The refresh loop runs on a time.Ticker
// with a select over a stop channel, logging and counting each cycle.
package clientdb

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
	"github.com/rs/zerolog"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// RefreshInterval is the cadence at which the refresh loop re-resolves
// the Injector's mutable name.
const RefreshInterval = 5 * time.Second

// payload mirrors injectordb.Payload; duplicated here rather than
// imported so clientdb has no compile-time dependency on the Injector
// side of the system (it only ever reads this shape back).
type payload struct {
	Value string `json:"value"`
	TS    string `json:"ts"`
}

// CachedContent is the result of a successful GetContent call: the
// time the key→hash binding was recorded, and the cached bytes
// fetched from the object store under that hash.
type CachedContent struct {
	Timestamp time.Time
	Data      []byte
}

// Config configures a ClientDb.
type Config struct {
	Adapter     objectstore.Adapter
	RepoDir     string
	IPNSName    string
	MaxNodeSize int
}

// ClientDb resolves the Injector's published root and serves reads
// against the resulting B-tree, refreshing on an interval.
type ClientDb struct {
	tree     *btree.Tree
	adapter  objectstore.Adapter
	repoDir  string
	ipnsName string
	logger   zerolog.Logger

	mu       sync.Mutex
	lastRoot hash.Hash
	waitCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a ClientDb, loading any persisted root hash
// immediately (so reads are available before the first refresh
// completes) and starting the background refresh loop.
func New(ctx context.Context, cfg Config) (*ClientDb, error) {
	tree := btree.NewTree(btree.Config{Adapter: cfg.Adapter, MaxNodeSize: cfg.MaxNodeSize})

	db := &ClientDb{
		tree:     tree,
		adapter:  cfg.Adapter,
		repoDir:  cfg.RepoDir,
		ipnsName: cfg.IPNSName,
		logger:   log.WithComponent("clientdb"),
		waitCh:   make(chan struct{}),
		stopCh:   make(chan struct{}),
	}

	if h, ok := readPersistedRootHash(cfg.RepoDir, cfg.IPNSName); ok {
		if err := tree.Load(ctx, h); err != nil {
			return nil, err
		}
		db.lastRoot = h
		db.logger.Info().Str("root", h.String()).Msg("resumed from persisted root hash")
	}

	db.wg.Add(1)
	go db.refreshLoop(ctx)

	return db, nil
}

// Close stops the refresh loop and releases waiters blocked on
// WaitForDBUpdate. It destroys the underlying tree first so any read
// currently in flight observes the destroyed flag at its next
// object-store checkpoint and aborts with ErrCancelled instead of
// completing.
func (db *ClientDb) Close() {
	db.tree.Destroy()
	db.stopOnce.Do(func() { close(db.stopCh) })
	db.wg.Wait()
}

// LocalNodeCount reports how many B-tree nodes are currently
// materialized, satisfying metrics.NodeCounter for the background
// gauge collector.
func (db *ClientDb) LocalNodeCount() int {
	return db.tree.LocalNodeCount()
}

// GetContent looks up key, parses its payload, and fetches the cached
// bytes stored under its content hash.
func (db *ClientDb) GetContent(ctx context.Context, key string) (CachedContent, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ClientGetContentDuration)

	raw, ok, err := db.tree.Find(ctx, key)
	if err != nil {
		return CachedContent{}, err
	}
	if !ok {
		return CachedContent{}, cacheerrors.ErrKeyNotFound
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return CachedContent{}, fmt.Errorf("clientdb: %w", cacheerrors.ErrMalformedDbEntry)
	}

	ts, err := time.Parse(timestampLayout, p.TS)
	if err != nil {
		return CachedContent{}, fmt.Errorf("clientdb: %w", cacheerrors.ErrMalformedDbEntry)
	}

	h, err := hash.Parse(p.Value)
	if err != nil {
		return CachedContent{}, fmt.Errorf("clientdb: %w", cacheerrors.ErrMalformedDbEntry)
	}

	data, err := db.adapter.Cat(ctx, h)
	if err != nil {
		return CachedContent{}, fmt.Errorf("clientdb: %w", cacheerrors.ErrCatFailed)
	}

	return CachedContent{Timestamp: ts, Data: data}, nil
}

// AddRaw adds data to the object store directly, bypassing the
// B-tree — the Go port of the original's Client::ipfs_add, useful for
// "add content, then record its hash under a key" flows.
func (db *ClientDb) AddRaw(ctx context.Context, data []byte) (hash.Hash, error) {
	return db.adapter.Add(ctx, data)
}

// SelfID reports the bound adapter's own identity, when it implements
// objectstore.SelfIdentifier (the original's Client::id()).
func (db *ClientDb) SelfID(ctx context.Context) (string, error) {
	if id, ok := db.adapter.(objectstore.SelfIdentifier); ok {
		return id.SelfID(ctx)
	}
	return "", fmt.Errorf("clientdb: adapter does not support self identification")
}

// WaitForDBUpdate blocks until the next successful refresh cycle, or
// until ctx is cancelled or the ClientDb is closed. Waiters coalesce
// onto a single channel that the refresh loop closes and replaces
// every cycle — the Go idiom for a condition variable broadcast.
func (db *ClientDb) WaitForDBUpdate(ctx context.Context) error {
	db.mu.Lock()
	ch := db.waitCh
	db.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-db.stopCh:
		return cacheerrors.ErrCancelled
	}
}

// refreshLoop is the long-running task: resolve, conditionally load,
// persist, notify waiters, sleep.
func (db *ClientDb) refreshLoop(ctx context.Context) {
	defer db.wg.Done()

	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	db.runCycle(ctx)

	for {
		select {
		case <-db.stopCh:
			return
		case <-ticker.C:
			db.runCycle(ctx)
		}
	}
}

func (db *ClientDb) runCycle(ctx context.Context) {
	h, err := db.adapter.Resolve(ctx, db.ipnsName)
	if err != nil {
		metrics.ClientRefreshTotal.WithLabelValues("error").Inc()
		db.logger.Debug().Err(err).Str("name", db.ipnsName).Msg("resolve failed, retrying")
		return
	}

	db.mu.Lock()
	changed := h != db.lastRoot
	db.mu.Unlock()

	if changed {
		if err := db.tree.Load(ctx, h); err != nil {
			metrics.ClientRefreshTotal.WithLabelValues("error").Inc()
			db.logger.Warn().Err(err).Str("root", h.String()).Msg("failed to load new root")
			return
		}
		if err := db.persistRootHash(h); err != nil {
			db.logger.Warn().Err(err).Msg("failed to persist root hash")
		}

		db.mu.Lock()
		db.lastRoot = h
		db.mu.Unlock()

		metrics.ClientRootHashChangesTotal.Inc()
		db.logger.Info().Str("root", h.String()).Msg("loaded new root")
	}

	metrics.ClientRefreshTotal.WithLabelValues("ok").Inc()
	db.notifyWaiters()
}

func (db *ClientDb) notifyWaiters() {
	db.mu.Lock()
	defer db.mu.Unlock()
	close(db.waitCh)
	db.waitCh = make(chan struct{})
}

func (db *ClientDb) persistRootHash(h hash.Hash) error {
	target := filepath.Join(db.repoDir, "ipfs_cache_db."+db.ipnsName)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, []byte(h.String()), 0644); err != nil {
		return fmt.Errorf("clientdb: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("clientdb: rename %s to %s: %w", tmp, target, err)
	}
	return nil
}

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
