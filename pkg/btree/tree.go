// Package btree implements the Merkle-hashed, persistent B-tree at the
// core of the cache directory: a tree keyed by arbitrary byte strings
// whose nodes serialize to and lazily inflate from an object-store
// adapter, supporting batched insertion, structural splits, and
// invariant self-checks.
package btree

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/ipfscached/pkg/cacheerrors"
	"github.com/cuemby/ipfscached/pkg/hash"
	"github.com/cuemby/ipfscached/pkg/log"
	"github.com/cuemby/ipfscached/pkg/metrics"
	"github.com/cuemby/ipfscached/pkg/objectstore"
	"github.com/rs/zerolog"
)

// DefaultMaxNodeSize is the production default maximum node size.
const DefaultMaxNodeSize = 64

// Publisher is satisfied by *republisher.Republisher. Kept as a small
// interface here (rather than importing pkg/republisher directly) so a
// Tree can drive republication without coupling the two packages
// together; Tree only ever needs the one method.
type Publisher interface {
	Publish(ctx context.Context, h hash.Hash) <-chan error
}

// Config configures a Tree via a plain struct literal passed to the
// constructor.
type Config struct {
	Adapter     objectstore.Adapter
	MaxNodeSize int
	Publisher   Publisher // optional
}

type kv struct {
	Key   string
	Value string
}

// Tree is the Merkle B-tree at the core of the cache directory. It is
// single-goroutine-owned: every exported method is meant to be called
// from the tree's one owning goroutine (InjectorDb's background
// worker, or the caller directly for read-only Find/Load outside a
// store pass). The internal mutex exists to protect the small amount
// of state (root, buffer, is-storing flag) against the degenerate case
// of a caller issuing Find concurrently with the owner's Insert, not
// to support concurrent writers.
type Tree struct {
	adapter     objectstore.Adapter
	maxNodeSize int
	publisher   Publisher
	logger      zerolog.Logger

	mu        sync.Mutex
	rootHash  hash.Hash
	root      *Node
	buffer    map[string]string
	isStoring bool

	destroyed int32
}

// NewTree constructs an empty Tree bound to adapter.
func NewTree(cfg Config) *Tree {
	maxSize := cfg.MaxNodeSize
	if maxSize <= 0 {
		maxSize = DefaultMaxNodeSize
	}
	return &Tree{
		adapter:     cfg.Adapter,
		maxNodeSize: maxSize,
		publisher:   cfg.Publisher,
		logger:      log.WithComponent("btree"),
	}
}

// Destroy marks the tree destroyed: every suspended or future
// object-store call observes this and returns ErrCancelled without
// mutating state.
func (t *Tree) Destroy() {
	atomic.StoreInt32(&t.destroyed, 1)
}

func (t *Tree) checkDestroyed() error {
	if atomic.LoadInt32(&t.destroyed) != 0 {
		return cacheerrors.ErrCancelled
	}
	return nil
}

// RootHash returns the tree's current root hash, or "" if empty.
func (t *Tree) RootHash() hash.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootHash
}

// Load atomically rebinds the tree to an existing root hash,
// discarding any materialized root and clearing the insert buffer (a
// buffered insert against the old root would otherwise silently apply
// against the new one). No object-store traffic is issued eagerly;
// nodes re-inflate lazily on descent.
func (t *Tree) Load(ctx context.Context, h hash.Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffer = nil
	t.root = nil
	t.rootHash = h
	return nil
}

// LocalNodeCount returns the count of currently materialized nodes,
// used by tests and the metrics collector's memory heuristic.
func (t *Tree) LocalNodeCount() int {
	t.mu.Lock()
	root := t.root
	t.mu.Unlock()
	if root == nil {
		return 0
	}
	return countNodes(root)
}

func countNodes(n *Node) int {
	count := 1
	for _, it := range n.entries {
		if it.entry.ChildNode != nil {
			count += countNodes(it.entry.ChildNode)
		}
	}
	return count
}

// MaterializeAll inflates every node reachable from the current root,
// for tools (the inspect CLI subcommand) that need CheckInvariants to
// see the whole tree rather than whatever happens to be resident from
// prior Find calls.
func (t *Tree) MaterializeAll(ctx context.Context) error {
	t.mu.Lock()
	rootHash := t.rootHash
	root := t.root
	t.mu.Unlock()

	if root == nil {
		if rootHash == "" {
			return nil
		}
		loaded, err := t.loadNode(ctx, rootHash)
		if err != nil {
			return err
		}
		root = loaded
	}

	if err := t.materializeAllFrom(ctx, root); err != nil {
		return err
	}

	t.mu.Lock()
	t.root = root
	t.mu.Unlock()
	return nil
}

func (t *Tree) materializeAllFrom(ctx context.Context, n *Node) error {
	for i := range n.entries {
		e := n.entries[i].entry
		if e.ChildNode == nil {
			if e.Child == "" {
				continue
			}
			child, err := t.loadNode(ctx, e.Child)
			if err != nil {
				return err
			}
			e.ChildNode = child
		}
		if err := t.materializeAllFrom(ctx, e.ChildNode); err != nil {
			return err
		}
	}
	return nil
}

// Find looks up key, consulting the insert buffer first (a buffered
// key shadows the on-disk value) and lazily inflating nodes along the
// descent path otherwise.
func (t *Tree) Find(ctx context.Context, key string) (string, bool, error) {
	t.mu.Lock()
	if v, ok := t.buffer[key]; ok {
		t.mu.Unlock()
		return v, true, nil
	}
	root := t.root
	rootHash := t.rootHash
	t.mu.Unlock()

	if root == nil {
		if rootHash == "" {
			return "", false, nil
		}
		var err error
		root, err = t.loadNode(ctx, rootHash)
		if err != nil {
			return "", false, err
		}
		t.mu.Lock()
		if t.root == nil && t.rootHash == rootHash {
			t.root = root
		}
		t.mu.Unlock()
	}

	return t.findInNode(ctx, root, key)
}

func (t *Tree) findInNode(ctx context.Context, n *Node, key string) (string, bool, error) {
	idx, ok := n.searchLowerBound(key)
	if !ok {
		return "", false, nil
	}
	item := n.entries[idx]
	if !item.id.Inf && item.id.Key == key {
		return item.entry.Value, true, nil
	}
	if item.entry.ChildNode == nil {
		if item.entry.Child == "" {
			return "", false, nil
		}
		child, err := t.loadNode(ctx, item.entry.Child)
		if err != nil {
			return "", false, err
		}
		item.entry.ChildNode = child
	}
	return t.findInNode(ctx, item.entry.ChildNode, key)
}

func (t *Tree) loadNode(ctx context.Context, h hash.Hash) (*Node, error) {
	if err := t.checkDestroyed(); err != nil {
		return nil, err
	}
	data, err := t.adapter.Cat(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("btree: inflate %s: %w", h, cacheerrors.ErrCatFailed)
	}
	return deserializeNode(data)
}

// Insert buffers (key, value), overwriting any prior buffered value
// for the same key. If a store pass is already in flight it returns
// immediately; otherwise it drains the buffer through a full store
// pass and blocks until that pass (structural insert, serialize,
// add/pin/unpin, and — if configured — republish) completes, so
// completion of Insert implies the value is durable and announced.
func (t *Tree) Insert(ctx context.Context, key, value string) error {
	if err := t.checkDestroyed(); err != nil {
		return err
	}

	t.BufferInsert(key, value)

	t.mu.Lock()
	if t.isStoring {
		t.mu.Unlock()
		return nil
	}
	t.isStoring = true
	t.mu.Unlock()

	return t.runStoreLoop(ctx, false)
}

// BufferInsert adds (key, value) to the pending-insert buffer without
// triggering a store pass. Callers that want to accumulate several
// keys into one store+publish pass (InjectorDb's request batching)
// call this for every key in the batch, then call Store once.
func (t *Tree) BufferInsert(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buffer == nil {
		t.buffer = make(map[string]string)
	}
	t.buffer[key] = value
}

// Store drains the buffer through one or more store passes, forcing
// at least one pass even with an empty buffer — used by InjectorDb to
// publish an empty database on first startup and to batch several
// BufferInsert calls into a single store+publish.
func (t *Tree) Store(ctx context.Context) error {
	if err := t.checkDestroyed(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.isStoring {
		t.mu.Unlock()
		return nil
	}
	t.isStoring = true
	t.mu.Unlock()
	return t.runStoreLoop(ctx, true)
}

func (t *Tree) drainBuffer() []kv {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buffer) == 0 {
		return nil
	}
	out := make([]kv, 0, len(t.buffer))
	for k, v := range t.buffer {
		out = append(out, kv{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	t.buffer = nil
	return out
}

// runStoreLoop drains the buffer in a loop, applying structural
// inserts and serializing the tree bottom-up on each pass. If new
// entries accumulate in the buffer while the pass is running, it loops
// again; otherwise it clears isStoring. force runs one pass even when
// the buffer starts out empty (Store's "drive the loop with nothing
// new to insert" case).
func (t *Tree) runStoreLoop(ctx context.Context, force bool) error {
	first := true
	for {
		batch := t.drainBuffer()
		if len(batch) == 0 && !(force && first) {
			t.mu.Lock()
			t.isStoring = false
			t.mu.Unlock()
			return nil
		}
		first = false

		timer := metrics.NewTimer()
		err := t.applyAndStore(ctx, batch)
		timer.ObserveDuration(metrics.BtreeStoreDuration)

		if err != nil {
			t.mu.Lock()
			t.isStoring = false
			t.mu.Unlock()
			return err
		}
		metrics.BtreeStoresTotal.Inc()
	}
}

func (t *Tree) applyAndStore(ctx context.Context, batch []kv) error {
	t.mu.Lock()
	root := t.root
	if root == nil {
		root = &Node{}
	}
	t.mu.Unlock()

	for _, pair := range batch {
		metrics.BtreeInsertsTotal.Inc()
		if pair.Key == "" {
			// Empty keys drive the store loop without adding an entry,
			// used to publish an empty database.
			continue
		}
		newRoot, err := t.structInsert(ctx, root, pair.Key, pair.Value)
		if err != nil {
			return err
		}
		if newRoot != nil {
			root = newRoot
		}
	}

	newHash, err := t.storeNode(ctx, root)
	if err != nil {
		return err
	}

	t.mu.Lock()
	oldHash := t.rootHash
	t.mu.Unlock()

	if oldHash != "" && oldHash != newHash {
		if err := t.checkDestroyed(); err != nil {
			return err
		}
		if err := t.adapter.Unpin(ctx, oldHash); err != nil {
			return fmt.Errorf("btree: unpin old root %s: %w", oldHash, cacheerrors.ErrPublishFailed)
		}
	}

	t.mu.Lock()
	t.root = root
	t.rootHash = newHash
	t.mu.Unlock()

	t.logger.Debug().Str("root", newHash.String()).Msg("store pass complete")

	if t.publisher != nil {
		select {
		case err := <-t.publisher.Publish(ctx, newHash):
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// structInsert mirrors the original's DbTree::Node::insert: descend
// via lower_bound, overwriting on an exact key match; otherwise
// materialize the descended child (inflating from its hash if
// necessary), mark it dirty, and recurse. If the recursive call splits
// its node, splice the returned two-entry node into n. Finally split n
// itself if it has grown past maxNodeSize.
func (t *Tree) structInsert(ctx context.Context, n *Node, key, value string) (*Node, error) {
	if !n.isLeaf() {
		idx := n.lowerBound(key)
		entryID := n.entries[idx].id
		entryPtr := n.entries[idx].entry

		if !entryID.Inf && entryID.Key == key {
			entryPtr.Value = value
			entryPtr.HasValue = true
			return n.split(t.maxNodeSize), nil
		}

		if err := t.materialize(ctx, entryPtr); err != nil {
			return nil, err
		}
		entryPtr.Child = ""

		newNode, err := t.structInsert(ctx, entryPtr.ChildNode, key, value)
		if err != nil {
			return nil, err
		}
		if newNode != nil {
			medianID := newNode.entries[0].id
			medianEntry := newNode.entries[0].entry
			rightHalf := newNode.entries[1].entry.ChildNode

			n.insertEntryAt(idx, medianID, medianEntry)
			entryPtr.Child = ""
			entryPtr.ChildNode = rightHalf
		}
		return n.split(t.maxNodeSize), nil
	}

	n.setLeafEntry(key, value)
	return n.split(t.maxNodeSize), nil
}

func (t *Tree) materialize(ctx context.Context, e *Entry) error {
	if e.ChildNode != nil {
		return nil
	}
	if e.Child == "" {
		e.ChildNode = &Node{}
		return nil
	}
	child, err := t.loadNode(ctx, e.Child)
	if err != nil {
		return err
	}
	e.ChildNode = child
	return nil
}

// storeNode serializes n bottom-up: every entry with a materialized,
// dirty (empty Child hash) subtree is stored first so its hash is
// known before n itself is serialized — strict post-order.
func (t *Tree) storeNode(ctx context.Context, n *Node) (hash.Hash, error) {
	for _, it := range n.entries {
		e := it.entry
		if e.ChildNode != nil && e.Child == "" {
			childHash, err := t.storeNode(ctx, e.ChildNode)
			if err != nil {
				return "", err
			}
			e.Child = childHash
		}
	}

	data, err := n.serialize()
	if err != nil {
		return "", fmt.Errorf("btree: serialize: %w", cacheerrors.ErrParsingJSON)
	}

	if err := t.checkDestroyed(); err != nil {
		return "", err
	}
	h, err := t.adapter.Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("btree: add node: %w", cacheerrors.ErrAddFailed)
	}
	if err := t.adapter.Pin(ctx, h); err != nil {
		return "", fmt.Errorf("btree: pin node %s: %w", h, cacheerrors.ErrAddFailed)
	}
	return h, nil
}

// CheckInvariants traverses materialized nodes verifying the tree's
// structural invariants: size bound, uniform leaf depth, and strict
// key ordering across children. Debug-only; relied on by tests after
// every insertion and by the inspect command.
func (t *Tree) CheckInvariants() bool {
	t.mu.Lock()
	root := t.root
	maxSize := t.maxNodeSize
	t.mu.Unlock()
	if root == nil {
		return true
	}
	_, ok := checkNode(root, maxSize, true)
	return ok
}

func checkNode(n *Node, maxSize int, isRoot bool) (int, bool) {
	size := n.size()
	if size > maxSize {
		return 0, false
	}
	if !isRoot {
		minSize := (maxSize + 1) / 2
		if size < minSize {
			return 0, false
		}
	}
	if n.isLeaf() {
		return 1, true
	}

	var lastReal *string
	for _, it := range n.entries {
		if !it.id.Inf {
			k := it.id.Key
			lastReal = &k
		}
	}

	depth := -1
	for _, it := range n.entries {
		e := it.entry
		if e.ChildNode == nil {
			continue // unmaterialized subtree: can't verify further, don't fail
		}
		for _, childIt := range e.ChildNode.entries {
			if childIt.id.Inf {
				continue
			}
			if it.id.Inf {
				if lastReal != nil && childIt.id.Key < *lastReal {
					return 0, false
				}
			} else if !(childIt.id.Key < it.id.Key) {
				return 0, false
			}
		}
		d, ok := checkNode(e.ChildNode, maxSize, false)
		if !ok {
			return 0, false
		}
		if depth == -1 {
			depth = d
		} else if depth != d {
			return 0, false
		}
	}
	if depth == -1 {
		depth = 1
	}
	return depth + 1, true
}

// Timeout is a small helper used by callers that want to bound a
// single Find/Insert call with a deadline derived from expected
// object-store latency.
func Timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
