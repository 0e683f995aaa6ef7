package btree

import (
	"context"
	"fmt"
	"testing"

	"github.com/cuemby/ipfscached/pkg/cacheerrors"
	"github.com/cuemby/ipfscached/pkg/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, maxSize int) (*Tree, *objectstore.LocalAdapter) {
	t.Helper()
	adapter, err := objectstore.NewLocalAdapter(t.TempDir(), "self")
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	tr := NewTree(Config{Adapter: adapter, MaxNodeSize: maxSize})
	return tr, adapter
}

// S1: basic insert/find round trip through a freshly constructed tree.
func TestTreeInsertAndFind(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t, DefaultMaxNodeSize)

	require.NoError(t, tr.Insert(ctx, "alpha", "one"))
	require.NoError(t, tr.Insert(ctx, "beta", "two"))

	v, ok, err := tr.Find(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	v, ok, err = tr.Find(ctx, "beta")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok, err = tr.Find(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, tr.CheckInvariants())
}

// Overwriting an existing key replaces its value rather than adding a
// second entry.
func TestTreeInsertOverwrites(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t, DefaultMaxNodeSize)

	require.NoError(t, tr.Insert(ctx, "k", "v1"))
	require.NoError(t, tr.Insert(ctx, "k", "v2"))

	v, ok, err := tr.Find(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

// S2: forcing a small MAX_NODE_SIZE exercises the structural split path.
func TestTreeSplitsUnderSmallNodeSize(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t, 2)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i, k := range keys {
		require.NoError(t, tr.Insert(ctx, k, fmt.Sprintf("v%d", i)))
		require.True(t, tr.CheckInvariants(), "invariants broken after inserting %q", k)
	}

	for i, k := range keys {
		v, ok, err := tr.Find(ctx, k)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, fmt.Sprintf("v%d", i), v)
	}
}

// A tree persisted to the object store, then reloaded purely from its
// root hash, round-trips every key.
func TestTreeRoundTripsAfterReload(t *testing.T) {
	ctx := context.Background()
	tr, adapter := newTestTree(t, 4)

	const n = 100
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%03d", i)
		require.NoError(t, tr.Insert(ctx, key, fmt.Sprintf("value-%03d", i)))
	}

	root := tr.RootHash()
	require.NotEmpty(t, root)

	fresh := NewTree(Config{Adapter: adapter, MaxNodeSize: 4})
	require.NoError(t, fresh.Load(ctx, root))

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%03d", i)
		v, ok, err := fresh.Find(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "key %q missing after reload", key)
		assert.Equal(t, fmt.Sprintf("value-%03d", i), v)
	}
}

// A store pass that replaces the root unpins the prior root hash,
// since it is no longer reachable from the published tree.
func TestTreeUnpinsSupersededRoot(t *testing.T) {
	ctx := context.Background()
	tr, adapter := newTestTree(t, 2)

	require.NoError(t, tr.Insert(ctx, "a", "1"))
	firstRoot := tr.RootHash()

	require.NoError(t, tr.Insert(ctx, "b", "2"))
	secondRoot := tr.RootHash()
	require.NotEqual(t, firstRoot, secondRoot)

	pinned, err := adapter.Pinned(firstRoot)
	require.NoError(t, err)
	assert.False(t, pinned, "superseded root should have been unpinned")

	pinned, err = adapter.Pinned(secondRoot)
	require.NoError(t, err)
	assert.True(t, pinned, "current root should remain pinned")
}

// Find on an empty tree (no inserts yet) reports a clean miss rather
// than an error.
func TestTreeFindOnEmptyTree(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t, DefaultMaxNodeSize)

	_, ok, err := tr.Find(ctx, "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Destroy causes an Insert issued afterwards to fail with ErrCancelled
// rather than silently succeeding.
func TestTreeDestroyCancelsFutureInserts(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t, DefaultMaxNodeSize)

	require.NoError(t, tr.Insert(ctx, "a", "1"))
	tr.Destroy()

	err := tr.Insert(ctx, "b", "2")
	assert.ErrorIs(t, err, cacheerrors.ErrCancelled)
}
