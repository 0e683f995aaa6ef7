package clientdb

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/ipfscached/pkg/cacheerrors"
	"github.com/cuemby/ipfscached/pkg/hash"
	"github.com/cuemby/ipfscached/pkg/injectordb"
	"github.com/cuemby/ipfscached/pkg/objectstore"
	"github.com/cuemby/ipfscached/pkg/republisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4 (client refresh): the Injector publishes two keys in turn and
// the Client's refresh loop eventually observes both.
func TestClientObservesInjectorUpdates(t *testing.T) {
	const ipnsName = "injector"
	dataDir := t.TempDir()

	adapter, err := objectstore.NewLocalAdapter(dataDir, ipnsName)
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	repub := republisher.New(adapter, ipnsName, time.Hour)
	t.Cleanup(repub.Shutdown)

	ctx := context.Background()

	inj, err := injectordb.New(ctx, injectordb.Config{
		Adapter:     adapter,
		Republisher: repub,
		RepoDir:     t.TempDir(),
		IPNSName:    ipnsName,
		MaxNodeSize: 4,
	})
	require.NoError(t, err)
	t.Cleanup(inj.Close)

	hashA, err := adapter.Add(ctx, []byte("content for A"))
	require.NoError(t, err)
	hashB, err := adapter.Add(ctx, []byte("content for B"))
	require.NoError(t, err)

	require.NoError(t, inj.Update(ctx, "A", hashA.String()))
	require.NoError(t, inj.Update(ctx, "B", hashB.String()))

	client, err := New(ctx, Config{
		Adapter:     adapter,
		RepoDir:     t.TempDir(),
		IPNSName:    ipnsName,
		MaxNodeSize: 4,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	deadline := time.After(5 * time.Second)
	for {
		contentA, errA := client.GetContent(ctx, "A")
		contentB, errB := client.GetContent(ctx, "B")
		if errA == nil && errB == nil {
			assert.Equal(t, "content for A", string(contentA.Data))
			assert.Equal(t, "content for B", string(contentB.Data))
			return
		}
		select {
		case <-deadline:
			t.Fatalf("client never observed both keys: errA=%v errB=%v", errA, errB)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWaitForDBUpdateUnblocksOnClose(t *testing.T) {
	adapter, err := objectstore.NewLocalAdapter(t.TempDir(), "injector")
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	client, err := New(context.Background(), Config{
		Adapter:     adapter,
		RepoDir:     t.TempDir(),
		IPNSName:    "injector",
		MaxNodeSize: 4,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- client.WaitForDBUpdate(context.Background()) }()

	client.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForDBUpdate did not unblock on Close")
	}
}

// S6: the timestamp recorded by Update and round-tripped through
// GetContent's CachedContent.Timestamp parses back to within a second
// of when the update actually happened.
func TestGetContentTimestampRoundTrips(t *testing.T) {
	const ipnsName = "injector"
	dataDir := t.TempDir()

	adapter, err := objectstore.NewLocalAdapter(dataDir, ipnsName)
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	repub := republisher.New(adapter, ipnsName, time.Hour)
	t.Cleanup(repub.Shutdown)

	ctx := context.Background()

	inj, err := injectordb.New(ctx, injectordb.Config{
		Adapter:     adapter,
		Republisher: repub,
		RepoDir:     t.TempDir(),
		IPNSName:    ipnsName,
		MaxNodeSize: 4,
	})
	require.NoError(t, err)
	t.Cleanup(inj.Close)

	contentHash, err := adapter.Add(ctx, []byte("content for T"))
	require.NoError(t, err)

	before := time.Now().UTC()
	require.NoError(t, inj.Update(ctx, "T", contentHash.String()))

	client, err := New(ctx, Config{
		Adapter:     adapter,
		RepoDir:     t.TempDir(),
		IPNSName:    ipnsName,
		MaxNodeSize: 4,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	deadline := time.After(5 * time.Second)
	var content CachedContent
	for {
		var err error
		content, err = client.GetContent(ctx, "T")
		if err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("client never observed key T: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	assert.Equal(t, "content for T", string(content.Data))
	assert.WithinDuration(t, before, content.Timestamp, time.Second)
}

// blockingCatAdapter wraps an Adapter, pausing after its Nth Cat call
// so a test can race a Close/Destroy in that exact window.
type blockingCatAdapter struct {
	objectstore.Adapter
	pauseOnCall int32
	catCalls    int32
	signal      chan struct{}
	proceed     chan struct{}
}

func (a *blockingCatAdapter) Cat(ctx context.Context, h hash.Hash) ([]byte, error) {
	data, err := a.Adapter.Cat(ctx, h)
	if atomic.AddInt32(&a.catCalls, 1) == a.pauseOnCall {
		close(a.signal)
		<-a.proceed
	}
	return data, err
}

// S5: closing the client while a Find is mid-descent delivers
// ErrCancelled for the node fetch that follows the destroyed flag
// being set, instead of silently continuing to walk the tree.
func TestCloseCancelsInFlightFind(t *testing.T) {
	ctx := context.Background()
	local, err := objectstore.NewLocalAdapter(t.TempDir(), "injector")
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	adapter := &blockingCatAdapter{
		Adapter: local,
		signal:  make(chan struct{}),
		proceed: make(chan struct{}),
	}

	db, err := New(ctx, Config{
		Adapter:     adapter,
		RepoDir:     t.TempDir(),
		IPNSName:    "injector",
		MaxNodeSize: 1,
	})
	require.NoError(t, err)

	// Build a two-level tree directly (whitebox) so Find("10") must
	// descend past the root into a lazily-inflated child.
	require.NoError(t, db.tree.Insert(ctx, "10", "v10"))
	require.NoError(t, db.tree.Insert(ctx, "20", "v20"))
	root := db.tree.RootHash()
	require.NoError(t, db.tree.Load(ctx, root))

	adapter.pauseOnCall = 1 // pause once the root node has been fetched

	errCh := make(chan error, 1)
	go func() {
		_, _, findErr := db.tree.Find(ctx, "10")
		errCh <- findErr
	}()

	<-adapter.signal // root node loaded; descent into the child hasn't happened yet
	db.Close()       // destroys the tree, then stops the refresh loop
	close(adapter.proceed)

	err = <-errCh
	assert.ErrorIs(t, err, cacheerrors.ErrCancelled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&adapter.catCalls), "the child node must never be fetched once destroyed")
}
