package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/ipfscached/pkg/cacheerrors"
	"github.com/cuemby/ipfscached/pkg/hash"
	shell "github.com/ipfs/go-ipfs-api"
)

// ShellAdapter is the production Adapter, fronting a running `ipfs
// daemon` over its HTTP API via github.com/ipfs/go-ipfs-api. This is
// the real binding for the object-store contract defined by Adapter.
type ShellAdapter struct {
	sh      *shell.Shell
	keyName string
}

// NewShellAdapter connects to the IPFS daemon's API at apiAddr (e.g.
// "localhost:5001"). keyName is the IPNS key Publish announces under;
// pass "self" to use the daemon's default identity key.
func NewShellAdapter(apiAddr, keyName string) *ShellAdapter {
	return &ShellAdapter{sh: shell.NewShell(apiAddr), keyName: keyName}
}

// Add uploads data to the daemon and returns its CID.
func (a *ShellAdapter) Add(ctx context.Context, data []byte) (hash.Hash, error) {
	s, err := a.sh.Add(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("objectstore: %w: %v", cacheerrors.ErrAddFailed, err)
	}
	h, err := hash.Parse(s)
	if err != nil {
		return "", fmt.Errorf("objectstore: daemon returned malformed hash %q: %w", s, err)
	}
	return h, nil
}

// Cat fetches the bytes stored under h.
func (a *ShellAdapter) Cat(ctx context.Context, h hash.Hash) ([]byte, error) {
	rc, err := a.sh.Cat(h.String())
	if err != nil {
		return nil, fmt.Errorf("objectstore: %w: %v", cacheerrors.ErrCatFailed, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("objectstore: %w: %v", cacheerrors.ErrCatFailed, err)
	}
	return data, nil
}

// Resolve dereferences an IPNS name to its current CID.
func (a *ShellAdapter) Resolve(ctx context.Context, name string) (hash.Hash, error) {
	p, err := a.sh.Resolve(name)
	if err != nil {
		return "", fmt.Errorf("objectstore: %w: %v", cacheerrors.ErrResolveFailed, err)
	}
	h, err := hash.Parse(trimIPFSPrefix(p))
	if err != nil {
		return "", fmt.Errorf("objectstore: daemon resolved to malformed hash %q: %w", p, err)
	}
	return h, nil
}

// Publish announces keyName → h over IPNS, valid for lifetime.
func (a *ShellAdapter) Publish(ctx context.Context, h hash.Hash, lifetime time.Duration) error {
	if err := a.sh.PublishWithDetails(h.String(), a.keyName, lifetime, 0, true); err != nil {
		return fmt.Errorf("objectstore: %w: %v", cacheerrors.ErrPublishFailed, err)
	}
	return nil
}

// Pin retains h so it survives the daemon's garbage collection.
func (a *ShellAdapter) Pin(ctx context.Context, h hash.Hash) error {
	if err := a.sh.Pin(h.String()); err != nil {
		return fmt.Errorf("objectstore: pin %s: %w: %v", h, cacheerrors.ErrPinFailed, err)
	}
	return nil
}

// Unpin releases h's retention.
func (a *ShellAdapter) Unpin(ctx context.Context, h hash.Hash) error {
	if err := a.sh.Unpin(h.String()); err != nil {
		return fmt.Errorf("objectstore: unpin %s: %w: %v", h, cacheerrors.ErrPinFailed, err)
	}
	return nil
}

// SelfID reports the daemon's own peer id, surfaced so operators can
// confirm which daemon a process is bound to.
func (a *ShellAdapter) SelfID(ctx context.Context) (string, error) {
	id, err := a.sh.ID()
	if err != nil {
		return "", fmt.Errorf("objectstore: self id: %v", err)
	}
	return id.ID, nil
}

// trimIPFSPrefix strips the "/ipfs/" path prefix go-ipfs-api's Resolve
// returns, leaving the bare CID.
func trimIPFSPrefix(p string) string {
	const prefix = "/ipfs/"
	if len(p) > len(prefix) && p[:len(prefix)] == prefix {
		return p[len(prefix):]
	}
	return p
}
