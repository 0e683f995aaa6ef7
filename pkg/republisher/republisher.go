// Package republisher keeps a mutable name bound to its most recently
// published hash alive in the object store by re-announcing it at
// lifetime/2 cadence, and coalesces concurrent Publish requests so
// that a burst of updates produces one round trip rather than one per
// caller.
package republisher

import (
	"context"
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

// DefaultLifetime is the production republish lifetime: the object
// store is asked to keep the binding valid for this long, and the
// Republisher re-announces at half that interval.
const DefaultLifetime = 10 * time.Minute

// Republisher periodically re-publishes the most recent hash handed to
// Publish under a fixed mutable name. Safe for concurrent use: callers
// may call Publish from multiple goroutines and each receives its own
// completion channel.
type Republisher struct {
	adapter  objectstore.Adapter
	name     string
	lifetime time.Duration
	logger   zerolog.Logger

	mu           sync.Mutex
	toPublish    hash.Hash
	isPublishing bool
	callbacks    []chan error
	timer        *time.Timer

	destroyed int32
}

// New constructs a Republisher that announces name → hash bindings
// through adapter, valid for lifetime (DefaultLifetime if zero).
func New(adapter objectstore.Adapter, name string, lifetime time.Duration) *Republisher {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Republisher{
		adapter:  adapter,
		name:     name,
		lifetime: lifetime,
		logger:   log.WithComponent("republisher"),
	}
}

// Publish requests h be announced under the republisher's name. The
// returned channel receives exactly one value — nil on success, or the
// publish error (ErrCancelled if Shutdown ran first) — and is then
// closed. If a publish round is already in flight when Publish is
// called, h simply becomes the next value published and the caller's
// callback is queued FIFO behind any others already waiting.
func (r *Republisher) Publish(ctx context.Context, h hash.Hash) <-chan error {
	ch := make(chan error, 1)

	if atomic.LoadInt32(&r.destroyed) != 0 {
		ch <- cacheerrors.ErrCancelled
		close(ch)
		return ch
	}

	r.mu.Lock()
	r.toPublish = h
	r.callbacks = append(r.callbacks, ch)
	start := !r.isPublishing
	if start {
		r.isPublishing = true
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	r.mu.Unlock()

	// isPublishing flips to true in the same critical section that
	// decided to start a round, so a second Publish racing this one
	// always observes it and never spawns its own round.
	if start {
		go r.runRound(ctx)
	}
	return ch
}

// Shutdown marks the Republisher destroyed and drains any queued
// callbacks with ErrCancelled, mirroring the original's
// _was_destroyed flag checked inside every pending timer/publish
// continuation.
func (r *Republisher) Shutdown() {
	atomic.StoreInt32(&r.destroyed, 1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	for _, cb := range r.callbacks {
		cb <- cacheerrors.ErrCancelled
		close(cb)
	}
	r.callbacks = nil
}

func (r *Republisher) destroyedNow() bool {
	return atomic.LoadInt32(&r.destroyed) != 0
}

// armIdleTimer arms the lifetime/2 timer that re-enters the loop with
// a synthetic (nil) callback once no round is in flight. Called with
// isPublishing already false and the timer already stopped by the
// caller.
func (r *Republisher) armIdleTimer(ctx context.Context) {
	r.timer = time.AfterFunc(r.lifetime/2, func() {
		if r.destroyedNow() {
			return
		}
		r.mu.Lock()
		if r.isPublishing {
			r.mu.Unlock()
			return
		}
		r.callbacks = append(r.callbacks, nil)
		r.isPublishing = true
		r.mu.Unlock()
		r.runRound(ctx)
	})
}

// runRound drives exactly one round of the publish loop. It must only
// be invoked by a caller that has already set isPublishing = true
// (under r.mu) in the same critical section that decided a round was
// needed — Publish, the idle timer's callback, and runRound's own
// tail-continuation all satisfy this, so at most one round is ever in
// flight at a time. It performs one publish() call and delivers its
// result, in order, to every callback queued up to and including the
// one present when the round started; if more accumulated while it
// ran, it loops immediately into another round, otherwise it clears
// isPublishing and arms the idle timer.
func (r *Republisher) runRound(ctx context.Context) {
	if r.destroyedNow() {
		return
	}

	r.mu.Lock()
	toPublish := r.toPublish
	lastIdx := len(r.callbacks) - 1
	r.mu.Unlock()

	timer := metrics.NewTimer()
	metrics.RepublishInFlight.Set(1)
	err := r.adapter.Publish(ctx, toPublish, r.lifetime)
	metrics.RepublishInFlight.Set(0)
	timer.ObserveDuration(metrics.RepublishDuration)
	if err == nil {
		metrics.RepublishTotal.Inc()
		r.logger.Debug().Str("name", r.name).Str("hash", toPublish.String()).Msg("republished")
	} else {
		r.logger.Warn().Err(err).Str("name", r.name).Str("hash", toPublish.String()).Msg("republish failed")
	}

	r.mu.Lock()
	for i := 0; i <= lastIdx && len(r.callbacks) > 0; i++ {
		cb := r.callbacks[0]
		r.callbacks = r.callbacks[1:]
		if cb != nil {
			cb <- err
			close(cb)
		}
		if r.destroyedNow() {
			r.mu.Unlock()
			return
		}
	}

	if len(r.callbacks) == 0 {
		r.isPublishing = false
		r.armIdleTimer(ctx)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.runRound(ctx)
}
