// Package mutex provides named, process-spanning locks.
//
// Context
// -------
// Two callers depend on it: the sync runner takes a per-list, per-day lease
// with a bounded wait, and the queue processor takes a per-list lease with
// no wait at all.  Acquisition that does not succeed in time is an ordinary
// `false`, never an error; errors mean the lock service itself failed.
//
// Leases expire on their own (Redis PX) so a crashed holder cannot wedge a
// list forever.  A live holder keeps its lease with Hold, which extends it
// every third of its TTL.  Release only deletes a lease this process still
// owns.
package mutex

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrLeaseLost is the cancel cause of a Hold context whose lease expired or
// was taken over.
var ErrLeaseLost = errors.New("mutex: lease lost")

// Locker is the mutex service contract.
type Locker interface {
	// Acquire tries to take key, polling until wait elapses.  wait <= 0
	// means a single attempt.
	Acquire(ctx context.Context, key string, wait time.Duration) (bool, error)
	// Release gives key back.  Releasing a key not held is a no-op.
	Release(ctx context.Context, key string) error
	// Extend pushes the expiry of a lease this process holds.  It reports
	// false when the lease is no longer ours.
	Extend(ctx context.Context, key string) (bool, error)
}

// expiring is implemented by lockers whose leases time out.
type expiring interface {
	TTL() time.Duration
}

// Hold keeps key alive until stop is called.  The returned context is
// cancelled with ErrLeaseLost if an extension finds the lease gone; a failed
// extension call is logged and retried on the next tick.  Lockers without
// expiry need no refresh and Hold only wraps ctx.
func Hold(ctx context.Context, l Locker, key string, log *zap.SugaredLogger) (context.Context, func()) {
	hctx, cancel := context.WithCancelCause(ctx)
	e, ok := l.(expiring)
	if !ok || e.TTL() <= 0 {
		return hctx, func() { cancel(nil) }
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(e.TTL() / 3)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-hctx.Done():
				return
			case <-t.C:
			}
			held, err := l.Extend(hctx, key)
			switch {
			case err != nil:
				log.Warnw("lease extension failed", "key", key, "err", err)
			case !held:
				log.Errorw("lease lost while held", "key", key)
				cancel(ErrLeaseLost)
				return
			}
		}
	}()

	return hctx, func() {
		close(done)
		<-stopped
		cancel(nil)
	}
}

const defaultPoll = 100 * time.Millisecond

// poll calls try until it reports true, wait elapses, or ctx ends.
func poll(ctx context.Context, wait, every time.Duration, try func() (bool, error)) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := try()
		if err != nil || ok {
			return ok, err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return false, nil
		}
		t := time.NewTimer(min(every, left))
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
}
