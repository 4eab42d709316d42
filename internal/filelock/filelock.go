// Package filelock provides the cross-process mutual-exclusion primitive
// every durable store in Cleo builds on (spec §4.1). It wraps
// github.com/gofrs/flock, the advisory OS-lock library the rest of the
// pack's dependency graph already pulls in, behind the read-modify-write
// shape every caller actually needs: acquire, run a closure, release —
// guaranteed even if the closure panics.
package filelock

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// degradedOnce makes sure the "proceeding without a real lock" warning in
// spec §4.1 is printed loudly exactly once per sentinel path, not once per
// call.
var degradedOnce sync.Map // path string -> struct{}

// Lock is a named mutual-exclusion lock keyed to a sentinel file path.
// Each Lock value also holds an in-process mutex, so goroutines sharing one
// Lock serialize before the cross-process flock is tried, and the two
// critical sections compose correctly.
type Lock struct {
	path string
	fl   *flock.Flock
	mu   sync.Mutex // serializes this process's own goroutines
}

// New returns a Lock keyed to path. The sentinel file is created lazily by
// the underlying flock implementation on first acquire.
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// With acquires the lock, runs fn, and releases the lock on every exit path
// — including a panic inside fn, which is re-raised after the lock is
// freed. This is the single entry point every TaskBoard/ContextBus/
// UsageTracker/mailbox read-modify-write cycle goes through (spec §4.1).
func (l *Lock) With(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	locked, err := l.tryLockWithRetry(ctx)
	if err != nil {
		warnDegraded(l.path, err)
		locked = false
	}
	if locked {
		defer func() {
			if uerr := l.fl.Unlock(); uerr != nil {
				log.Printf("[FILELOCK] WARNING: unlock failed for %s: %v", l.path, uerr)
			}
		}()
	}

	return fn()
}

// tryLockWithRetry polls TryLock with backoff until ctx is done or the lock
// is obtained. flock does not offer a blocking Lock() with timeout across
// platforms uniformly, so we poll with the same doubling backoff shape as
// the worker loop (spec §4.3.2), over a shorter 10ms–250ms range.
func (l *Lock) tryLockWithRetry(ctx context.Context) (bool, error) {
	delay := 10 * time.Millisecond
	const maxDelay = 250 * time.Millisecond
	for {
		ok, err := l.fl.TryLock()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
		if delay < maxDelay {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}
}

// warnDegraded logs, once per sentinel path, that the process is running
// without real cross-process mutual exclusion. Concurrent runs without a
// real lock are explicitly undefined behavior per spec §4.1 — this is a
// loud, unmissable warning, not a silent fallback.
func warnDegraded(path string, err error) {
	if _, already := degradedOnce.LoadOrStore(path, struct{}{}); already {
		return
	}
	log.Printf("[FILELOCK] WARNING: could not acquire OS lock for %s (%v) — "+
		"proceeding in single-process mode; concurrent external processes "+
		"writing this file now have UNDEFINED behavior", path, err)
}
