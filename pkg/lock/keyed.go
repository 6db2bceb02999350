// Package lock implements the keyed serialization primitive described in
// spec §4.1: FIFO mutual exclusion per string key, with synchronous
// registration so two callers can never both observe an empty waiter
// chain and proceed concurrently.
package lock

import (
	"context"
	"sync"
)

// waiter is one pending or running critical section for a key.
type waiter struct {
	done chan struct{}
}

// KeyedMutex serializes withLock calls that share a key while letting
// calls on distinct keys run fully concurrently. The zero value is not
// usable; construct with New.
type KeyedMutex struct {
	mu    sync.Mutex
	chain map[string]*waiter // key -> tail of the FIFO chain
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{chain: make(map[string]*waiter)}
}

// WithLock runs fn with exclusive access to key. Waiters are admitted in
// arrival order. Reentering the same key from within fn deadlocks by
// design (per spec §4.1) — the primitive does not track ownership, so
// there is nothing to detect or prevent this; callers must not do it.
//
// If ctx is cancelled while waiting for an earlier holder to finish,
// WithLock returns ctx.Err() without ever running fn and without
// disturbing the chain for other waiters.
func (k *KeyedMutex) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	me := &waiter{done: make(chan struct{})}

	k.mu.Lock()
	prev := k.chain[key]
	k.chain[key] = me
	k.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			// We never became the holder, so the key is still held by
			// whatever prev is waiting on. Signal and release only once
			// prev actually finishes, so a chained successor keeps
			// waiting for the real holder instead of running early, and
			// a brand new arrival doesn't see the chain as empty while
			// prev is still running.
			go func() {
				<-prev.done
				close(me.done)
				k.release(key, me)
			}()
			return ctx.Err()
		}
	}

	err := fn(ctx)

	close(me.done)
	k.release(key, me)
	return err
}

// release clears the chain entry for key iff me is still the tail —
// another waiter may have already chained after us.
func (k *KeyedMutex) release(key string, me *waiter) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.chain[key] == me {
		delete(k.chain, key)
	}
}
