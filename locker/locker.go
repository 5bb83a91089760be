// Copyright 2025 Verdin Energy
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package locker provides per-key exclusive locks with a bounded acquire
// wait. Balance mutations are serialized per certificate id; operations
// touching different certificates proceed fully in parallel.
package locker

import (
	"context"
	"sync"
	"time"

	"github.com/verdin-energy/verdin/fault"
)

const DefaultAcquireTimeout = 5 * time.Second

type keyLock struct {
	ch   chan struct{}
	refs int
}

type Locker struct {
	locks   map[string]*keyLock
	mu      sync.Mutex
	timeout time.Duration
}

func New(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	return &Locker{
		locks:   make(map[string]*keyLock),
		timeout: timeout,
	}
}

// Lock acquires the exclusive lock for key, waiting at most the
// configured timeout. On success it returns a release func that must be
// called exactly once. On timeout or context cancellation it returns a
// retryable lock-timeout error and no lock is held.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case kl.ch <- struct{}{}:
		return func() {
			<-kl.ch
			l.release(key, kl)
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		return nil, fault.LockTimeout(
			"lock wait cancelled for %s: %s",
			key,
			ctx.Err(),
		)
	case <-timer.C:
		l.release(key, kl)
		return nil, fault.LockTimeout(
			"timed out after %s waiting for lock on %s",
			l.timeout,
			key,
		)
	}
}

// release drops a waiter/holder reference and removes the map entry once
// nobody references it, so the lock table does not grow without bound.
func (l *Locker) release(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs <= 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
