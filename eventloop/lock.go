// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-engineloop/internal/osthread"
	"github.com/joeycumines/logiface"
)

// InterpreterLock is a reentrant mutex, serializing access to a
// single-threaded resource (the script interpreter) across every loop that
// touches it.
//
// Ownership is tracked per goroutine. Loops hold it for the duration of each
// batch of work, and [EventLoop.PushRunnableSynchronous] fully releases it
// while waiting, so a loop holding the lock can block on another loop that
// needs it.
type InterpreterLock struct {
	logger *logiface.Logger[logiface.Event]
	mu     sync.Mutex
	holder atomic.Uint64 // goroutine id, 0 when unheld
	depth  int           // guarded by mu
}

// NewInterpreterLock initializes an unheld lock. The logger may be nil.
func NewInterpreterLock(logger *logiface.Logger[logiface.Event]) *InterpreterLock {
	return &InterpreterLock{logger: logger}
}

// Lock acquires the lock, or increments the hold count if the calling
// goroutine already holds it.
func (x *InterpreterLock) Lock() {
	if x == nil {
		return
	}
	gid := osthread.GoroutineID()
	if x.holder.Load() == gid {
		x.depth++
		return
	}
	x.mu.Lock()
	x.holder.Store(gid)
	x.depth = 1
}

// Unlock decrements the hold count, releasing the lock when it reaches
// zero. Unlocking a lock the caller does not hold is logged and ignored.
func (x *InterpreterLock) Unlock() {
	if x == nil {
		return
	}
	if x.holder.Load() != osthread.GoroutineID() {
		x.logger.Err().Log("interpreter lock: unlock by non-holder")
		return
	}
	x.depth--
	if x.depth > 0 {
		return
	}
	x.depth = 0
	x.holder.Store(0)
	x.mu.Unlock()
}

// HeldByCurrentThread reports whether the calling goroutine holds the lock.
func (x *InterpreterLock) HeldByCurrentThread() bool {
	return x != nil && x.holder.Load() == osthread.GoroutineID()
}

// Scoped acquires the lock, returning a function that releases it. The
// returned function is safe to call more than once.
func (x *InterpreterLock) Scoped() (release func()) {
	x.Lock()
	var once sync.Once
	return func() { once.Do(x.Unlock) }
}

// releaseAll fully releases a lock held by the caller, returning the hold
// count to pass to restore. It returns 0 if the caller does not hold it.
func (x *InterpreterLock) releaseAll() int {
	if !x.HeldByCurrentThread() {
		return 0
	}
	depth := x.depth
	x.depth = 0
	x.holder.Store(0)
	x.mu.Unlock()
	return depth
}

func (x *InterpreterLock) restore(depth int) {
	if depth <= 0 {
		return
	}
	x.mu.Lock()
	x.holder.Store(osthread.GoroutineID())
	x.depth = depth
}
