// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"runtime/debug"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

type (
	// Runnable is a unit of work, executed on an event loop's thread.
	Runnable interface {
		Run()
	}

	// RunnableFunc adapts a plain function to [Runnable].
	RunnableFunc func()

	// Releaser may be implemented by a [Runnable] that holds resources.
	// Release is called exactly once, after the runnable's final run, on the
	// thread that ran it.
	Releaser interface {
		Release()
	}

	// Shared is a reference counted [Runnable], for work that is scheduled
	// more than once, e.g. repeating timers and pause callbacks.
	//
	// Run is a no-op once every reference has been released. Pushing a
	// Shared via [EventLoop.PushRunnable] transfers one reference, call Ref
	// first to keep using it.
	Shared struct {
		r    Runnable
		refs atomic.Int64
	}

	// unique is the single-owner handle for a transferred runnable.
	unique struct {
		r     Runnable
		taken atomic.Bool
	}
)

var (
	_ Runnable = RunnableFunc(nil)
	_ Runnable = (*Shared)(nil)
	_ Releaser = (*Shared)(nil)
)

func (f RunnableFunc) Run() {
	if f != nil {
		f()
	}
}

// NewShared wraps r, returning a Shared holding one reference.
func NewShared(r Runnable) *Shared {
	s := &Shared{r: r}
	s.refs.Store(1)
	return s
}

// Ref adds a reference, returning s, or nil if s was already fully released.
func (s *Shared) Ref() *Shared {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return nil
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return s
		}
	}
}

// Release drops a reference. Releasing the last reference releases the
// wrapped runnable. Redundant calls are ignored.
func (s *Shared) Release() {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return
		}
		if s.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				releaseRunnable(s.r)
			}
			return
		}
	}
}

// Refs returns the current reference count.
func (s *Shared) Refs() int64 {
	return s.refs.Load()
}

func (s *Shared) Run() {
	if s.refs.Load() > 0 && s.r != nil {
		s.r.Run()
	}
}

// shareRunnable returns a new reference to r, wrapping it if necessary.
func shareRunnable(r Runnable) *Shared {
	if s, ok := r.(*Shared); ok {
		if ref := s.Ref(); ref != nil {
			return ref
		}
	}
	return NewShared(r)
}

func newUnique(r Runnable) *unique {
	return &unique{r: r}
}

// take returns the runnable, exactly once.
func (x *unique) take() Runnable {
	if x == nil || !x.taken.CompareAndSwap(false, true) {
		return nil
	}
	r := x.r
	x.r = nil
	return r
}

func releaseRunnable(r Runnable) {
	if v, ok := r.(Releaser); ok {
		v.Release()
	}
}

// RunAndLogErrors runs r, recovering and logging any panic, which is
// returned as a [*PanicError]. A nil r is a no-op.
func RunAndLogErrors(logger *logiface.Logger[logiface.Event], r Runnable) (err error) {
	if r == nil {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			e := &PanicError{Value: v, Stack: debug.Stack()}
			logPanic(logger, e)
			err = e
		}
	}()
	r.Run()
	return nil
}
