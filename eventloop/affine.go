// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"runtime"
)

// DestroyOn runs cleanup on loop's thread: inline if the caller is already
// on it, otherwise via [EventLoop.PushCall]. Cleanups for a loop that has
// terminated are logged and dropped.
func DestroyOn(loop *EventLoop, cleanup func()) {
	if loop == nil || cleanup == nil {
		return
	}
	if loop.IsCurrentThread() {
		_ = RunAndLogErrors(loop.logger, RunnableFunc(cleanup))
		return
	}
	if err := loop.PushCall(cleanup); err != nil {
		loop.logger.Warning().
			Err(err).
			Log("dropping thread-affine cleanup")
	}
}

// AttachCleanup arranges for cleanup(arg) to run on loop's thread, once ptr
// becomes unreachable. The usual [runtime.AddCleanup] rules apply, in
// particular arg must not reference ptr.
func AttachCleanup[T, S any](ptr *T, loop *EventLoop, cleanup func(S), arg S) runtime.Cleanup {
	return runtime.AddCleanup(ptr, func(arg S) {
		DestroyOn(loop, func() { cleanup(arg) })
	}, arg)
}

// Affine binds a value to the loop that created it. Embed it in types whose
// teardown must happen on that loop's thread.
type Affine struct {
	loop *EventLoop
}

// NewAffine binds to loop.
func NewAffine(loop *EventLoop) Affine {
	return Affine{loop: loop}
}

// Loop returns the owning loop.
func (x Affine) Loop() *EventLoop {
	return x.loop
}

// OnOwnerThread reports whether the caller is on the owning loop's thread.
func (x Affine) OnOwnerThread() bool {
	return x.loop != nil && x.loop.IsCurrentThread()
}

// Destroy is [DestroyOn] for the owning loop.
func (x Affine) Destroy(cleanup func()) {
	DestroyOn(x.loop, cleanup)
}
