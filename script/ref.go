// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package script

import (
	"runtime"
	"sync"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-engineloop/eventloop"
)

// Ref keeps a JS value alive, for use from any goroutine. The value is
// dropped by Release, or once the Ref itself is garbage collected, in both
// cases on the host's loop thread.
type Ref struct {
	host    *Host
	cleanup runtime.Cleanup
	once    sync.Once
	id      uint64
}

// Hold returns a Ref to v. It must be called on the host's loop thread,
// typically from a Go function called by JS.
func (h *Host) Hold(v goja.Value) *Ref {
	if !h.OnOwnerThread() {
		h.logger.Err().Log("script: Hold called outside the loop's thread")
		return nil
	}
	h.nextRef++
	id := h.nextRef
	h.refs[id] = v
	h.held.Add(1)

	ref := &Ref{host: h, id: id}
	ref.cleanup = eventloop.AttachCleanup(ref, h.Loop(), h.drop, id)
	return ref
}

func (h *Host) drop(id uint64) {
	if _, ok := h.refs[id]; ok {
		delete(h.refs, id)
		h.held.Add(-1)
	}
}

// Call pushes a call to the held value, which must be a function, with the
// given arguments converted via [goja.Runtime.ToValue]. Errors thrown by the
// function are logged.
func (r *Ref) Call(args ...any) error {
	h := r.host
	return h.Loop().PushCall(func() {
		if h.closed {
			return
		}
		v, ok := h.refs[r.id]
		if !ok {
			return
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			h.logger.Warning().Log("script: held value is not a function")
			return
		}
		_ = h.invoke("ref", fn, h.values(args))
	})
}

// Release drops the held value. Calls after the first are no-ops.
func (r *Ref) Release() {
	r.once.Do(func() {
		r.cleanup.Stop()
		h, id := r.host, r.id
		eventloop.DestroyOn(h.Loop(), func() { h.drop(id) })
	})
}
