// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"sync"
	"weak"

	"github.com/joeycumines/logiface"
)

// Registry tracks every live [EventLoop] of a process, and the process-wide
// "threads paused" flag.
//
// Loops are held weakly, so a loop abandoned without being shut down does
// not leak. Terminated loops remove themselves.
type Registry struct {
	logger *logiface.Logger[logiface.Event]

	// data maps loop key to loop
	data map[uint64]weak.Pointer[EventLoop]

	// ring holds keys in registration order, 0 marks a removed entry
	ring []uint64

	mu     sync.RWMutex
	paused bool

	// broadcast serializes SetThreadsPaused against itself and register, so
	// every loop sees pause and resume requests in the same order
	broadcast sync.Mutex
}

// NewRegistry initializes an empty Registry. The logger may be nil.
func NewRegistry(logger *logiface.Logger[logiface.Event]) *Registry {
	return &Registry{
		logger: logger,
		data:   make(map[uint64]weak.Pointer[EventLoop]),
	}
}

// register adds l, which adopts the current paused flag.
func (r *Registry) register(l *EventLoop) {
	r.broadcast.Lock()
	defer r.broadcast.Unlock()
	r.mu.Lock()
	r.data[l.key] = weak.Make(l)
	r.ring = append(r.ring, l.key)
	paused := r.paused
	r.mu.Unlock()
	if paused {
		_ = l.PushSetPaused(true)
	}
}

func (r *Registry) deregister(l *EventLoop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(l.key)
}

func (r *Registry) removeLocked(key uint64) {
	if _, ok := r.data[key]; !ok {
		return
	}
	delete(r.data, key)
	for i, k := range r.ring {
		if k == key {
			r.ring[i] = 0
			break
		}
	}
	if len(r.ring) > 64 && len(r.data) < len(r.ring)/4 {
		r.compactLocked()
	}
}

// compactLocked drops removed entries from the ring, preserving order.
func (r *Registry) compactLocked() {
	ring := make([]uint64, 0, max(len(r.data), 8))
	for _, k := range r.ring {
		if k != 0 {
			ring = append(ring, k)
		}
	}
	r.ring = ring
}

// Loops returns a snapshot of every live loop, in registration order.
func (r *Registry) Loops() []*EventLoop {
	r.mu.RLock()
	loops := make([]*EventLoop, 0, len(r.data))
	var dead []uint64
	for _, k := range r.ring {
		if k == 0 {
			continue
		}
		if l := r.data[k].Value(); l != nil {
			loops = append(loops, l)
		} else {
			dead = append(dead, k)
		}
	}
	r.mu.RUnlock()

	if len(dead) != 0 {
		r.mu.Lock()
		for _, k := range dead {
			r.removeLocked(k)
		}
		r.mu.Unlock()
		r.logger.Debug().
			Int("count", len(dead)).
			Log("registry: scavenged collected loops")
	}

	return loops
}

// Find returns the first live loop with the given id, or nil.
func (r *Registry) Find(id ID) *EventLoop {
	for _, l := range r.Loops() {
		if l.id == id {
			return l
		}
	}
	return nil
}

// ThreadsPaused returns the last value passed to SetThreadsPaused.
func (r *Registry) ThreadsPaused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// SetThreadsPaused records the process-wide paused flag, then posts a pause
// or resume request to every loop. It does not wait, see
// GetStillPausingThreads. Loops registered afterwards adopt the flag.
func (r *Registry) SetThreadsPaused(paused bool) {
	r.broadcast.Lock()
	defer r.broadcast.Unlock()

	r.mu.Lock()
	r.paused = paused
	r.mu.Unlock()

	for _, l := range r.Loops() {
		if err := l.PushSetPaused(paused); err != nil {
			r.logger.Debug().
				Err(err).
				Str("loop", l.name).
				Bool("paused", paused).
				Log("registry: skipping loop")
		}
	}
}

// GetStillPausingThreads returns the loops with an outstanding pause
// request they have not yet acknowledged.
func (r *Registry) GetStillPausingThreads() []*EventLoop {
	var pausing []*EventLoop
	for _, l := range r.Loops() {
		if l.pausePending() {
			pausing = append(pausing, l)
		}
	}
	return pausing
}
