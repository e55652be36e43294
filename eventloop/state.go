// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"sync/atomic"
)

// LoopState is the lifecycle state of an [EventLoop].
//
// State Machine:
//
//	StateAwake → StateRunning          [thread started, or first Run/RunOnce]
//	StateRunning → StateSleeping       [waiting for work, via CAS]
//	StateSleeping → StateRunning       [woken, via CAS]
//	StateRunning → StateTerminating    [shutdown message processed]
//	StateAwake → StateTerminating      [Shutdown of a never-run external loop]
//	StateTerminating → StateTerminated [mailbox closed and drained]
//	StateTerminated → (terminal)
//
// Pausing is orthogonal: a paused loop is Running or Sleeping.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created, but not yet run.
	StateAwake LoopState = iota
	// StateRunning indicates the loop is processing work.
	StateRunning
	// StateSleeping indicates the loop is blocked, waiting for work.
	StateSleeping
	// StateTerminating indicates the loop is draining its remaining work.
	StateTerminating
	// StateTerminated indicates the loop has stopped, and accepts no work.
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state machine with cache-line padding.
//
// Use TryTransition (CAS) for the temporary states, Running and Sleeping,
// and Store only for the irreversible ones.
type FastState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // state value
	_ [56]byte      //nolint:unused
}

func (s *FastState) Load() LoopState {
	return LoopState(s.v.Load())
}

func (s *FastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsRunning returns true if the loop is running or sleeping.
func (s *FastState) IsRunning() bool {
	state := s.Load()
	return state == StateRunning || state == StateSleeping
}
