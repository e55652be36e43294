// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run is called on a loop that is
	// already being driven.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when pushing to, or running, a loop that
	// has finished shutting down.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrReentrantRun is returned when Run, RunOnce or Shutdown is called
	// from within the loop itself.
	ErrReentrantRun = errors.New("eventloop: cannot block on the loop from within the loop")

	// ErrSynchronousSelfPush is returned by the synchronous push variants,
	// when called on the target loop's own thread.
	ErrSynchronousSelfPush = errors.New("eventloop: synchronous push to the current thread's own loop")

	// ErrWrongThread is returned when driving an external loop from a thread
	// other than the one it is bound to.
	ErrWrongThread = errors.New("eventloop: called from outside the loop's thread")

	// ErrNotExternal is returned when Run or RunOnce is called on a loop
	// that owns its thread.
	ErrNotExternal = errors.New("eventloop: loop owns its thread and cannot be driven externally")

	// ErrNilRunnable is returned when pushing a nil runnable.
	ErrNilRunnable = errors.New("eventloop: nil runnable")
)

// PanicError wraps a value recovered from a panicking [Runnable].
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("eventloop: runnable panicked: %v", e.Value)
}

// Unwrap returns the panic value, if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
