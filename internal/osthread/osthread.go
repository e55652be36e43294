// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package osthread exposes the small amount of thread identity and placement
// control needed to bind an event loop to a single OS thread.
package osthread

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned by SetAffinity on platforms without support.
var ErrUnsupported = errors.New("osthread: not supported on this platform")

// GoroutineID returns the current goroutine's ID, parsed from the first line
// of its stack trace ("goroutine N [...]").
func GoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// ThreadID returns the native ID of the calling OS thread, or 0 when the
// platform does not expose one. The value is only stable if the calling
// goroutine is locked to its thread (runtime.LockOSThread).
func ThreadID() int64 {
	return threadID()
}

// SetAffinity pins the calling OS thread to the given CPU. The calling
// goroutine must already be locked to its thread.
func SetAffinity(cpu int) error {
	if cpu < 0 {
		return errors.New("osthread: negative cpu")
	}
	return setAffinity(cpu)
}
