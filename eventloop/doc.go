// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package eventloop implements the per-thread event loops of the engine, and
// the machinery used to move work between them.
//
// # Architecture
//
// Each subsystem (logic, assets, file output, audio, graphics, and so on) is
// owned by exactly one [EventLoop], which is bound to exactly one OS thread.
// A loop either spawns and owns that thread ([SourceNewThread]), or wraps a
// thread that already exists, such as the process main thread
// ([SourceExternal]), in which case the owner drives it via [EventLoop.Run]
// or [EventLoop.RunOnce].
//
// Work arrives in two ways:
//   - Cross-thread, as a message appended to the loop's mailbox under a mutex,
//     followed by a wakeup.
//   - Same-thread, appended directly to the loop's local list, without any
//     locking.
//
// Each iteration of a loop:
//  1. Waits until the next timer deadline, or indefinitely while paused or
//     while no timers are pending, returning early on any new message.
//  2. Acquires the [InterpreterLock], if the loop was configured with one.
//  3. Drains the mailbox, handling pause, resume and shutdown requests and
//     moving runnables onto the local list.
//  4. Fires due timers, unless paused.
//  5. Runs every runnable that was on the local list when the step began.
//
// # Runnables
//
// A [Runnable] pushed with [EventLoop.PushRunnable] is transferred: the loop
// runs it exactly once, then calls Release on it if it implements
// [Releaser]. Work that must be scheduled more than once, such as a repeating
// timer or a pause callback, is held as a [Shared] reference.
//
// # Pausing
//
// The process-wide [Registry] tracks every live loop. Pausing is
// cooperative: [Registry.SetThreadsPaused] posts a request to every loop,
// and [Registry.GetStillPausingThreads] reports the loops that have not yet
// acknowledged it. While paused, a loop stops firing timers and stops waking
// for them, but still runs pushed runnables, so a synchronous push to a
// paused loop never deadlocks.
//
// # Thread Safety
//
// The Push* methods, [EventLoop.Quit], [EventLoop.PushSetPaused] and
// [EventLoop.CheckPushSafety] are safe to call from any goroutine. Timer
// methods, and the pause/resume callback registration methods, must be
// called on the loop's own thread.
package eventloop
