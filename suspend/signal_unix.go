// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package suspend

import (
	"os"

	"golang.org/x/sys/unix"
)

var watchedSignals = []os.Signal{unix.SIGTSTP, unix.SIGCONT, unix.SIGINT, unix.SIGTERM}

func signalAction(sig os.Signal) Action {
	switch sig {
	case unix.SIGTSTP:
		return ActionPause
	case unix.SIGCONT:
		return ActionResume
	case unix.SIGINT, unix.SIGTERM:
		return ActionQuit
	default:
		return ActionNone
	}
}

// stopProcess stops the current process. It returns once continued.
func stopProcess() error {
	return unix.Kill(unix.Getpid(), unix.SIGSTOP)
}
