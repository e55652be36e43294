// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !unix

package suspend

import (
	"os"
	"syscall"
)

var watchedSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func signalAction(sig os.Signal) Action {
	switch sig {
	case os.Interrupt, syscall.SIGTERM:
		return ActionQuit
	default:
		return ActionNone
	}
}

func stopProcess() error { return nil }
