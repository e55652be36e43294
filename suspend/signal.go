// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package suspend

import (
	"context"
	"os"
	"os/signal"
)

// Action is what Watch does in response to a signal.
type Action int

const (
	ActionNone Action = iota
	ActionPause
	ActionResume
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionPause:
		return "pause"
	case ActionResume:
		return "resume"
	case ActionQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Watch handles host signals until ctx is done: a terminal stop pauses
// every loop then stops the process, a continue resumes them, and an
// interrupt or terminate calls the quit function.
func (x *Orchestrator) Watch(ctx context.Context) error {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, watchedSignals...)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-ch:
			x.HandleSignal(ctx, sig)
		}
	}
}

// HandleSignal performs the action mapped to sig, returning it.
func (x *Orchestrator) HandleSignal(ctx context.Context, sig os.Signal) Action {
	action := signalAction(sig)
	x.logger.Debug().
		Str("signal", sig.String()).
		Stringer("action", action).
		Log("suspend: received signal")

	switch action {
	case ActionPause:
		if err := x.Pause(ctx); err != nil {
			x.logger.Warning().Err(err).Log("suspend: stopping with loops still running")
		}
		if x.stop != nil {
			if err := x.stop(); err != nil {
				x.logger.Err().Err(err).Log("suspend: failed to stop process")
			}
		}
	case ActionResume:
		x.Resume()
	case ActionQuit:
		if x.quit != nil {
			x.quit()
		}
	}
	return action
}
