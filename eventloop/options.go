// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// DefaultSafetyThreshold is the mailbox depth at which
// [EventLoop.CheckPushSafety] starts reporting false.
const DefaultSafetyThreshold = 500

// loopOptions holds configuration options for EventLoop creation.
type loopOptions struct {
	logger          *logiface.Logger[logiface.Event]
	registry        *Registry
	lock            *InterpreterLock
	fatal           func(error)
	name            string
	safetyThreshold int
	cpu             int
	metricsEnabled  bool
}

// --- Loop Options ---

// LoopOption configures an EventLoop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the logger. The loop logs via a child logger carrying a
// "loop" field. A nil logger disables logging, which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithRegistry registers the loop with the given registry, for the
// lifetime of the loop.
func WithRegistry(registry *Registry) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.registry = registry
		return nil
	}}
}

// WithInterpreterLock makes the loop hold lock while processing each batch
// of work. It is released while the loop waits.
func WithInterpreterLock(lock *InterpreterLock) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.lock = lock
		return nil
	}}
}

// WithSafetyThreshold overrides [DefaultSafetyThreshold].
func WithSafetyThreshold(threshold int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if threshold <= 0 {
			return errors.New("eventloop: safety threshold must be positive")
		}
		opts.safetyThreshold = threshold
		return nil
	}}
}

// WithCPUAffinity pins the loop's thread to the given CPU. It only applies
// to [SourceNewThread] loops, and failures are logged rather than returned.
func WithCPUAffinity(cpu int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if cpu < 0 {
			return errors.New("eventloop: cpu must not be negative")
		}
		opts.cpu = cpu
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the loop.
// When enabled, metrics can be accessed via EventLoop.Metrics().
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithFatalHandler overrides the handler for unrecoverable errors in the
// loop's own machinery. The default logs at critical level, then exits the
// process.
func WithFatalHandler(fn func(err error)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.fatal = fn
		return nil
	}}
}

// WithName overrides the name used in logs, which defaults to the loop's ID.
func WithName(name string) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.name = name
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		safetyThreshold: DefaultSafetyThreshold,
		cpu:             -1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
