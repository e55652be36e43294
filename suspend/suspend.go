// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package suspend coordinates pausing and resuming every event loop in a
// registry, in response to the host application being suspended.
package suspend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-engineloop/eventloop"
	"github.com/joeycumines/logiface"
)

const (
	// DefaultPollInterval is how often Pause checks for loops that have not
	// yet acknowledged the pause request.
	DefaultPollInterval = time.Millisecond

	// DefaultTimeout bounds how long Pause waits for every loop.
	DefaultTimeout = 2 * time.Second
)

// ErrPauseTimeout is returned by Pause when one or more loops did not
// acknowledge the pause in time. The registry is still marked paused.
var ErrPauseTimeout = errors.New("suspend: timed out waiting for loops to pause")

// Orchestrator pauses and resumes the loops of a registry, as a unit.
type Orchestrator struct {
	registry     *eventloop.Registry
	logger       *logiface.Logger[logiface.Event]
	quit         func()
	stop         func() error
	pollInterval time.Duration
	timeout      time.Duration

	mu     sync.Mutex
	paused bool
	cycle  uuid.UUID
	cycles int
}

type options struct {
	logger       *logiface.Logger[logiface.Event]
	quit         func()
	stop         func() error
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures an Orchestrator.
type Option interface {
	apply(*options) error
}

type optionImpl struct {
	applyFunc func(*options) error
}

func (o *optionImpl) apply(opts *options) error {
	return o.applyFunc(opts)
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		if d <= 0 {
			return fmt.Errorf("suspend: poll interval must be positive, got %s", d)
		}
		opts.pollInterval = d
		return nil
	}}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		if d <= 0 {
			return fmt.Errorf("suspend: timeout must be positive, got %s", d)
		}
		opts.timeout = d
		return nil
	}}
}

// WithQuit sets the function called on an interrupt or terminate signal.
func WithQuit(fn func()) Option {
	return &optionImpl{func(opts *options) error {
		opts.quit = fn
		return nil
	}}
}

// WithStopProcess replaces the function called after pausing in response
// to a terminal stop signal. The default stops the current process.
func WithStopProcess(fn func() error) Option {
	return &optionImpl{func(opts *options) error {
		opts.stop = fn
		return nil
	}}
}

// New returns an Orchestrator for the given registry.
func New(registry *eventloop.Registry, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("suspend: nil registry")
	}
	cfg := options{
		stop:         stopProcess,
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}
	return &Orchestrator{
		registry:     registry,
		logger:       cfg.logger,
		quit:         cfg.quit,
		stop:         cfg.stop,
		pollInterval: cfg.pollInterval,
		timeout:      cfg.timeout,
	}, nil
}

// Pause requests that every loop pause, then waits until each has run its
// pause callbacks. It is a no-op while already paused.
//
// On timeout the loops that failed to pause are logged, and ErrPauseTimeout
// is returned. Callers are expected to proceed regardless.
func (x *Orchestrator) Pause(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.paused {
		return nil
	}
	x.paused = true
	x.cycle = uuid.New()
	x.cycles++

	start := time.Now()
	x.registry.SetThreadsPaused(true)

	deadline := time.NewTimer(x.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(x.pollInterval)
	defer ticker.Stop()

	for {
		pausing := x.registry.GetStillPausingThreads()
		if len(pausing) == 0 {
			x.logger.Info().
				Str("cycle", x.cycle.String()).
				Dur("elapsed", time.Since(start)).
				Log("suspend: all loops paused")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			names := loopNames(pausing)
			x.logger.Err().
				Str("cycle", x.cycle.String()).
				Str("loops", names).
				Dur("timeout", x.timeout).
				Log("suspend: loops failed to pause")
			return fmt.Errorf("%w: %s", ErrPauseTimeout, names)
		case <-ticker.C:
		}
	}
}

// Resume requests that every loop resume. It does not wait. It is a no-op
// unless paused.
func (x *Orchestrator) Resume() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.paused {
		return
	}
	x.paused = false
	x.registry.SetThreadsPaused(false)
	x.logger.Info().
		Str("cycle", x.cycle.String()).
		Log("suspend: loops resumed")
}

// Paused reports whether Pause was called without a subsequent Resume.
func (x *Orchestrator) Paused() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.paused
}

// Cycle returns the id of the most recent pause cycle, or [uuid.Nil].
func (x *Orchestrator) Cycle() uuid.UUID {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cycle
}

// Cycles returns the number of pause cycles started.
func (x *Orchestrator) Cycles() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cycles
}

func loopNames(loops []*eventloop.EventLoop) string {
	names := make([]string, len(loops))
	for i, l := range loops {
		names[i] = l.Name()
	}
	return strings.Join(names, ",")
}
