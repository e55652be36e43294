// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package script hosts a goja JavaScript runtime on an event loop.
//
// A goja runtime is not safe for concurrent use, so each [Host] is owned by
// one [eventloop.EventLoop], and every access to the runtime happens on that
// loop's thread. Calls from other threads are pushed to it.
//
// # Available JavaScript Globals
//
//   - setTimeout(callback, delay?, ...args) → timer ID
//   - clearTimeout(id) → undefined
//   - setInterval(callback, delay?, ...args) → timer ID
//   - clearInterval(id) → undefined
//   - pushCall(callback, ...args) → undefined : run later, on the same loop
//   - console.log / info / warn / error / debug
//
// Timers are backed by the loop's [eventloop.TimerList], so they do not fire
// while the loop is paused.
package script

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-engineloop/eventloop"
	"github.com/joeycumines/logiface"
)

// ErrClosed is returned by operations on a closed Host.
var ErrClosed = errors.New("script: host closed")

// Host is a goja runtime bound to an event loop.
type Host struct {
	eventloop.Affine
	runtime *goja.Runtime
	logger  *logiface.Logger[logiface.Event]

	// loop thread only
	refs    map[uint64]goja.Value
	timers  map[int]struct{}
	nextRef uint64
	closed  bool

	held atomic.Int64
}

type options struct {
	logger *logiface.Logger[logiface.Event]
	mapper goja.FieldNameMapper
}

// Option configures a Host.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(opts *options) { f(opts) }

// WithLogger sets the logger, used for console output and for errors thrown
// by callbacks. Nil disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(opts *options) { opts.logger = logger })
}

// WithFieldNameMapper sets how Go struct fields and methods appear in JS.
func WithFieldNameMapper(mapper goja.FieldNameMapper) Option {
	return optionFunc(func(opts *options) { opts.mapper = mapper })
}

// New creates a runtime owned by loop, and binds the globals.
func New(loop *eventloop.EventLoop, opts ...Option) (*Host, error) {
	if loop == nil {
		return nil, errors.New("script: nil loop")
	}
	var cfg options
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&cfg)
		}
	}

	h := &Host{
		Affine: eventloop.NewAffine(loop),
		logger: cfg.logger,
		refs:   make(map[uint64]goja.Value),
		timers: make(map[int]struct{}),
	}
	if c := h.logger.Clone(); c != nil {
		h.logger = c.Str("component", "script").Logger()
	}

	err := h.do(func() {
		h.runtime = goja.New()
		if cfg.mapper != nil {
			h.runtime.SetFieldNameMapper(cfg.mapper)
		}
		h.bind()
	})
	if err != nil {
		return nil, fmt.Errorf("script: failed to create runtime: %w", err)
	}
	return h, nil
}

// do runs fn on the loop's thread, inline if already there, waiting for it
// to finish. The interpreter lock is held while fn runs.
func (h *Host) do(fn func()) error {
	loop := h.Loop()
	if loop.IsCurrentThread() {
		release := loop.InterpreterLock().Scoped()
		defer release()
		return eventloop.RunAndLogErrors(h.logger, eventloop.RunnableFunc(fn))
	}
	return loop.PushCallSynchronous(fn)
}

// Eval runs src, returning the exported completion value.
func (h *Host) Eval(src string) (any, error) {
	var (
		result any
		err    error
	)
	if pushErr := h.do(func() {
		if h.closed {
			err = ErrClosed
			return
		}
		var v goja.Value
		if v, err = h.runtime.RunString(src); err == nil && v != nil {
			result = v.Export()
		}
	}); pushErr != nil {
		return nil, pushErr
	}
	return result, err
}

// Set defines a global. Go functions are callable from JS.
func (h *Host) Set(name string, value any) error {
	var err error
	if pushErr := h.do(func() {
		if h.closed {
			err = ErrClosed
			return
		}
		err = h.runtime.Set(name, value)
	}); pushErr != nil {
		return pushErr
	}
	return err
}

// Do runs fn with the runtime, on the loop's thread, waiting for it.
func (h *Host) Do(fn func(runtime *goja.Runtime)) error {
	var err error
	if pushErr := h.do(func() {
		if h.closed {
			err = ErrClosed
			return
		}
		fn(h.runtime)
	}); pushErr != nil {
		return pushErr
	}
	return err
}

// CallGlobal calls the global function name, if it is defined. It runs
// inline on the loop's thread, otherwise it is pushed, in which case only
// push errors are returned. Errors thrown by the function are logged.
func (h *Host) CallGlobal(name string, args ...any) error {
	loop := h.Loop()
	if !loop.IsCurrentThread() {
		return loop.PushCall(func() { _ = h.callGlobal(name, args) })
	}
	return h.callGlobal(name, args)
}

func (h *Host) callGlobal(name string, args []any) error {
	if h.closed {
		return ErrClosed
	}
	fn, ok := goja.AssertFunction(h.runtime.GlobalObject().Get(name))
	if !ok {
		return nil
	}
	return h.invoke(name, fn, h.values(args))
}

// Held returns the number of values currently held via Hold.
func (h *Host) Held() int {
	return int(h.held.Load())
}

// Close interrupts any running script, cancels the host's timers and drops
// every held value. It waits for the loop to process it, unless the loop has
// terminated.
func (h *Host) Close() error {
	err := h.do(func() {
		if h.closed {
			return
		}
		h.closed = true
		h.runtime.Interrupt(ErrClosed)
		loop := h.Loop()
		for id := range h.timers {
			loop.DeleteTimer(id)
		}
		clear(h.timers)
		clear(h.refs)
		h.held.Store(0)
	})
	if errors.Is(err, eventloop.ErrLoopTerminated) {
		return nil
	}
	return err
}

// invoke calls fn on the loop thread, logging anything it throws.
func (h *Host) invoke(what string, fn goja.Callable, args []goja.Value) error {
	if _, err := fn(goja.Undefined(), args...); err != nil {
		h.logger.Err().
			Err(err).
			Str("callback", what).
			Log("script callback threw")
		return err
	}
	return nil
}

func (h *Host) values(args []any) []goja.Value {
	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = h.runtime.ToValue(arg)
	}
	return values
}
