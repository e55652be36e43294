// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package engine assembles the subsystem loops of an application: one
// thread per configured loop, the main loop driven by the caller, a script
// host on the logic loop, and a datagram reader feeding it.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-engineloop/eventloop"
	"github.com/joeycumines/go-engineloop/script"
	"github.com/joeycumines/go-engineloop/suspend"
	"github.com/joeycumines/logiface"
)

// ErrNetworkDisabled is returned when sending without a configured socket.
var ErrNetworkDisabled = errors.New("engine: network disabled")

// Engine owns every loop of the application.
type Engine struct {
	cfg      Config
	logger   *logiface.Logger[logiface.Event]
	input    io.Reader
	registry *eventloop.Registry
	lock     *eventloop.InterpreterLock
	main     *eventloop.EventLoop
	suspend  *suspend.Orchestrator
	script   *script.Host
	net      *NetReader

	// own-thread loops, in creation order
	loops []*eventloop.EventLoop

	stdinMu sync.Mutex
	stdin   *eventloop.EventLoop
	closed  bool

	datagrams atomic.Uint64
	dropped   atomic.Uint64

	shutdownOnce sync.Once
	shutdownErr  error
}

type options struct {
	logger *logiface.Logger[logiface.Event]
	input  io.Reader
}

// Option configures an Engine.
type Option func(*options)

// WithLogger replaces the logger built from the config.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(opts *options) { opts.logger = logger }
}

// WithInput replaces os.Stdin as the source of lines for the stdin loop.
func WithInput(r io.Reader) Option {
	return func(opts *options) { opts.input = r }
}

// New validates cfg, then starts every configured loop. On error, anything
// already started is shut down.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{input: os.Stdin}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		logger, err := NewLogger(cfg.Log, os.Stderr)
		if err != nil {
			return nil, err
		}
		o.logger = logger
	}

	e := &Engine{
		cfg:      cfg,
		logger:   o.logger,
		input:    o.input,
		registry: eventloop.NewRegistry(o.logger),
		lock:     eventloop.NewInterpreterLock(o.logger),
	}
	if err := e.start(); err != nil {
		_ = e.Shutdown(context.Background())
		return nil, err
	}
	return e, nil
}

func (e *Engine) start() error {
	for id := eventloop.IDLogic; id.Valid(); id++ {
		if id == eventloop.IDMain || id == eventloop.IDStdin {
			continue
		}
		if _, ok := e.cfg.Loops[id.String()]; !ok {
			continue
		}
		loop, err := e.newLoop(id, eventloop.SourceNewThread)
		if err != nil {
			return err
		}
		e.loops = append(e.loops, loop)
	}

	main, err := e.newLoop(eventloop.IDMain, eventloop.SourceExternal)
	if err != nil {
		return err
	}
	e.main = main

	e.suspend, err = suspend.New(e.registry,
		suspend.WithLogger(e.logger),
		suspend.WithTimeout(e.cfg.Suspend.Timeout),
		suspend.WithPollInterval(e.cfg.Suspend.PollInterval),
		suspend.WithQuit(func() { _ = e.Quit() }),
	)
	if err != nil {
		return err
	}

	if logic := e.Loop(eventloop.IDLogic); logic != nil {
		if err := e.startScript(logic); err != nil {
			return err
		}
	}

	if e.cfg.Network.Listen != "" {
		if err := e.startNet(); err != nil {
			return err
		}
	}

	if e.cfg.Script != "" {
		if err := e.LoadScript(e.cfg.Script); err != nil {
			return err
		}
	}

	e.logger.Info().
		Int("loops", len(e.loops)+1).
		Log("engine started")
	return nil
}

func (e *Engine) newLoop(id eventloop.ID, source eventloop.Source) (*eventloop.EventLoop, error) {
	opts, lock := e.cfg.loopOptions(id)
	opts = append(opts,
		eventloop.WithLogger(e.logger),
		eventloop.WithRegistry(e.registry),
	)
	if lock {
		opts = append(opts, eventloop.WithInterpreterLock(e.lock))
	}
	loop, err := eventloop.New(id, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create %s loop: %w", id, err)
	}
	return loop, nil
}

func (e *Engine) startScript(logic *eventloop.EventLoop) error {
	host, err := script.New(logic, script.WithLogger(e.logger))
	if err != nil {
		return err
	}
	e.script = host
	if err := host.Set("quit", func() { _ = e.Quit() }); err != nil {
		return err
	}
	return host.Set("send", e.Send)
}

// startNet opens the socket, and arranges for it to be closed while paused.
// The callbacks run on the network write loop, which owns writes.
func (e *Engine) startNet() error {
	logic := e.Loop(eventloop.IDLogic)
	writer := e.Loop(eventloop.IDNetworkWrite)

	reader, err := NewNetReader(e.cfg.Network.Listen, e.cfg.Network.MaxDatagram, func(payload []byte, from net.Addr) {
		if !logic.PushBestEffort(func() { e.onDatagram(payload, from) }) {
			e.dropped.Add(1)
		}
	}, e.logger)
	if err != nil {
		return err
	}
	e.net = reader

	if err := writer.PushCallSynchronous(func() {
		writer.AddPauseCallback(eventloop.RunnableFunc(reader.Pause))
		writer.AddResumeCallback(eventloop.RunnableFunc(func() {
			if err := reader.Resume(); err != nil {
				e.logger.Err().Err(err).Log("engine: network unavailable after resume")
			}
		}))
	}); err != nil {
		return err
	}

	reader.Start()
	e.logger.Info().
		Str("addr", reader.Addr().String()).
		Log("engine: listening")
	return nil
}

// onDatagram runs on the logic loop.
func (e *Engine) onDatagram(payload []byte, from net.Addr) {
	e.datagrams.Add(1)
	if e.script != nil {
		_ = e.script.CallGlobal("onDatagram", from.String(), string(payload))
	}
}

// Send writes text to addr from the engine's socket. The write happens on
// the network write loop. Only errors resolving the address, or pushing
// the write, are returned.
func (e *Engine) Send(addr string, text string) error {
	if e.net == nil {
		return ErrNetworkDisabled
	}
	to, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	payload := []byte(text)
	return e.Loop(eventloop.IDNetworkWrite).PushCall(func() {
		if err := e.net.WriteTo(payload, to); err != nil {
			e.logger.Debug().
				Err(err).
				Str("to", addr).
				Log("engine: dropped datagram")
		}
	})
}

// LoadScript evaluates the file at path on the logic loop.
func (e *Engine) LoadScript(path string) error {
	if e.script == nil {
		return errors.New("engine: no script host")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("engine: failed to read script: %w", err)
	}
	if _, err := e.script.Eval(string(src)); err != nil {
		return fmt.Errorf("engine: script %s: %w", path, err)
	}
	return nil
}

// Stdin returns the stdin loop, creating it on first use. Lines read from
// the engine's input are passed to the script's onStdin function.
func (e *Engine) Stdin() (*eventloop.EventLoop, error) {
	e.stdinMu.Lock()
	defer e.stdinMu.Unlock()
	if e.stdin != nil {
		return e.stdin, nil
	}
	if e.closed {
		return nil, eventloop.ErrLoopTerminated
	}
	loop, err := e.newLoop(eventloop.IDStdin, eventloop.SourceNewThread)
	if err != nil {
		return nil, err
	}
	e.stdin = loop
	if e.input != nil {
		go e.readInput(loop, e.input)
	}
	return loop, nil
}

func (e *Engine) readInput(loop *eventloop.EventLoop, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if err := loop.PushCall(func() { e.onStdin(line) }); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warning().Err(err).Log("engine: stdin read failed")
	}
}

// onStdin runs on the stdin loop.
func (e *Engine) onStdin(line string) {
	if e.script != nil {
		_ = e.script.CallGlobal("onStdin", line)
	}
}

// Run drives the main loop on the calling goroutine until Quit, or ctx is
// done. Host signals are handled meanwhile, if enabled, and the stdin loop
// is started first if configured.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Stdin {
		if _, err := e.Stdin(); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if e.cfg.Suspend.Signals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.suspend.Watch(ctx)
		}()
	}
	err := e.main.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Quit asks the main loop to stop, which returns control from Run.
func (e *Engine) Quit() error {
	return e.main.Quit()
}

// Shutdown stops the socket, the script host and every loop, waiting for
// each to terminate or ctx to be done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		var errs []error
		if e.net != nil {
			errs = append(errs, e.net.Close())
		}
		if e.script != nil {
			errs = append(errs, e.script.Close())
		}

		e.stdinMu.Lock()
		e.closed = true
		stdin := e.stdin
		e.stdinMu.Unlock()
		if stdin != nil {
			errs = append(errs, stdin.Shutdown(ctx))
		}

		for i := len(e.loops) - 1; i >= 0; i-- {
			errs = append(errs, e.loops[i].Shutdown(ctx))
		}
		if e.main != nil {
			errs = append(errs, e.main.Shutdown(ctx))
		}
		e.shutdownErr = errors.Join(errs...)
		e.logger.Info().Log("engine stopped")
	})
	return e.shutdownErr
}

// Loop returns the loop with the given id, other than stdin, or nil.
func (e *Engine) Loop(id eventloop.ID) *eventloop.EventLoop {
	if id == eventloop.IDMain {
		return e.main
	}
	for _, l := range e.loops {
		if l.ID() == id {
			return l
		}
	}
	return nil
}

// Main returns the main loop.
func (e *Engine) Main() *eventloop.EventLoop { return e.main }

// Registry returns the registry every loop belongs to.
func (e *Engine) Registry() *eventloop.Registry { return e.registry }

// InterpreterLock returns the lock shared by the loops configured to hold it.
func (e *Engine) InterpreterLock() *eventloop.InterpreterLock { return e.lock }

// Suspender returns the pause orchestrator.
func (e *Engine) Suspender() *suspend.Orchestrator { return e.suspend }

// Script returns the script host, nil without a logic loop.
func (e *Engine) Script() *script.Host { return e.script }

// Net returns the datagram reader, nil unless configured.
func (e *Engine) Net() *NetReader { return e.net }

// Datagrams returns the number of datagrams delivered to the logic loop.
func (e *Engine) Datagrams() uint64 { return e.datagrams.Load() }

// Dropped returns the number of datagrams dropped due to backlog.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

// Metrics returns a snapshot for each registered loop, keyed by name.
func (e *Engine) Metrics() map[string]eventloop.Metrics {
	loops := e.registry.Loops()
	m := make(map[string]eventloop.Metrics, len(loops))
	for _, l := range loops {
		m[l.Name()] = l.Metrics()
	}
	return m
}
