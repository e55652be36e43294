// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package engine

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

const (
	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

var (
	readWarningsOnce sync.Once
	readWarnings     *catrate.Limiter
)

// allowReadWarning limits read failure warnings to one per second, and ten
// per minute, per reader.
func allowReadWarning(x *NetReader) bool {
	readWarningsOnce.Do(func() {
		readWarnings = catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		})
	})
	_, ok := readWarnings.Allow(x)
	return ok
}

// ErrNetPaused is returned when writing while the socket is closed for a
// pause.
var ErrNetPaused = errors.New("engine: network paused")

// NetReader owns a UDP socket, reading datagrams on its own goroutine and
// passing each to a handler. Pause closes the socket, Resume reopens it on
// the same address.
type NetReader struct {
	logger  *logiface.Logger[logiface.Event]
	handler func(payload []byte, from net.Addr)
	reopen  chan struct{}
	done    chan struct{}

	// must be held during any change to conn, or write to it
	mu      sync.Mutex
	conn    net.PacketConn
	local   net.Addr
	started bool
	stopped bool

	maxDatagram int
	received    atomic.Uint64
	pauses      atomic.Uint64
	readErrors  atomic.Uint64
}

// NewNetReader listens on addr. Reading starts with Start.
func NewNetReader(addr string, maxDatagram int, handler func(payload []byte, from net.Addr), logger *logiface.Logger[logiface.Event]) (*NetReader, error) {
	if handler == nil {
		return nil, errors.New("engine: nil datagram handler")
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to listen: %w", err)
	}
	return &NetReader{
		logger:      logger,
		handler:     handler,
		reopen:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		conn:        conn,
		local:       conn.LocalAddr(),
		maxDatagram: maxDatagram,
	}, nil
}

// Start begins reading.
func (x *NetReader) Start() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.started || x.stopped {
		return
	}
	x.started = true
	go x.readLoop()
}

// Addr returns the bound address, which is stable across pauses.
func (x *NetReader) Addr() net.Addr {
	return x.local
}

// Received returns the number of datagrams read.
func (x *NetReader) Received() uint64 {
	return x.received.Load()
}

// ReadErrors returns the number of failed reads, other than those caused by
// closing the socket.
func (x *NetReader) ReadErrors() uint64 {
	return x.readErrors.Load()
}

// Open reports whether the socket is currently open.
func (x *NetReader) Open() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.conn != nil
}

// Pause closes the socket. It is safe to call repeatedly.
func (x *NetReader) Pause() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn == nil {
		return
	}
	x.pauses.Add(1)
	if err := x.conn.Close(); err != nil {
		x.logger.Warning().Err(err).Log("net: close failed")
	}
	x.conn = nil
	x.logger.Debug().Log("net: socket closed for pause")
}

// Resume reopens the socket, if paused.
func (x *NetReader) Resume() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn != nil || x.stopped {
		return nil
	}
	conn, err := net.ListenPacket(x.local.Network(), x.local.String())
	if err != nil {
		return fmt.Errorf("engine: failed to reopen socket: %w", err)
	}
	x.conn = conn
	x.signal()
	x.logger.Debug().Log("net: socket reopened")
	return nil
}

// WriteTo sends a datagram from the socket.
func (x *NetReader) WriteTo(payload []byte, to net.Addr) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn == nil {
		if x.stopped {
			return net.ErrClosed
		}
		return ErrNetPaused
	}
	_, err := x.conn.WriteTo(payload, to)
	return err
}

// Close stops reading, and closes the socket, waiting for the read loop to
// exit.
func (x *NetReader) Close() error {
	x.mu.Lock()
	if x.stopped {
		x.mu.Unlock()
		return nil
	}
	x.stopped = true
	var err error
	if x.conn != nil {
		err = x.conn.Close()
		x.conn = nil
	}
	x.signal()
	started := x.started
	x.mu.Unlock()
	if started {
		<-x.done
	}
	return err
}

func (x *NetReader) signal() {
	select {
	case x.reopen <- struct{}{}:
	default:
	}
}

func (x *NetReader) readLoop() {
	defer close(x.done)
	buf := make([]byte, x.maxDatagram)
	var backoff time.Duration
	for {
		x.mu.Lock()
		conn, stopped := x.conn, x.stopped
		x.mu.Unlock()

		if stopped {
			return
		}
		if conn == nil {
			<-x.reopen
			continue
		}

		n, from, err := conn.ReadFrom(buf)
		if errors.Is(err, net.ErrClosed) {
			x.mu.Lock()
			if x.conn == conn {
				// closed by something other than Pause or Close
				x.conn = nil
			}
			x.mu.Unlock()
			continue
		}
		if err != nil {
			x.readErrors.Add(1)
			backoff = min(max(backoff*2, minReadBackoff), maxReadBackoff)
			if allowReadWarning(x) {
				x.logger.Warning().
					Err(err).
					Dur("backoff", backoff).
					Log("net: read failed")
			}
			x.sleep(backoff)
			continue
		}
		backoff = 0

		x.received.Add(1)
		x.handler(bytes.Clone(buf[:n]), from)
	}
}

// sleep waits for d, returning early on Close, Pause or Resume.
func (x *NetReader) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-x.reopen:
	}
}
