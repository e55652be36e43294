// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-engineloop/internal/osthread"
	"github.com/joeycumines/logiface"
)

// maxDrainRounds bounds the shutdown drain, against runnables that keep
// rescheduling themselves.
const maxDrainRounds = 64

// pausedFloodInterval is the number of messages received while paused
// between backlog warnings.
const pausedFloodInterval = 1000

// loopKeyCounter generates process-unique loop keys.
var loopKeyCounter atomic.Uint64

// EventLoop is a per-thread dispatch loop, see the package documentation.
type EventLoop struct { // betteralign:ignore
	_ [0]func() // prevent copying

	state FastState

	logger   *logiface.Logger[logiface.Event]
	registry *Registry
	lock     *InterpreterLock
	metrics  *metricsRecorder
	fatal    func(error)

	// terminated is closed once the loop has fully shut down
	terminated chan struct{}

	// wake is signalled after each mailbox push, it is 1-buffered so a push
	// racing with the loop starting to wait is never lost
	wake chan struct{}

	name string

	// mailbox, guarded by mu
	messages mailbox
	mu       sync.Mutex
	closed   bool

	// loop thread state
	local           localList
	timers          *TimerList
	pauseCallbacks  []*Shared
	resumeCallbacks []*Shared
	drainBuf        []threadMessage
	paused          bool
	done            bool
	dispatching     bool
	localClosed     bool

	key             uint64
	safetyThreshold int
	cpu             int

	goroutineID atomic.Uint64
	threadID    atomic.Int64

	// driven is set while an external loop is inside Run or RunOnce, or
	// being rebound
	driven atomic.Bool

	pausedFlag          atomic.Bool
	wantPaused          atomic.Bool
	doneFlag            atomic.Bool
	quitRequested       atomic.Bool
	pauseRequestSeq     atomic.Uint64
	pauseAckSeq         atomic.Uint64
	lastPauseTime       atomic.Int64
	messagesSincePaused atomic.Int64

	finishOnce sync.Once

	id     ID
	source Source
}

// New initializes an EventLoop. [SourceNewThread] loops start their thread,
// and begin running, before New returns. [SourceExternal] loops must be
// driven by the caller, via [EventLoop.Run] or [EventLoop.RunOnce].
func New(id ID, source Source, opts ...LoopOption) (*EventLoop, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("eventloop: invalid loop id %d", uint8(id))
	}
	if source != SourceNewThread && source != SourceExternal {
		return nil, fmt.Errorf("eventloop: invalid loop source %d", uint8(source))
	}

	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	name := cfg.name
	if name == "" {
		name = id.String()
	}

	l := &EventLoop{
		terminated:      make(chan struct{}),
		wake:            make(chan struct{}, 1),
		name:            name,
		registry:        cfg.registry,
		lock:            cfg.lock,
		local:           newLocalList(),
		key:             loopKeyCounter.Add(1),
		safetyThreshold: cfg.safetyThreshold,
		cpu:             cfg.cpu,
		id:              id,
		source:          source,
	}
	l.logger = childLogger(cfg.logger, name)
	l.timers = NewTimerList(nil, l.logger)
	if cfg.metricsEnabled {
		l.metrics = &metricsRecorder{}
	}
	l.fatal = cfg.fatal
	if l.fatal == nil {
		l.fatal = defaultFatalHandler(l.logger)
	}

	if l.registry != nil {
		l.registry.register(l)
	}

	if source == SourceNewThread {
		ready := make(chan struct{})
		go l.threadMain(ready)
		<-ready
	}

	l.logger.Debug().
		Str("source", source.String()).
		Log("event loop created")

	return l, nil
}

// threadMain is the body of every [SourceNewThread] loop.
func (l *EventLoop) threadMain(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.bind()
	if l.cpu >= 0 {
		if err := osthread.SetAffinity(l.cpu); err != nil {
			l.logger.Warning().
				Err(err).
				Int("cpu", l.cpu).
				Log("failed to set thread affinity")
		}
	}
	l.state.Store(StateRunning)
	close(ready)

	defer l.recoverFatal()
	for !l.done {
		l.iterate(true)
	}
	l.finish()
}

// Run drives a [SourceExternal] loop on the calling goroutine, which is
// locked to its OS thread for the duration, until it is shut down, or ctx
// is done, in which case ctx.Err() is returned.
func (l *EventLoop) Run(ctx context.Context) error {
	if l.source != SourceExternal {
		return ErrNotExternal
	}
	if l.IsCurrentThread() && l.dispatching {
		return ErrReentrantRun
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.IsCurrentThread() && l.state.IsRunning() {
			// previously driven via RunOnce
		} else if l.state.Load() >= StateTerminating {
			return ErrLoopTerminated
		} else {
			return ErrLoopAlreadyRunning
		}
	}

	if !l.driven.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	defer l.driven.Store(false)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	l.bind()

	stop := context.AfterFunc(ctx, func() { _ = l.Quit() })
	defer stop()

	func() {
		defer l.recoverFatal()
		for !l.done {
			l.iterate(true)
		}
		l.finish()
	}()

	return ctx.Err()
}

// RunOnce performs a single, non-blocking iteration of a [SourceExternal]
// loop, returning the number of runnables, timers and messages processed.
// The first call binds the loop to the calling thread.
func (l *EventLoop) RunOnce() (int, error) {
	if l.source != SourceExternal {
		return 0, ErrNotExternal
	}
	if l.state.TryTransition(StateAwake, StateRunning) {
		l.bind()
	}
	switch {
	case l.state.Load() >= StateTerminating:
		return 0, ErrLoopTerminated
	case !l.IsCurrentThread():
		return 0, ErrWrongThread
	case l.dispatching:
		return 0, ErrReentrantRun
	case !l.driven.CompareAndSwap(false, true):
		return 0, ErrLoopAlreadyRunning
	}
	defer l.driven.Store(false)

	var n int
	func() {
		defer l.recoverFatal()
		n = l.iterate(false)
		if l.done {
			l.finish()
		}
	}()
	return n, nil
}

// RebindThread binds a [SourceExternal] loop to the calling thread, for
// when the platform replaces the thread that drives it. Later calls to Run
// and RunOnce must come from the new thread. It fails while the loop is
// being driven, or once it has begun terminating.
func (l *EventLoop) RebindThread() error {
	if l.source != SourceExternal {
		return ErrNotExternal
	}
	if l.IsCurrentThread() && l.dispatching {
		return ErrReentrantRun
	}
	if !l.driven.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	defer l.driven.Store(false)
	if l.state.Load() >= StateTerminating {
		return ErrLoopTerminated
	}
	l.state.TryTransition(StateAwake, StateRunning)
	l.bind()
	l.logger.Debug().
		Int64("thread", l.threadID.Load()).
		Log("event loop rebound")
	return nil
}

// Quit requests shutdown, and returns immediately. The loop finishes its
// current batch, then runs everything already queued before terminating.
// Repeated calls are no-ops.
func (l *EventLoop) Quit() error {
	if !l.quitRequested.CompareAndSwap(false, true) {
		return nil
	}
	if err := l.pushMessage(threadMessage{kind: messageShutdown}); err != nil {
		return err
	}
	l.logger.Debug().Log("shutdown requested")
	return nil
}

// Shutdown calls Quit, then waits for the loop to terminate, or ctx to be
// done. A [SourceExternal] loop that has never been run terminates
// immediately, discarding any queued work, and one called from its bound
// thread, between iterations, is drained inline.
func (l *EventLoop) Shutdown(ctx context.Context) error {
	if l.IsCurrentThread() {
		if l.dispatching || l.source != SourceExternal {
			return ErrReentrantRun
		}
		// the owner of an external loop, between iterations
		if err := l.Quit(); err != nil {
			return err
		}
		defer l.recoverFatal()
		for !l.done {
			l.iterate(false)
		}
		l.finish()
		return nil
	}

	if l.state.TryTransition(StateAwake, StateTerminating) {
		l.quitRequested.Store(true)
		l.abandon()
		return nil
	}

	if err := l.Quit(); err != nil && err != ErrLoopTerminated {
		return err
	}

	select {
	case <-l.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminated returns a channel that is closed once the loop has fully shut
// down.
func (l *EventLoop) Terminated() <-chan struct{} {
	return l.terminated
}

// PushRunnable transfers r to the loop, to be run exactly once, after
// which it is released, see [Releaser].
//
// Cross-thread pushes from a single goroutine run in push order. Pushes from
// the loop's own thread skip the mailbox, and run later in the current
// iteration or early in the next.
func (l *EventLoop) PushRunnable(r Runnable) error {
	if r == nil {
		return ErrNilRunnable
	}
	return l.push(newUnique(r), nil)
}

// PushCall is [EventLoop.PushRunnable] for a plain function.
func (l *EventLoop) PushCall(fn func()) error {
	if fn == nil {
		return ErrNilRunnable
	}
	return l.PushRunnable(RunnableFunc(fn))
}

// PushRunnableSynchronous pushes r, then blocks until it has run, returning
// any panic as a [*PanicError]. If the caller holds the loop's
// [InterpreterLock], it is fully released while waiting, then restored.
//
// It must not be called from the target loop's own thread.
func (l *EventLoop) PushRunnableSynchronous(r Runnable) error {
	if r == nil {
		return ErrNilRunnable
	}
	if l.IsCurrentThread() {
		return ErrSynchronousSelfPush
	}

	done := newCompletion()
	if err := l.push(newUnique(r), done); err != nil {
		return err
	}

	if depth := l.lock.releaseAll(); depth != 0 {
		defer l.lock.restore(depth)
	}

	<-done.ch
	return done.err
}

// PushCallSynchronous is [EventLoop.PushRunnableSynchronous] for a plain
// function.
func (l *EventLoop) PushCallSynchronous(fn func()) error {
	if fn == nil {
		return ErrNilRunnable
	}
	return l.PushRunnableSynchronous(RunnableFunc(fn))
}

// CheckPushSafety reports whether the loop's pending work is below its
// safety threshold. Producers of optional work should check it, and drop
// the work when it reports false, see [EventLoop.PushBestEffort].
func (l *EventLoop) CheckPushSafety() bool {
	if l.IsCurrentThread() {
		return l.local.Len() < l.safetyThreshold
	}
	l.mu.Lock()
	n := l.messages.Len()
	l.mu.Unlock()
	return n < l.safetyThreshold
}

// PushBestEffort pushes fn if [EventLoop.CheckPushSafety] allows it,
// reporting whether it was accepted.
func (l *EventLoop) PushBestEffort(fn func()) bool {
	if !l.CheckPushSafety() {
		if l.metrics != nil {
			l.metrics.recordDropped()
		}
		if allowFlood(floodCategory{kind: "dropped", loop: l.key}) {
			l.logger.Warning().Log("loop backlogged, dropping best effort work")
		}
		return false
	}
	return l.PushCall(fn) == nil
}

// PushSetPaused requests that the loop pause or resume. Pause requests are
// handled in order with other messages, so everything already queued runs
// first. See [Registry.GetStillPausingThreads].
func (l *EventLoop) PushSetPaused(paused bool) error {
	if !paused {
		l.wantPaused.Store(false)
		return l.pushMessage(threadMessage{kind: messageResume})
	}
	seq := l.pauseRequestSeq.Add(1)
	l.wantPaused.Store(true)
	return l.pushMessage(threadMessage{kind: messagePause, seq: seq})
}

// AddPauseCallback registers r to run on the loop's thread each time it
// pauses, before it reports itself paused. It must be called on the loop's
// own thread, calls from other threads are logged, then marshalled to it.
func (l *EventLoop) AddPauseCallback(r Runnable) {
	l.addCallback(r, true)
}

// AddResumeCallback registers r to run on the loop's thread each time it
// resumes. Like AddPauseCallback, it must be called on the loop's thread.
func (l *EventLoop) AddResumeCallback(r Runnable) {
	l.addCallback(r, false)
}

func (l *EventLoop) addCallback(r Runnable, pause bool) {
	if r == nil {
		return
	}
	s := shareRunnable(r)
	if !l.IsCurrentThread() {
		l.logger.Err().
			Bool("pause", pause).
			Log("callback registered from outside the loop's thread")
		if err := l.PushCall(func() { l.appendCallback(s, pause) }); err != nil {
			s.Release()
		}
		return
	}
	l.appendCallback(s, pause)
}

func (l *EventLoop) appendCallback(s *Shared, pause bool) {
	if l.localClosed {
		s.Release()
		return
	}
	if pause {
		l.pauseCallbacks = append(l.pauseCallbacks, s)
	} else {
		l.resumeCallbacks = append(l.resumeCallbacks, s)
	}
}

// NewTimer schedules r via the loop's [TimerList]. It must be called on the
// loop's thread, returning nil otherwise.
func (l *EventLoop) NewTimer(length Microsecs, repeat bool, r Runnable) *Timer {
	if !l.checkThread("NewTimer") {
		return nil
	}
	return l.timers.NewTimer(length, repeat, r)
}

// GetTimer must be called on the loop's thread, returning nil otherwise.
func (l *EventLoop) GetTimer(id int) *Timer {
	if !l.checkThread("GetTimer") {
		return nil
	}
	return l.timers.GetTimer(id)
}

// DeleteTimer must be called on the loop's thread, returning false
// otherwise.
func (l *EventLoop) DeleteTimer(id int) bool {
	if !l.checkThread("DeleteTimer") {
		return false
	}
	return l.timers.DeleteTimer(id)
}

func (l *EventLoop) checkThread(op string) bool {
	if l.IsCurrentThread() {
		return true
	}
	l.logger.Err().
		Str("op", op).
		Log("thread-affine call from outside the loop's thread")
	return false
}

func (l *EventLoop) ID() ID { return l.id }

func (l *EventLoop) Name() string { return l.name }

func (l *EventLoop) Source() Source { return l.source }

// OwnsThread reports whether the loop spawned its own thread.
func (l *EventLoop) OwnsThread() bool { return l.source == SourceNewThread }

func (l *EventLoop) State() LoopState { return l.state.Load() }

// Paused reports whether the loop has processed a pause request, and not
// yet resumed.
func (l *EventLoop) Paused() bool { return l.pausedFlag.Load() }

// Done reports whether the loop has processed a shutdown request.
func (l *EventLoop) Done() bool { return l.doneFlag.Load() }

// AcquiresInterpreterLock reports whether the loop holds an
// [InterpreterLock] while processing work.
func (l *EventLoop) AcquiresInterpreterLock() bool { return l.lock != nil }

// InterpreterLock returns the loop's lock, which may be nil.
func (l *EventLoop) InterpreterLock() *InterpreterLock { return l.lock }

// LastPauseTime returns when the loop last paused, or the zero time.
func (l *EventLoop) LastPauseTime() time.Time {
	if v := l.lastPauseTime.Load(); v != 0 {
		return time.Unix(0, v)
	}
	return time.Time{}
}

// MessagesSincePaused returns the number of messages received since the
// loop last paused, while paused.
func (l *EventLoop) MessagesSincePaused() int64 { return l.messagesSincePaused.Load() }

// ThreadID returns the OS thread id the loop is bound to, or 0 if unbound,
// or not supported on this platform.
func (l *EventLoop) ThreadID() int64 { return l.threadID.Load() }

// IsCurrentThread reports whether the caller is running on the loop's
// thread.
func (l *EventLoop) IsCurrentThread() bool {
	gid := l.goroutineID.Load()
	return gid != 0 && gid == osthread.GoroutineID()
}

// Metrics returns a snapshot of the loop's metrics, or the zero value if
// they were not enabled via [WithMetrics].
func (l *EventLoop) Metrics() Metrics {
	if l.metrics == nil {
		return Metrics{}
	}
	return l.metrics.snapshot()
}

func (l *EventLoop) bind() {
	l.goroutineID.Store(osthread.GoroutineID())
	l.threadID.Store(osthread.ThreadID())
}

// push enqueues a runnable, via the local list if called on the loop's
// thread, otherwise via the mailbox.
func (l *EventLoop) push(task *unique, done *completion) error {
	if l.IsCurrentThread() {
		if l.localClosed {
			return ErrLoopTerminated
		}
		l.local.Add(localTask{task: task, done: done})
		return nil
	}
	return l.pushMessage(threadMessage{kind: messageRunnable, task: task, done: done})
}

func (l *EventLoop) pushMessage(msg threadMessage) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.messages.Push(msg)
	depth := l.messages.Len()
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	if depth >= l.safetyThreshold && allowFlood(floodCategory{kind: "backlog", loop: l.key}) {
		l.logger.Warning().
			Int("depth", depth).
			Log("loop mailbox backlogged")
	}

	return nil
}

// iterate performs one pass of the loop, optionally waiting for work first.
func (l *EventLoop) iterate(block bool) int {
	l.dispatching = true
	defer func() { l.dispatching = false }()

	if block {
		l.wait()
	}

	if l.lock != nil {
		l.lock.Lock()
		defer l.lock.Unlock()
	}

	messages, n := l.processMessages()

	var timers int
	if !l.paused && !l.done {
		timers = l.timers.Run()
	}

	local := l.local.Len()
	n += l.runLocal()

	if l.metrics != nil {
		l.metrics.recordIteration(messages, local, timers)
	}

	return n + messages + timers
}

// wait blocks until there is something to do: a message, a due timer, or
// pending local work.
func (l *EventLoop) wait() {
	if l.local.Len() != 0 {
		return
	}

	timeout := time.Duration(-1)
	if !l.paused {
		if d, ok := l.timers.TimeToNextExpire(); ok {
			if d <= 0 {
				return
			}
			timeout = d.Duration()
		}
	}

	l.mu.Lock()
	pending := l.messages.Len() != 0
	l.mu.Unlock()
	if pending {
		select {
		case <-l.wake:
		default:
		}
		return
	}

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}
	defer l.state.TryTransition(StateSleeping, StateRunning)

	if timeout < 0 {
		<-l.wake
		return
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.wake:
	case <-t.C:
	}
}

// processMessages drains the mailbox, returning the number of messages, and
// the number of runnables run as a side effect of pausing.
func (l *EventLoop) processMessages() (messages, ran int) {
	l.mu.Lock()
	l.drainBuf = l.messages.DrainTo(l.drainBuf[:0])
	l.mu.Unlock()

	buf := l.drainBuf
	for i := range buf {
		msg := buf[i]
		buf[i] = threadMessage{}

		if l.paused {
			if n := l.messagesSincePaused.Add(1); n%pausedFloodInterval == 0 &&
				allowFlood(floodCategory{kind: "paused", loop: l.key}) {
				l.logger.Warning().
					Int64("messages", n).
					Log("loop receiving messages while paused")
			}
		}

		switch msg.kind {
		case messageRunnable:
			l.local.Add(localTask{task: msg.task, done: msg.done})
		case messagePause:
			// everything queued ahead of the request runs first
			ran += l.runLocal()
			l.setPaused(true, msg.seq)
		case messageResume:
			l.setPaused(false, 0)
		case messageShutdown:
			if !l.done {
				l.done = true
				l.doneFlag.Store(true)
				l.state.Store(StateTerminating)
			}
		default:
			l.logger.Err().
				Str("kind", msg.kind.String()).
				Log("unexpected thread message")
		}
	}

	return len(buf), ran
}

func (l *EventLoop) setPaused(paused bool, seq uint64) {
	if paused {
		if !l.paused {
			l.runCallbacks(l.pauseCallbacks)
			l.paused = true
			l.messagesSincePaused.Store(0)
			l.lastPauseTime.Store(time.Now().UnixNano())
			l.pausedFlag.Store(true)
			l.logger.Debug().Log("loop paused")
		}
		for {
			acked := l.pauseAckSeq.Load()
			if seq <= acked || l.pauseAckSeq.CompareAndSwap(acked, seq) {
				break
			}
		}
		return
	}

	if l.paused {
		l.paused = false
		l.pausedFlag.Store(false)
		l.logger.Debug().Log("loop resumed")
		l.runCallbacks(l.resumeCallbacks)
	}
}

// pausePending reports whether there is a pause request the loop has not
// yet acknowledged.
func (l *EventLoop) pausePending() bool {
	return l.wantPaused.Load() && l.pauseAckSeq.Load() < l.pauseRequestSeq.Load()
}

func (l *EventLoop) runCallbacks(callbacks []*Shared) {
	for _, s := range callbacks {
		_ = RunAndLogErrors(l.logger, s)
	}
}

// runLocal runs the runnables on the local list at the time of the call.
func (l *EventLoop) runLocal() int {
	n := l.local.Len()
	for i := 0; i < n; i++ {
		l.runTask(l.local.Remove())
	}
	return n
}

func (l *EventLoop) runTask(t localTask) {
	r := t.task.take()
	if r == nil {
		l.logger.Err().Log("runnable dispatched more than once")
		t.done.finish(nil)
		return
	}

	var start time.Time
	if l.metrics != nil {
		start = time.Now()
	}

	err := RunAndLogErrors(l.logger, r)

	if l.metrics != nil {
		l.metrics.recordRun(time.Since(start), err != nil)
	}

	releaseRunnable(r)
	t.done.finish(err)
}

// finish runs on the loop's thread after the shutdown message, draining
// everything still queued, then closing the loop.
func (l *EventLoop) finish() {
	l.finishOnce.Do(func() {
		l.state.Store(StateTerminating)

		if l.lock != nil {
			l.lock.Lock()
		}
		for round := 0; ; round++ {
			l.processMessages()
			l.runLocal()

			l.mu.Lock()
			if (l.messages.Len() == 0 && l.local.Len() == 0) || round >= maxDrainRounds {
				l.closed = true
				l.localClosed = true
				l.mu.Unlock()
				break
			}
			l.mu.Unlock()
		}
		if n := l.discardQueued(); n != 0 {
			l.logger.Warning().
				Int("count", n).
				Log("discarded runnables still queued at shutdown")
		}
		l.timers.Clear()
		l.releaseCallbacks()
		if l.lock != nil {
			l.lock.Unlock()
		}

		l.terminate()
	})
}

// abandon terminates an external loop that was never run.
func (l *EventLoop) abandon() {
	l.finishOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.localClosed = true
		l.mu.Unlock()
		l.discardQueued()
		l.releaseCallbacks()
		l.terminate()
	})
}

// discardQueued drops everything left after the mailbox was closed,
// failing any synchronous waiters.
func (l *EventLoop) discardQueued() int {
	l.mu.Lock()
	l.drainBuf = l.messages.DrainTo(l.drainBuf[:0])
	l.mu.Unlock()

	var n int
	drop := func(task *unique, done *completion) {
		if r := task.take(); r != nil {
			releaseRunnable(r)
			n++
		}
		done.finish(ErrLoopTerminated)
	}
	for i, msg := range l.drainBuf {
		l.drainBuf[i] = threadMessage{}
		if msg.kind == messageRunnable {
			drop(msg.task, msg.done)
		}
	}
	for l.local.Len() != 0 {
		t := l.local.Remove()
		drop(t.task, t.done)
	}
	return n
}

func (l *EventLoop) releaseCallbacks() {
	for _, s := range l.pauseCallbacks {
		s.Release()
	}
	for _, s := range l.resumeCallbacks {
		s.Release()
	}
	l.pauseCallbacks = nil
	l.resumeCallbacks = nil
}

func (l *EventLoop) terminate() {
	l.done = true
	l.doneFlag.Store(true)
	l.state.Store(StateTerminated)
	if l.registry != nil {
		l.registry.deregister(l)
	}
	l.goroutineID.Store(0)
	close(l.terminated)
	l.logger.Debug().Log("event loop terminated")
}

// recoverFatal handles panics escaping the loop's own machinery, which are
// never expected, runnable panics being recovered individually. If the
// fatal handler returns, the loop is closed without draining.
func (l *EventLoop) recoverFatal() {
	if v := recover(); v != nil {
		l.fatal(fatalError(v))
		l.abandon()
	}
}
