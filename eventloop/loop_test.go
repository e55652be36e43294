package eventloop

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-engineloop/internal/osthread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T, id ID, opts ...LoopOption) *EventLoop {
	t.Helper()
	loop, err := New(id, SourceNewThread, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, loop.Shutdown(ctx))
	})
	return loop
}

func newExternalLoop(t *testing.T, id ID, opts ...LoopOption) *EventLoop {
	t.Helper()
	loop, err := New(id, SourceExternal, opts...)
	require.NoError(t, err)
	return loop
}

func mailboxLen(l *EventLoop) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.messages.Len()
}

// barrier waits until everything pushed to loop before it has run.
func barrier(t *testing.T, loop *EventLoop) {
	t.Helper()
	require.NoError(t, loop.PushCallSynchronous(func() {}))
}

func TestNew_validation(t *testing.T) {
	_, err := New(IDInvalid, SourceNewThread)
	assert.Error(t, err)
	_, err = New(idCount, SourceNewThread)
	assert.Error(t, err)
	_, err = New(IDLogic, Source(9))
	assert.Error(t, err)
	_, err = New(IDLogic, SourceExternal, WithSafetyThreshold(0))
	assert.Error(t, err)
	_, err = New(IDLogic, SourceExternal, WithCPUAffinity(-1))
	assert.Error(t, err)
}

func TestEventLoop_identity(t *testing.T) {
	loop := newTestLoop(t, IDAudio, WithName("audio-0"))
	assert.Equal(t, IDAudio, loop.ID())
	assert.Equal(t, "audio-0", loop.Name())
	assert.True(t, loop.OwnsThread())
	assert.Equal(t, SourceNewThread, loop.Source())
	assert.False(t, loop.IsCurrentThread())
	assert.False(t, loop.AcquiresInterpreterLock())
	assert.True(t, loop.State() == StateRunning || loop.State() == StateSleeping)

	var (
		current  bool
		threadID int64
	)
	require.NoError(t, loop.PushCallSynchronous(func() {
		current = loop.IsCurrentThread()
		threadID = osthread.ThreadID()
	}))
	assert.True(t, current)
	assert.Equal(t, threadID, loop.ThreadID())
}

func TestEventLoop_crossThreadFIFO(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	const n = 1000
	var got []int
	for i := 0; i < n; i++ {
		require.NoError(t, loop.PushCall(func() { got = append(got, i) }))
	}
	barrier(t, loop)
	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestEventLoop_crossThreadFIFOPerProducer(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	const (
		producers = 8
		n         = 500
	)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	var (
		outOfOrder atomic.Int32
		wg         sync.WaitGroup
	)
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				assert.NoError(t, loop.PushCall(func() {
					if last[p] != i-1 {
						outOfOrder.Add(1)
					}
					last[p] = i
				}))
			}
		}()
	}
	wg.Wait()
	barrier(t, loop)
	assert.Zero(t, outOfOrder.Load())
	for _, v := range last {
		assert.Equal(t, n-1, v)
	}
}

func TestEventLoop_sameThreadPushSkipsMailbox(t *testing.T) {
	loop := newTestLoop(t, IDLogic, WithMetrics(true))
	var order []string
	require.NoError(t, loop.PushCallSynchronous(func() {
		order = append(order, "a")
		assert.NoError(t, loop.PushCall(func() { order = append(order, "c") }))
		order = append(order, "b")
	}))
	barrier(t, loop)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	require.Eventually(t, func() bool {
		m := loop.Metrics()
		return m.Runnables == 3 && m.Messages == 2
	}, time.Second, time.Millisecond)
}

func TestEventLoop_pushRunnableSynchronousBlocks(t *testing.T) {
	loop := newTestLoop(t, IDAssets)
	start := time.Now()
	require.NoError(t, loop.PushCallSynchronous(func() { time.Sleep(50 * time.Millisecond) }))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestEventLoop_synchronousSelfPush(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	var err error
	require.NoError(t, loop.PushCallSynchronous(func() {
		err = loop.PushCallSynchronous(func() {})
	}))
	assert.ErrorIs(t, err, ErrSynchronousSelfPush)
}

func TestEventLoop_nilRunnables(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	assert.ErrorIs(t, loop.PushRunnable(nil), ErrNilRunnable)
	assert.ErrorIs(t, loop.PushCall(nil), ErrNilRunnable)
	assert.ErrorIs(t, loop.PushRunnableSynchronous(nil), ErrNilRunnable)
	assert.ErrorIs(t, loop.PushCallSynchronous(nil), ErrNilRunnable)
}

func TestEventLoop_panicIsolated(t *testing.T) {
	loop := newTestLoop(t, IDLogic, WithMetrics(true))
	err := loop.PushCallSynchronous(func() { panic(io.ErrUnexpectedEOF) })
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	ran := false
	require.NoError(t, loop.PushCallSynchronous(func() { ran = true }))
	assert.True(t, ran)
	require.Eventually(t, func() bool {
		return loop.Metrics().Panics == 1
	}, time.Second, time.Millisecond)
}

func TestEventLoop_releaserCalledOnceAfterRun(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	r := &countingRunnable{}
	var releasesDuringRun int
	r.fn = func() { releasesDuringRun = r.releases }
	require.NoError(t, loop.PushRunnable(r))
	barrier(t, loop)
	assert.Equal(t, 1, r.runs)
	assert.Equal(t, 1, r.releases)
	assert.Equal(t, 0, releasesDuringRun)
}

func TestEventLoop_shutdownDrainsQueuedWork(t *testing.T) {
	loop, err := New(IDFileOut, SourceNewThread)
	require.NoError(t, err)

	var ran atomic.Int32
	for i := 0; i < 100; i++ {
		require.NoError(t, loop.PushCall(func() {
			ran.Add(1)
			if i == 99 {
				// pushed from the loop's thread while shutting down
				assert.NoError(t, loop.PushCall(func() { ran.Add(1) }))
			}
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, loop.Shutdown(ctx))

	assert.Equal(t, int32(101), ran.Load())
	assert.Equal(t, StateTerminated, loop.State())
	assert.True(t, loop.Done())
	assert.ErrorIs(t, loop.PushCall(func() {}), ErrLoopTerminated)
	assert.ErrorIs(t, loop.PushCallSynchronous(func() {}), ErrLoopTerminated)
	assert.NoError(t, loop.Quit())
	assert.NoError(t, loop.Shutdown(ctx))

	select {
	case <-loop.Terminated():
	default:
		t.Fatal("expected terminated channel to be closed")
	}
}

func TestEventLoop_shutdownFromLoopThread(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	var err error
	require.NoError(t, loop.PushCallSynchronous(func() {
		err = loop.Shutdown(context.Background())
	}))
	assert.ErrorIs(t, err, ErrReentrantRun)
}

func TestEventLoop_quitFromOwnRunnable(t *testing.T) {
	loop, err := New(IDLogic, SourceNewThread)
	require.NoError(t, err)
	require.NoError(t, loop.PushCall(func() { assert.NoError(t, loop.Quit()) }))
	select {
	case <-loop.Terminated():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate")
	}
}

func TestEventLoop_timers(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	fired := make(chan time.Time, 1)
	var created time.Time
	require.NoError(t, loop.PushCallSynchronous(func() {
		created = time.Now()
		assert.NotNil(t, loop.NewTimer(Millis(20), false, RunnableFunc(func() {
			fired <- time.Now()
		})))
	}))
	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(created), 20*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestEventLoop_repeatingTimerDeletesItself(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	var count atomic.Int32
	require.NoError(t, loop.PushCallSynchronous(func() {
		var id int
		id = loop.NewTimer(Millis(5), true, RunnableFunc(func() {
			if count.Add(1) == 3 {
				assert.True(t, loop.DeleteTimer(id))
			}
		})).ID()
	}))
	require.Eventually(t, func() bool { return count.Load() == 3 }, 5*time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), count.Load())
}

func TestEventLoop_timerMethodsOffThread(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	assert.Nil(t, loop.NewTimer(Millis(1), false, RunnableFunc(func() {})))
	assert.Nil(t, loop.GetTimer(1))
	assert.False(t, loop.DeleteTimer(1))
}

func TestEventLoop_checkPushSafetyThreshold(t *testing.T) {
	loop := newExternalLoop(t, IDLogic)
	defer func() { assert.NoError(t, loop.Shutdown(context.Background())) }()

	for i := 0; i < DefaultSafetyThreshold-1; i++ {
		require.NoError(t, loop.PushCall(func() {}))
	}
	assert.True(t, loop.CheckPushSafety())
	require.NoError(t, loop.PushCall(func() {}))
	assert.False(t, loop.CheckPushSafety())
}

func TestEventLoop_pushBestEffort(t *testing.T) {
	loop := newExternalLoop(t, IDNetworkWrite, WithSafetyThreshold(2), WithMetrics(true))
	defer func() { assert.NoError(t, loop.Shutdown(context.Background())) }()

	assert.True(t, loop.PushBestEffort(func() {}))
	assert.True(t, loop.PushBestEffort(func() {}))
	assert.False(t, loop.PushBestEffort(func() {}))
	assert.Equal(t, uint64(1), loop.Metrics().Dropped)
}

func TestEventLoop_shutdownNeverRunExternal(t *testing.T) {
	loop := newExternalLoop(t, IDMain)
	r := &countingRunnable{}
	require.NoError(t, loop.PushRunnable(r))

	errCh := make(chan error, 1)
	go func() { errCh <- loop.PushCallSynchronous(func() {}) }()

	// wait for the synchronous push to be queued
	require.Eventually(t, func() bool { return mailboxLen(loop) == 2 }, time.Second, time.Millisecond)

	require.NoError(t, loop.Shutdown(context.Background()))
	assert.ErrorIs(t, <-errCh, ErrLoopTerminated)
	assert.Equal(t, 0, r.runs)
	assert.Equal(t, 1, r.releases)
	assert.Equal(t, StateTerminated, loop.State())
	_, err := loop.RunOnce()
	assert.ErrorIs(t, err, ErrLoopTerminated)
}

func TestEventLoop_externalRun(t *testing.T) {
	loop := newExternalLoop(t, IDMain)
	assert.False(t, loop.OwnsThread())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	var current bool
	require.NoError(t, loop.PushCallSynchronous(func() { current = loop.IsCurrentThread() }))
	assert.True(t, current)
	assert.ErrorIs(t, loop.Run(ctx), ErrLoopAlreadyRunning)

	var reentrant error
	require.NoError(t, loop.PushCallSynchronous(func() { reentrant = loop.Run(ctx) }))
	assert.ErrorIs(t, reentrant, ErrReentrantRun)

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	assert.Equal(t, StateTerminated, loop.State())
	assert.ErrorIs(t, loop.Run(context.Background()), ErrLoopTerminated)
}

func TestEventLoop_runOnce(t *testing.T) {
	loop := newExternalLoop(t, IDMain)

	n, err := loop.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, loop.IsCurrentThread())

	var ran atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			assert.NoError(t, loop.PushCall(func() { ran.Add(1) }))
		}
		_, err := loop.RunOnce()
		assert.ErrorIs(t, err, ErrWrongThread)
	}()
	<-done

	n, err = loop.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, int32(3), ran.Load())

	var reentrant error
	require.NoError(t, loop.PushCall(func() { _, reentrant = loop.RunOnce() }))
	_, err = loop.RunOnce()
	require.NoError(t, err)
	assert.ErrorIs(t, reentrant, ErrReentrantRun)

	require.NoError(t, loop.Quit())
	_, err = loop.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, loop.State())
	_, err = loop.RunOnce()
	assert.ErrorIs(t, err, ErrLoopTerminated)
}

func TestEventLoop_runOnOwnedThread(t *testing.T) {
	loop := newTestLoop(t, IDLogic)
	_, err := loop.RunOnce()
	assert.ErrorIs(t, err, ErrNotExternal)
	assert.ErrorIs(t, loop.Run(context.Background()), ErrNotExternal)
}

func TestEventLoop_rebindThread(t *testing.T) {
	loop := newExternalLoop(t, IDMain)
	onOtherGoroutine := func(fn func()) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn()
		}()
		<-done
	}

	onOtherGoroutine(func() {
		_, err := loop.RunOnce()
		assert.NoError(t, err)
	})
	var ran []string
	require.NoError(t, loop.PushCall(func() { ran = append(ran, "queued") }))
	_, err := loop.RunOnce()
	require.ErrorIs(t, err, ErrWrongThread)

	require.NoError(t, loop.RebindThread())
	assert.True(t, loop.IsCurrentThread())
	n, err := loop.RunOnce()
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Equal(t, []string{"queued"}, ran)

	onOtherGoroutine(func() {
		_, err := loop.RunOnce()
		assert.ErrorIs(t, err, ErrWrongThread)
	})

	var reentrant error
	require.NoError(t, loop.PushCall(func() { reentrant = loop.RebindThread() }))
	_, err = loop.RunOnce()
	require.NoError(t, err)
	assert.ErrorIs(t, reentrant, ErrReentrantRun)

	require.NoError(t, loop.Shutdown(context.Background()))
	assert.ErrorIs(t, loop.RebindThread(), ErrLoopTerminated)
}

func TestEventLoop_rebindThreadBeforeFirstRun(t *testing.T) {
	loop := newExternalLoop(t, IDMain)
	require.NoError(t, loop.RebindThread())
	assert.True(t, loop.IsCurrentThread())
	assert.Equal(t, StateRunning, loop.State())
	require.NoError(t, loop.Shutdown(context.Background()))
	assert.Equal(t, StateTerminated, loop.State())
}

func TestEventLoop_rebindThreadWhileRunning(t *testing.T) {
	loop := newExternalLoop(t, IDMain)
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(context.Background()) }()
	barrier(t, loop)

	assert.ErrorIs(t, loop.RebindThread(), ErrLoopAlreadyRunning)
	assert.False(t, loop.IsCurrentThread())

	require.NoError(t, loop.Quit())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	assert.ErrorIs(t, newTestLoop(t, IDLogic).RebindThread(), ErrNotExternal)
}

func TestEventLoop_cpuAffinity(t *testing.T) {
	loop := newTestLoop(t, IDAudio, WithCPUAffinity(0))
	barrier(t, loop)
}

func TestEventLoop_fatalHandler(t *testing.T) {
	var got atomic.Pointer[error]
	loop, err := New(IDLogic, SourceNewThread, WithFatalHandler(func(err error) { got.Store(&err) }))
	require.NoError(t, err)

	// corrupt the loop's machinery from its own thread
	require.NoError(t, loop.PushCall(func() { loop.timers = nil }))

	select {
	case <-loop.Terminated():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate")
	}
	require.NotNil(t, got.Load())
	assert.Error(t, *got.Load())
	assert.True(t, errors.Is(loop.PushCall(func() {}), ErrLoopTerminated))
}
