// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"container/heap"
	"math"
	"time"

	"github.com/joeycumines/logiface"
)

// Microsecs is a duration, or a point on a monotonic clock, in microseconds.
type Microsecs int64

// Millis converts milliseconds to Microsecs, rounding to the nearest.
func Millis(ms float64) Microsecs {
	return Microsecs(math.Round(ms * 1e3))
}

// Seconds converts seconds to Microsecs, rounding to the nearest.
func Seconds(s float64) Microsecs {
	return Microsecs(math.Round(s * 1e6))
}

// FromDuration converts d to Microsecs, truncating.
func FromDuration(d time.Duration) Microsecs {
	return Microsecs(d / time.Microsecond)
}

func (x Microsecs) Duration() time.Duration {
	return time.Duration(x) * time.Microsecond
}

// MonotonicClock returns a clock reading microseconds elapsed since the call.
func MonotonicClock() func() Microsecs {
	anchor := time.Now()
	return func() Microsecs {
		return FromDuration(time.Since(anchor))
	}
}

// Timer is a scheduled [Runnable], owned by a [TimerList].
//
// Timers are not thread-safe. All methods must be called on the thread that
// owns the list, which for an [EventLoop] is the loop's thread.
type Timer struct {
	list     *TimerList
	runnable *Shared
	id       int
	length   Microsecs
	deadline Microsecs
	seq      uint64 // insertion order, breaks deadline ties
	index    int    // heap index, -1 when not scheduled
	repeat   bool
	enabled  bool
	pending  bool // popped in the current pass, not yet fired
	firing   bool
	dead     bool
}

func (t *Timer) ID() int { return t.id }

func (t *Timer) Length() Microsecs { return t.length }

func (t *Timer) Repeat() bool { return t.repeat }

func (t *Timer) Enabled() bool { return t.enabled && !t.dead }

// Deadline returns the timer's next expiry, on the list's clock.
func (t *Timer) Deadline() Microsecs { return t.deadline }

// SetLength changes the timer's length, restarting it from now.
func (t *Timer) SetLength(length Microsecs) {
	if !t.dead {
		t.list.setLength(t, length)
	}
}

// SetEnabled stops or restarts the timer. Re-enabling schedules it length
// from now.
func (t *Timer) SetEnabled(enabled bool) {
	if !t.dead {
		t.list.setEnabled(t, enabled)
	}
}

// Delete removes the timer from its list, releasing its runnable.
func (t *Timer) Delete() {
	if !t.dead {
		t.list.remove(t)
	}
}

// TimerList is a min-heap of timers, keyed by deadline, then by insertion
// order. It is not thread-safe.
type TimerList struct {
	clock   func() Microsecs
	logger  *logiface.Logger[logiface.Event]
	byID    map[int]*Timer
	heap    timerHeap
	due     []*Timer
	nextID  int
	seq     uint64
	running bool
}

// NewTimerList initializes a TimerList. A nil clock defaults to
// [MonotonicClock]. The logger may be nil.
func NewTimerList(clock func() Microsecs, logger *logiface.Logger[logiface.Event]) *TimerList {
	if clock == nil {
		clock = MonotonicClock()
	}
	return &TimerList{
		clock:  clock,
		logger: logger,
		byID:   make(map[int]*Timer),
	}
}

// Now reads the list's clock.
func (l *TimerList) Now() Microsecs {
	return l.clock()
}

// NewTimer schedules r to run length from now, then every length thereafter
// if repeat is set. Negative lengths are treated as zero. If r is a
// [*Shared], the timer takes its own reference.
func (l *TimerList) NewTimer(length Microsecs, repeat bool, r Runnable) *Timer {
	if length < 0 {
		length = 0
	}
	l.nextID++
	t := &Timer{
		list:     l,
		runnable: shareRunnable(r),
		id:       l.nextID,
		length:   length,
		deadline: l.clock() + length,
		index:    -1,
		repeat:   repeat,
		enabled:  true,
	}
	l.byID[t.id] = t
	l.schedule(t)
	return t
}

// GetTimer returns the live timer with the given id, or nil.
func (l *TimerList) GetTimer(id int) *Timer {
	return l.byID[id]
}

// DeleteTimer removes the timer with the given id, reporting whether it
// existed. Unknown ids are logged.
func (l *TimerList) DeleteTimer(id int) bool {
	t := l.byID[id]
	if t == nil {
		l.logger.Warning().
			Int("timer", id).
			Log("timer: delete of unknown timer")
		return false
	}
	l.remove(t)
	return true
}

// SetLength is [Timer.SetLength] by id, reporting whether the timer exists.
func (l *TimerList) SetLength(id int, length Microsecs) bool {
	t := l.byID[id]
	if t == nil {
		l.logger.Warning().
			Int("timer", id).
			Log("timer: set length of unknown timer")
		return false
	}
	l.setLength(t, length)
	return true
}

// Len returns the number of live timers, including disabled ones.
func (l *TimerList) Len() int {
	return len(l.byID)
}

// NextDeadline returns the earliest scheduled deadline.
func (l *TimerList) NextDeadline() (Microsecs, bool) {
	if len(l.heap) == 0 {
		return 0, false
	}
	return l.heap[0].deadline, true
}

// TimeToNextExpire returns the time until the earliest deadline, clamped to
// zero, or false if nothing is scheduled.
func (l *TimerList) TimeToNextExpire() (Microsecs, bool) {
	deadline, ok := l.NextDeadline()
	if !ok {
		return 0, false
	}
	return max(deadline-l.clock(), 0), true
}

// Run fires every timer due at the start of the call, returning the number
// fired. Timers that become due while it runs, including repeating timers
// with a zero length, wait for the next call.
//
// Callbacks may freely create, modify and delete timers, including the one
// that is firing. A timer deleted or disabled before its turn in the pass
// does not fire. Panics are recovered and logged.
func (l *TimerList) Run() int {
	if l.running {
		l.logger.Err().Log("timer: reentrant run")
		return 0
	}
	l.running = true
	defer func() { l.running = false }()

	now := l.clock()
	for len(l.heap) != 0 && l.heap[0].deadline <= now {
		t := heap.Pop(&l.heap).(*Timer)
		t.pending = true
		l.due = append(l.due, t)
	}
	due := l.due
	defer func() {
		clear(due)
		l.due = due[:0]
	}()

	var fired int
	for _, t := range due {
		if !t.pending || t.dead {
			continue
		}
		t.pending = false
		t.firing = true
		_ = RunAndLogErrors(l.logger, t.runnable)
		t.firing = false
		fired++

		switch {
		case t.dead:
			// deleted by its own callback
			t.runnable.Release()
		case t.index >= 0 || !t.enabled:
			// rescheduled or disabled by its own callback
		case t.repeat:
			t.deadline = now + t.length
			l.schedule(t)
		default:
			l.remove(t)
		}
	}
	return fired
}

// Clear removes every timer.
func (l *TimerList) Clear() {
	for _, t := range l.byID {
		l.remove(t)
	}
}

func (l *TimerList) schedule(t *Timer) {
	l.seq++
	t.seq = l.seq
	heap.Push(&l.heap, t)
}

func (l *TimerList) unschedule(t *Timer) {
	if t.index >= 0 {
		heap.Remove(&l.heap, t.index)
	}
	t.pending = false
}

func (l *TimerList) remove(t *Timer) {
	l.unschedule(t)
	delete(l.byID, t.id)
	t.dead = true
	if !t.firing {
		t.runnable.Release()
	}
}

func (l *TimerList) setLength(t *Timer, length Microsecs) {
	if length < 0 {
		length = 0
	}
	t.length = length
	if !t.enabled {
		return
	}
	l.unschedule(t)
	t.deadline = l.clock() + length
	l.schedule(t)
}

func (l *TimerList) setEnabled(t *Timer, enabled bool) {
	if enabled == t.enabled {
		return
	}
	t.enabled = enabled
	l.unschedule(t)
	if enabled {
		t.deadline = l.clock() + t.length
		l.schedule(t)
	}
}

// timerHeap implements heap.Interface, tracking each timer's index.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
