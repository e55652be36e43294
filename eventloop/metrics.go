// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"slices"
	"sync"
	"time"
)

// Metrics is a point-in-time snapshot of an [EventLoop]'s runtime metrics,
// see [WithMetrics] and [EventLoop.Metrics].
type Metrics struct {
	// Latency is the distribution of runnable execution times.
	Latency LatencyMetrics

	// Queue tracks the depth of the mailbox and the local list, sampled
	// once per loop iteration.
	Queue QueueMetrics

	// Runnables is the number of runnables executed.
	Runnables uint64

	// Timers is the number of timer callbacks fired.
	Timers uint64

	// Messages is the number of cross-thread messages received.
	Messages uint64

	// Panics is the number of runnables that panicked.
	Panics uint64

	// Dropped is the number of best effort pushes that were refused.
	Dropped uint64
}

// LatencyMetrics summarizes the most recent samples of runnable execution
// time. Percentiles are nearest-rank.
type LatencyMetrics struct {
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// QueueMetrics tracks depth statistics, with Avg an exponential moving
// average (alpha 0.1), seeded by the first observation.
type QueueMetrics struct {
	MessagesCurrent int
	MessagesMax     int
	MessagesAvg     float64
	LocalCurrent    int
	LocalMax        int
	LocalAvg        float64
}

const sampleSize = 1000

// metricsRecorder accumulates metrics. It is written by the loop's thread,
// and read by any goroutine, via snapshot.
type metricsRecorder struct {
	mu          sync.Mutex
	samples     [sampleSize]time.Duration
	sampleIdx   int
	sampleCount int
	sum         time.Duration
	queue       QueueMetrics
	queueInit   bool
	runnables   uint64
	timers      uint64
	messages    uint64
	panics      uint64
	dropped     uint64
}

func (m *metricsRecorder) recordRun(d time.Duration, panicked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sampleCount >= sampleSize {
		m.sum -= m.samples[m.sampleIdx]
	} else {
		m.sampleCount++
	}
	m.samples[m.sampleIdx] = d
	m.sum += d
	m.sampleIdx = (m.sampleIdx + 1) % sampleSize
	m.runnables++
	if panicked {
		m.panics++
	}
}

func (m *metricsRecorder) recordIteration(messages, local, timers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages += uint64(messages)
	m.timers += uint64(timers)
	q := &m.queue
	q.MessagesCurrent = messages
	q.MessagesMax = max(q.MessagesMax, messages)
	q.LocalCurrent = local
	q.LocalMax = max(q.LocalMax, local)
	if !m.queueInit {
		m.queueInit = true
		q.MessagesAvg = float64(messages)
		q.LocalAvg = float64(local)
	} else {
		q.MessagesAvg = 0.9*q.MessagesAvg + 0.1*float64(messages)
		q.LocalAvg = 0.9*q.LocalAvg + 0.1*float64(local)
	}
}

func (m *metricsRecorder) recordDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *metricsRecorder) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Metrics{
		Queue:     m.queue,
		Runnables: m.runnables,
		Timers:    m.timers,
		Messages:  m.messages,
		Panics:    m.panics,
		Dropped:   m.dropped,
	}

	if n := m.sampleCount; n != 0 {
		sorted := slices.Clone(m.samples[:n])
		slices.Sort(sorted)
		s.Latency = LatencyMetrics{
			P50:   sorted[percentileIndex(n, 50)],
			P90:   sorted[percentileIndex(n, 90)],
			P95:   sorted[percentileIndex(n, 95)],
			P99:   sorted[percentileIndex(n, 99)],
			Max:   sorted[n-1],
			Mean:  m.sum / time.Duration(n),
			Count: n,
		}
	}

	return s
}

func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}
