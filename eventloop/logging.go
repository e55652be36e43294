// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

var (
	floodLimiterOnce sync.Once
	floodLimiter     *catrate.Limiter
)

// floodCategory identifies a class of repeated warning, for a single loop.
type floodCategory struct {
	kind string
	loop uint64
}

// allowFlood rate limits warnings that may repeat at high frequency, such as
// mailbox backlog, to one per second and ten per minute, per category.
func allowFlood(category floodCategory) bool {
	floodLimiterOnce.Do(func() {
		floodLimiter = catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		})
	})
	_, ok := floodLimiter.Allow(category)
	return ok
}

func childLogger(logger *logiface.Logger[logiface.Event], name string) *logiface.Logger[logiface.Event] {
	if c := logger.Clone(); c != nil {
		return c.Str("loop", name).Logger()
	}
	return logger
}

func logPanic(logger *logiface.Logger[logiface.Event], err *PanicError) {
	logger.Err().
		Str("panic", fmt.Sprint(err.Value)).
		Str("stack", string(err.Stack)).
		Log("runnable panicked")
}
