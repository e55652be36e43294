// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package script

import (
	"math"
	"strings"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-engineloop/eventloop"
)

// maxDelay is the largest timer delay in milliseconds, longer delays are
// clamped to it.
const maxDelay = math.MaxInt32

func (h *Host) bind() {
	_ = h.runtime.Set("setTimeout", h.setTimeout)
	_ = h.runtime.Set("clearTimeout", h.clearTimer)
	_ = h.runtime.Set("setInterval", h.setInterval)
	_ = h.runtime.Set("clearInterval", h.clearTimer)
	_ = h.runtime.Set("pushCall", h.pushCall)

	console := h.runtime.NewObject()
	_ = console.Set("log", h.consoleFunc(levelInfo))
	_ = console.Set("info", h.consoleFunc(levelInfo))
	_ = console.Set("debug", h.consoleFunc(levelDebug))
	_ = console.Set("warn", h.consoleFunc(levelWarning))
	_ = console.Set("error", h.consoleFunc(levelError))
	_ = h.runtime.Set("console", console)
}

func (h *Host) callback(name string, call goja.FunctionCall) goja.Callable {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(h.runtime.NewTypeError(name + " requires a function as first argument"))
	}
	return fn
}

func (h *Host) setTimeout(call goja.FunctionCall) goja.Value {
	return h.schedule("setTimeout", call, false)
}

func (h *Host) setInterval(call goja.FunctionCall) goja.Value {
	return h.schedule("setInterval", call, true)
}

func (h *Host) schedule(name string, call goja.FunctionCall, repeat bool) goja.Value {
	fn := h.callback(name, call)

	delay := call.Argument(1).ToFloat()
	switch {
	case math.IsNaN(delay):
		delay = 0
	case delay < 0:
		panic(h.runtime.NewTypeError("delay cannot be negative"))
	case delay > maxDelay:
		delay = maxDelay
	}

	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	var id int
	timer := h.Loop().NewTimer(eventloop.Millis(delay), repeat, eventloop.RunnableFunc(func() {
		if h.closed {
			return
		}
		if !repeat {
			delete(h.timers, id)
		}
		_ = h.invoke(name, fn, args)
	}))
	if timer == nil {
		panic(h.runtime.NewGoError(eventloop.ErrWrongThread))
	}
	id = timer.ID()
	h.timers[id] = struct{}{}
	return h.runtime.ToValue(id)
}

// clearTimer cancels a timeout or interval. Unknown ids are ignored.
func (h *Host) clearTimer(call goja.FunctionCall) goja.Value {
	id := int(call.Argument(0).ToInteger())
	if _, ok := h.timers[id]; ok {
		delete(h.timers, id)
		h.Loop().DeleteTimer(id)
	}
	return goja.Undefined()
}

func (h *Host) pushCall(call goja.FunctionCall) goja.Value {
	fn := h.callback("pushCall", call)
	var args []goja.Value
	if len(call.Arguments) > 1 {
		args = append(args, call.Arguments[1:]...)
	}
	err := h.Loop().PushCall(func() {
		if !h.closed {
			_ = h.invoke("pushCall", fn, args)
		}
	})
	if err != nil {
		panic(h.runtime.NewGoError(err))
	}
	return goja.Undefined()
}

type consoleLevel int

const (
	levelDebug consoleLevel = iota
	levelInfo
	levelWarning
	levelError
)

func (h *Host) consoleFunc(level consoleLevel) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")
		switch level {
		case levelDebug:
			h.logger.Debug().Log(msg)
		case levelWarning:
			h.logger.Warning().Log(msg)
		case levelError:
			h.logger.Err().Log(msg)
		default:
			h.logger.Info().Log(msg)
		}
		return goja.Undefined()
	}
}
