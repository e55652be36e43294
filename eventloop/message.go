// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

type messageKind uint8

const (
	messageShutdown messageKind = iota + 1
	messageRunnable
	messagePause
	messageResume
)

func (k messageKind) String() string {
	switch k {
	case messageShutdown:
		return "shutdown"
	case messageRunnable:
		return "runnable"
	case messagePause:
		return "pause"
	case messageResume:
		return "resume"
	default:
		return "unknown"
	}
}

// threadMessage is an entry in a loop's cross-thread mailbox.
type threadMessage struct {
	task *unique     // messageRunnable
	done *completion // synchronous pushes only
	seq  uint64      // messagePause
	kind messageKind
}

// completion is signalled by the loop after running a synchronously pushed
// runnable. The waiter must only read err after ch is closed.
type completion struct {
	ch  chan struct{}
	err error
}

func newCompletion() *completion {
	return &completion{ch: make(chan struct{})}
}

func (c *completion) finish(err error) {
	if c != nil {
		c.err = err
		close(c.ch)
	}
}

// localTask is an entry in a loop's same-thread runnable list.
type localTask struct {
	task *unique
	done *completion
}
