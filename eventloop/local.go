// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"github.com/eapache/queue"
)

// localList is the same-thread runnable list. It is only ever touched by the
// owning loop's thread, so it needs no locking.
type localList struct {
	q *queue.Queue
}

func newLocalList() localList {
	return localList{q: queue.New()}
}

func (x localList) Add(t localTask) {
	x.q.Add(t)
}

// Remove pops the oldest task. It must not be called when empty.
func (x localList) Remove() localTask {
	return x.q.Remove().(localTask)
}

func (x localList) Len() int {
	return x.q.Length()
}
