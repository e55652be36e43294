// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"sync"
)

// chunkSize is the number of messages held by each mailbox chunk.
const chunkSize = 128

// mailbox is a chunked FIFO of thread messages.
//
// It is NOT thread-safe, the owning [EventLoop] guards it with its mutex.
// Chunks are recycled via a sync.Pool, so a busy mailbox does not allocate
// per message.
type mailbox struct { // betteralign:ignore
	head   *chunk
	tail   *chunk
	length int
}

var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

type chunk struct {
	msgs    [chunkSize]threadMessage
	next    *chunk
	readPos int // first unread slot
	pos     int // first unused slot
}

func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk clears every written slot, so pooled chunks retain nothing.
func returnChunk(c *chunk) {
	for i := 0; i < c.pos; i++ {
		c.msgs[i] = threadMessage{}
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	chunkPool.Put(c)
}

func (q *mailbox) Push(msg threadMessage) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}
	if q.tail.pos == len(q.tail.msgs) {
		next := newChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.msgs[q.tail.pos] = msg
	q.tail.pos++
	q.length++
}

func (q *mailbox) Pop() (threadMessage, bool) {
	if q.length == 0 {
		return threadMessage{}, false
	}

	msg := q.head.msgs[q.head.readPos]
	q.head.msgs[q.head.readPos] = threadMessage{}
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			// reuse in place
			q.head.pos = 0
			q.head.readPos = 0
		} else {
			old := q.head
			q.head = old.next
			returnChunk(old)
		}
	}

	return msg, true
}

// DrainTo pops every message, appending them to dst, in order.
func (q *mailbox) DrainTo(dst []threadMessage) []threadMessage {
	for q.length != 0 {
		msg, _ := q.Pop()
		dst = append(dst, msg)
	}
	return dst
}

func (q *mailbox) Len() int {
	return q.length
}
