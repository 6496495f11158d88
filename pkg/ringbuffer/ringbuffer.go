// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ringbuffer provides a fixed-capacity circular byte queue.
//
// The buffer never allocates after construction: the caller owns the backing
// storage. Writes are all-or-nothing, reads never underflow.
package ringbuffer

// RingBuffer is a circular byte queue backed by caller-owned storage.
// It is not safe for concurrent use.
type RingBuffer struct {
	buf   []byte
	start int
	avail int
}

// New creates a ring buffer on top of the given storage. The capacity of the
// buffer is len(storage).
func New(storage []byte) *RingBuffer {
	return &RingBuffer{buf: storage}
}

// Capacity returns the size of the backing storage
func (rb *RingBuffer) Capacity() int {
	return len(rb.buf)
}

// Available returns the number of bytes currently queued
func (rb *RingBuffer) Available() int {
	return rb.avail
}

// Free returns the number of bytes that can still be written
func (rb *RingBuffer) Free() int {
	return len(rb.buf) - rb.avail
}

// Empty reports whether the buffer holds no bytes
func (rb *RingBuffer) Empty() bool {
	return rb.avail == 0
}

// Reset discards all queued bytes
func (rb *RingBuffer) Reset() {
	rb.start = 0
	rb.avail = 0
}

// Put appends p to the buffer. If there is not enough free space for all of
// p, nothing is written and Put returns 0. Otherwise it returns len(p).
func (rb *RingBuffer) Put(p []byte) int {
	n := len(p)
	if n == 0 || rb.Free() < n {
		return 0
	}

	end := (rb.start + rb.avail) % len(rb.buf)
	written := copy(rb.buf[end:], p)
	if written < n {
		copy(rb.buf, p[written:])
	}
	rb.avail += n
	return n
}

// Get removes len(p) bytes from the front of the buffer into p.
// Returns 0 (and removes nothing) if fewer than len(p) bytes are available.
func (rb *RingBuffer) Get(p []byte) int {
	n := rb.Peek(p)
	if n == 0 {
		return 0
	}
	rb.advance(n)
	return n
}

// Peek copies len(p) bytes from the front of the buffer into p without
// removing them. Returns 0 if fewer than len(p) bytes are available.
func (rb *RingBuffer) Peek(p []byte) int {
	n := len(p)
	if n == 0 || n > rb.avail {
		return 0
	}

	read := copy(p, rb.buf[rb.start:])
	if read < n {
		copy(p[read:], rb.buf)
	}
	return n
}

// Delete discards n bytes from the front of the buffer without copying them.
// Returns 0 if fewer than n bytes are available.
func (rb *RingBuffer) Delete(n int) int {
	if n <= 0 || n > rb.avail {
		return 0
	}
	rb.advance(n)
	return n
}

func (rb *RingBuffer) advance(n int) {
	rb.start = (rb.start + n) % len(rb.buf)
	rb.avail -= n
	if rb.avail == 0 {
		rb.start = 0
	}
}
