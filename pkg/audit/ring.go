// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package audit

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultRingCapacity is the number of records an in-process ring holds.
const DefaultRingCapacity = 4096

// ErrClosed is returned by Source.Read after Close.
var ErrClosed = errors.New("audit source closed")

// Publisher accepts records without blocking.
type Publisher interface {
	// Publish reports whether the record was accepted. The record is
	// passed by value so it never leaves the caller's stack.
	Publish(r Record) bool
}

// Source yields raw records to a single consumer.
type Source interface {
	// Read blocks until a record is available or the source is
	// closed, in which case it returns ErrClosed.
	Read() ([]byte, error)
	Close() error
}

// Ring is a bounded multi-producer single-consumer record channel.
// Publish never blocks; a full ring drops the record and counts it.
type Ring struct {
	ch        chan Record
	done      chan struct{}
	closeOnce sync.Once
	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{
		ch:   make(chan Record, capacity),
		done: make(chan struct{}),
	}
}

func (r *Ring) Publish(rec Record) bool {
	select {
	case r.ch <- rec:
		r.published.Add(1)
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Ring) Read() ([]byte, error) {
	select {
	case rec := <-r.ch:
		return rec[:], nil
	case <-r.done:
		return nil, ErrClosed
	}
}

// Close wakes the consumer. Publishing after Close is allowed; the
// records are never read.
func (r *Ring) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

// Len returns the number of queued records.
func (r *Ring) Len() int { return len(r.ch) }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return cap(r.ch) }

func (r *Ring) Published() uint64 { return r.published.Load() }
func (r *Ring) Dropped() uint64   { return r.dropped.Load() }

var (
	_ Publisher = (*Ring)(nil)
	_ Source    = (*Ring)(nil)
)
