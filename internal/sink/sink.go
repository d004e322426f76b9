// Package sink provides capture.Sink implementations for consumers that do not
// want to block the capture loop.
package sink

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"

	"github.com/ayusman/drishti/internal/capture"
)

// ErrStopped is returned by Latest.Next once capture has ended.
var ErrStopped = errors.New("capture stopped")

// Latest keeps only the newest bundle. Readers that fall behind skip frames.
type Latest struct {
	mu      sync.Mutex
	bundle  capture.Bundle
	have    bool
	updated chan struct{}
	stopped bool
	err     error
}

// NewLatest creates an empty Latest sink.
func NewLatest() *Latest {
	return &Latest{updated: make(chan struct{})}
}

// Deliver replaces the stored bundle and wakes waiting readers.
func (l *Latest) Deliver(b capture.Bundle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bundle = b
	l.have = true
	close(l.updated)
	l.updated = make(chan struct{})
}

// CaptureStopped wakes readers and makes Next return ErrStopped.
func (l *Latest) CaptureStopped(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	l.stopped = true
	l.err = err
	close(l.updated)
	l.updated = make(chan struct{})
}

// Latest returns the newest bundle, if any.
func (l *Latest) Latest() (capture.Bundle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bundle, l.have
}

// Err returns the error capture stopped with.
func (l *Latest) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Next blocks until a bundle newer than after is available.
func (l *Latest) Next(ctx context.Context, after uint64) (capture.Bundle, error) {
	for {
		l.mu.Lock()
		if l.have && l.bundle.Sequence > after {
			b := l.bundle
			l.mu.Unlock()
			return b, nil
		}
		if l.stopped {
			l.mu.Unlock()
			return capture.Bundle{}, ErrStopped
		}
		updated := l.updated
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return capture.Bundle{}, ctx.Err()
		case <-updated:
		}
	}
}

// Channel forwards bundles to a buffered channel and drops the incoming
// bundle when the buffer is full.
type Channel struct {
	ch      chan capture.Bundle
	dropped atomic.Uint64
	once    sync.Once
	mu      sync.Mutex
	err     error
}

// NewChannel creates a Channel sink with the given buffer size.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan capture.Bundle, size)}
}

// C returns the receive side. It is closed when capture stops.
func (c *Channel) C() <-chan capture.Bundle { return c.ch }

// Deliver enqueues b or drops it.
func (c *Channel) Deliver(b capture.Bundle) {
	select {
	case c.ch <- b:
	default:
		c.dropped.Inc()
	}
}

// CaptureStopped closes the channel.
func (c *Channel) CaptureStopped(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.ch)
	})
}

// Err returns the error capture stopped with.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Dropped returns the number of bundles dropped under backpressure.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Multi delivers each bundle to several sinks in order.
type Multi []capture.Sink

// Deliver hands b to every sink.
func (m Multi) Deliver(b capture.Bundle) {
	for _, s := range m {
		s.Deliver(b)
	}
}

// CaptureStopped notifies every sink that observes stops.
func (m Multi) CaptureStopped(err error) {
	for _, s := range m {
		if obs, ok := s.(capture.StopObserver); ok {
			obs.CaptureStopped(err)
		}
	}
}
