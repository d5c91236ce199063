package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ecoscout/ecoscout-go/internal/errors"
)

// DefaultAcquireTimeout bounds how long Acquire waits for a free session.
const DefaultAcquireTimeout = 5 * time.Second

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.NewStd("session pool is closed")

// Pool hands out a fixed set of pre-built sessions over a channel so that
// concurrent requests never share one.
type Pool[T any] struct {
	sessions chan T
	destroy  func(T)
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
}

// NewPool builds size sessions with create. If any fails, the ones already
// built are destroyed.
func NewPool[T any](size int, create func() (T, error), destroy func(T)) (*Pool[T], error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool[T]{
		sessions: make(chan T, size),
		destroy:  destroy,
		timeout:  DefaultAcquireTimeout,
	}
	for i := 0; i < size; i++ {
		s, err := create()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		p.sessions <- s
	}
	return p, nil
}

// Acquire takes a session, waiting until one is free, ctx ends or the
// acquire timeout passes.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return zero, ErrPoolClosed
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case s, ok := <-p.sessions:
		if !ok {
			return zero, ErrPoolClosed
		}
		return s, nil
	case <-timer.C:
		return zero, errors.Newf("timeout waiting for available session").
			Component("detector").
			Category(errors.CategoryTimeout).
			Build()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns a session. Sessions released after Close are destroyed.
func (p *Pool[T]) Release(s T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		if p.destroy != nil {
			p.destroy(s)
		}
		return
	}
	p.sessions <- s
}

// Close destroys every idle session. Sessions still checked out are destroyed
// when they are released.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.sessions)
	for s := range p.sessions {
		if p.destroy != nil {
			p.destroy(s)
		}
	}
}
