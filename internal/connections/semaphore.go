// Package connections provides the bounded connection pool used by every
// segment provider, together with the reserved-slot semaphore that guards it.
//
// A reserved floor lets a background caller (the health check) take
// connections only while enough remain free for interactive reads.
package connections

import (
	"context"
	"fmt"
	"sync"

	zerrors "github.com/zzenonn/zdav/internal/errors"
)

// ReservedSemaphore is a counting semaphore whose waiters may demand that a
// number of slots stay free after they acquire.
//
// Every Release wakes all waiters; each re-checks its own condition. This
// keeps a high-reserve waiter from being starved by a stream of low-reserve
// ones at the cost of a thundering herd, which is fine at pool sizes.
type ReservedSemaphore struct {
	mu      sync.Mutex
	current int
	max     int
	wake    chan struct{}
}

// NewReservedSemaphore creates a semaphore with initial free slots out of max.
func NewReservedSemaphore(initial, max int) (*ReservedSemaphore, error) {
	if max <= 0 || initial < 0 || initial > max {
		return nil, fmt.Errorf("invalid semaphore counts: initial=%d max=%d", initial, max)
	}
	return &ReservedSemaphore{
		current: initial,
		max:     max,
		wake:    make(chan struct{}),
	}, nil
}

// Acquire blocks until a slot can be taken while leaving at least reserved
// slots free, or until ctx is done. With reserved >= max it can only return
// through ctx.
func (s *ReservedSemaphore) Acquire(ctx context.Context, reserved int) error {
	if reserved < 0 {
		return zerrors.ErrInvalidReserved
	}

	for {
		s.mu.Lock()
		if s.current > reserved {
			s.current--
			s.mu.Unlock()
			return nil
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns one slot and wakes every waiter.
func (s *ReservedSemaphore) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == s.max {
		return zerrors.ErrSemaphoreFull
	}
	s.current++
	close(s.wake)
	s.wake = make(chan struct{})
	return nil
}

// Available returns the number of free slots.
func (s *ReservedSemaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Max returns the slot ceiling.
func (s *ReservedSemaphore) Max() int {
	return s.max
}
