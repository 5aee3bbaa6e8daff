package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	zerrors "github.com/zzenonn/zdav/internal/errors"
)

// Conn is anything the pool can own.
type Conn interface {
	Close() error
}

// Factory constructs a ready-to-use connection (connected and authenticated).
type Factory[T Conn] func(ctx context.Context) (T, error)

// PoolStats is an occupancy snapshot of one pool.
type PoolStats struct {
	Live int // constructed connections
	Idle int // constructed and not leased
	Max  int
}

// Pool hands out exclusive leases on lazily constructed connections.
//
// Pool is safe for concurrent use. Listeners registered with Subscribe are
// called synchronously while the pool lock is held and must not call back
// into the pool.
type Pool[T Conn] struct {
	sem     *ReservedSemaphore
	factory Factory[T]
	max     int

	mu        sync.Mutex
	idle      []T // LIFO
	live      int
	closed    bool
	listeners map[int]func(PoolStats)
	nextID    int

	// done is cancelled by Close so blocked acquirers wake up.
	done   context.Context
	cancel context.CancelFunc
}

// NewPool creates a pool of at most max connections built by factory.
func NewPool[T Conn](max int, factory Factory[T]) (*Pool[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("connection factory is required")
	}
	sem, err := NewReservedSemaphore(max, max)
	if err != nil {
		return nil, err
	}
	done, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		sem:       sem,
		factory:   factory,
		max:       max,
		idle:      make([]T, 0, max),
		listeners: make(map[int]func(PoolStats)),
		done:      done,
		cancel:    cancel,
	}, nil
}

// Acquire leases a connection, waiting until one can be taken while leaving
// reserved slots free. An idle connection is reused; otherwise a new one is
// built outside the pool lock. Factory errors are returned as is.
func (p *Pool[T]) Acquire(ctx context.Context, reserved int) (*Lease[T], error) {
	if p.done.Err() != nil {
		return nil, zerrors.ErrPoolDisposed
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.done, cancel)
	defer stop()

	if err := p.sem.Acquire(waitCtx, reserved); err != nil {
		if ctx.Err() == nil && p.done.Err() != nil {
			return nil, zerrors.ErrPoolDisposed
		}
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.releaseSlot()
		return nil, zerrors.ErrPoolDisposed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		var zero T
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
		p.notifyLocked()
		p.mu.Unlock()
		return newLease(p, conn), nil
	}
	// Count the slot as live while the factory runs so the pool never
	// overshoots max.
	p.live++
	p.mu.Unlock()

	conn, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.notifyLocked()
		p.mu.Unlock()
		p.releaseSlot()
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.live--
		p.notifyLocked()
		p.mu.Unlock()
		closeConn(conn)
		p.releaseSlot()
		return nil, zerrors.ErrPoolDisposed
	}
	p.notifyLocked()
	p.mu.Unlock()

	log.WithField("live", p.Stats().Live).Trace("constructed new pooled connection")
	return newLease(p, conn), nil
}

// Stats returns the current occupancy.
func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// Max returns the configured ceiling.
func (p *Pool[T]) Max() int {
	return p.max
}

// Subscribe registers fn for occupancy changes. The returned function removes
// the registration.
func (p *Pool[T]) Subscribe(fn func(PoolStats)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Close disposes every idle connection and fails all current and future
// acquirers with ErrPoolDisposed. Leased connections are disposed when their
// leases are released.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	p.notifyLocked()
	p.mu.Unlock()

	p.cancel()

	var errs []error
	for _, conn := range idle {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool[T]) release(conn T, replace bool) {
	p.mu.Lock()
	if replace || p.closed {
		p.live--
		p.notifyLocked()
		p.mu.Unlock()
		closeConn(conn)
	} else {
		p.idle = append(p.idle, conn)
		p.notifyLocked()
		p.mu.Unlock()
	}
	p.releaseSlot()
}

func (p *Pool[T]) releaseSlot() {
	if err := p.sem.Release(); err != nil {
		log.WithError(err).Error("connection pool released an unacquired slot")
	}
}

func (p *Pool[T]) statsLocked() PoolStats {
	return PoolStats{Live: p.live, Idle: len(p.idle), Max: p.max}
}

func (p *Pool[T]) notifyLocked() {
	stats := p.statsLocked()
	for _, fn := range p.listeners {
		fn(stats)
	}
}

func closeConn[T Conn](conn T) {
	if err := conn.Close(); err != nil {
		log.WithError(err).Debug("error closing pooled connection")
	}
}

// Lease is exclusive access to one pooled connection. Release must be called
// exactly once on every path; extra calls are ignored.
type Lease[T Conn] struct {
	pool    *Pool[T]
	conn    T
	replace atomic.Bool
	once    sync.Once
}

func newLease[T Conn](pool *Pool[T], conn T) *Lease[T] {
	return &Lease[T]{pool: pool, conn: conn}
}

// Conn returns the leased connection.
func (l *Lease[T]) Conn() T {
	return l.conn
}

// Replace marks the connection as broken. On release it is closed instead of
// returned, and the next acquirer gets a fresh one.
func (l *Lease[T]) Replace() {
	l.replace.Store(true)
}

// Release hands the connection back to the pool.
func (l *Lease[T]) Release() {
	l.once.Do(func() {
		l.pool.release(l.conn, l.replace.Load())
	})
}
