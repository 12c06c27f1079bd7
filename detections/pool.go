package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// Session runs one forward pass at a time.
type Session interface {
	Run(input []float32) ([]float32, error)
	Destroy()
}

// SessionFactory creates a ready-to-run session.
type SessionFactory func() (Session, error)

// SessionPool hands out model sessions so that concurrent requests never
// share tensors. Sessions that fail are discarded and replaced by the
// background health check.
type SessionPool struct {
	sessions       chan Session
	size           int
	factory        SessionFactory
	acquireTimeout time.Duration
	mu             sync.Mutex
	closed         bool
	done           chan struct{}
	missing        int
	metrics        PoolMetrics
	lastErrors     []error
}

// PoolMetrics is a snapshot of pool activity.
type PoolMetrics struct {
	Size            int           `json:"pool_size"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	TotalDiscarded  int64         `json:"total_discarded"`
	AcquireFailures int64         `json:"acquire_failures"`
	LastErrors      []string      `json:"last_errors"`
	WaitTime        time.Duration `json:"-"`
}

func NewSessionPool(factory SessionFactory, size int, acquireTimeout time.Duration) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = AcquireTimeout
	}

	pool := &SessionPool{
		sessions:       make(chan Session, size),
		size:           size,
		factory:        factory,
		acquireTimeout: acquireTimeout,
		done:           make(chan struct{}),
	}
	pool.metrics.Size = size

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	go pool.healthCheck(HealthCheckPeriod)

	return pool, nil
}

func (p *SessionPool) Acquire(ctx context.Context) (Session, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.mu.Lock()
		p.metrics.AcquireFailures++
		p.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		p.mu.Lock()
		p.metrics.AcquireFailures++
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (p *SessionPool) Release(session Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.InUse--
	p.metrics.TotalReleased++

	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

// Discard destroys a session that must not be reused. The pool recreates it
// on the next health check.
func (p *SessionPool) Discard(session Session, cause error) {
	session.Destroy()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.InUse--
	p.metrics.TotalDiscarded++
	p.recordError(cause)
	if !p.closed {
		p.missing++
	}
}

func (p *SessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *SessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *SessionPool) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish recreates discarded sessions.
func (p *SessionPool) replenish() {
	p.mu.Lock()
	count := p.missing
	p.mu.Unlock()

	for i := 0; i < count; i++ {
		session, err := p.factory()

		p.mu.Lock()
		if err != nil {
			p.recordError(err)
			p.mu.Unlock()
			continue
		}
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.missing--
		p.sessions <- session
		p.mu.Unlock()
	}
}

// recordError keeps the ten most recent session errors. Callers hold p.mu.
func (p *SessionPool) recordError(err error) {
	if err == nil {
		return
	}
	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

// GetMetrics returns a snapshot of the counters and the most recent session
// errors, oldest first.
func (p *SessionPool) GetMetrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.metrics
	m.LastErrors = make([]string, len(p.lastErrors))
	for i, err := range p.lastErrors {
		m.LastErrors[i] = err.Error()
	}
	return m
}
