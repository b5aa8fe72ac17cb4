package latch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	serrors "github.com/NetPo4ki/go-syncx/errors"
)

type Option func(*Options)

type Options struct {
	OnComplete func()
	Observer   Observer
}

// WithOnComplete sets a callback run once per arm cycle by the goroutine
// whose tick brings the count to zero.
func WithOnComplete(fn func()) Option { return func(o *Options) { o.OnComplete = fn } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

type Observer interface {
	LatchTicked(ctx context.Context, remaining int)
	LatchCompleted(ctx context.Context)
	LatchReset(ctx context.Context, count int)
	LatchWaited(ctx context.Context, wait time.Duration, signaled bool)
}

// Latch is a countdown latch. The zero value is not usable; create one with New.
type Latch struct {
	counter atomic.Int64
	initial atomic.Int64

	mu   sync.Mutex
	done chan struct{}

	opts Options
	obs  Observer
}

// New returns a latch that opens after count ticks.
func New(count int, optFns ...Option) (*Latch, error) {
	if count <= 0 {
		return nil, fmt.Errorf("latch: count must be positive, got %d: %w", count, serrors.ErrInvalidArgument)
	}
	l := &Latch{done: make(chan struct{})}
	for _, fn := range optFns {
		fn(&l.opts)
	}
	l.obs = l.opts.Observer
	l.counter.Store(int64(count))
	l.initial.Store(int64(count))
	return l, nil
}

// Tick delivers one completion signal. It returns ErrInvalidOperation if the
// latch has already received as many ticks as its count; the latch stays
// signaled in that case.
func (l *Latch) Tick() error {
	n := l.counter.Add(-1)
	switch {
	case n == 0:
		if l.obs != nil {
			l.obs.LatchCompleted(context.Background())
		}
		l.open()
		if l.opts.OnComplete != nil {
			l.opts.OnComplete()
		}
	case n < 0:
		return fmt.Errorf("latch: ticked %d times past zero: %w", -n, serrors.ErrInvalidOperation)
	default:
		if l.obs != nil {
			l.obs.LatchTicked(context.Background(), int(n))
		}
	}
	return nil
}

// Signal delivers n ticks, stopping at the first failing one.
func (l *Latch) Signal(n int) error {
	if n <= 0 {
		return fmt.Errorf("latch: signal amount must be positive, got %d: %w", n, serrors.ErrInvalidArgument)
	}
	for i := 0; i < n; i++ {
		if err := l.Tick(); err != nil {
			return err
		}
	}
	return nil
}

// AddCount raises the number of outstanding ticks by n. A latch that has
// already completed cannot be raised; use Reset instead.
func (l *Latch) AddCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("latch: add amount must be positive, got %d: %w", n, serrors.ErrInvalidArgument)
	}
	for {
		old := l.counter.Load()
		if old <= 0 {
			return fmt.Errorf("latch: cannot add to a completed latch: %w", serrors.ErrInvalidOperation)
		}
		if l.counter.CompareAndSwap(old, old+int64(n)) {
			return nil
		}
	}
}

// TryAddCount is AddCount reporting failure as false.
func (l *Latch) TryAddCount(n int) bool {
	return l.AddCount(n) == nil
}

// Reset re-arms the latch to require count further ticks. Calling Reset
// while other goroutines are still ticking leaves the outcome to the
// caller: ticks racing with Reset may land on either arm cycle.
func (l *Latch) Reset(count int) error {
	if count <= 0 {
		return fmt.Errorf("latch: count must be positive, got %d: %w", count, serrors.ErrInvalidArgument)
	}
	l.mu.Lock()
	select {
	case <-l.done:
		l.done = make(chan struct{})
	default:
	}
	l.initial.Store(int64(count))
	l.counter.Store(int64(count))
	l.mu.Unlock()
	if l.obs != nil {
		l.obs.LatchReset(context.Background(), count)
	}
	return nil
}

func (l *Latch) open() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// Done returns a channel closed when the current arm cycle completes.
// After Reset a new channel is returned.
func (l *Latch) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Wait blocks until the latch is signaled.
func (l *Latch) Wait() {
	_ = l.WaitContext(context.Background())
}

// WaitTimeout blocks until the latch is signaled or d elapses and reports
// whether it was signaled. An already signaled latch returns true without
// blocking, whatever d is.
func (l *Latch) WaitTimeout(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.WaitContext(ctx) == nil
}

// WaitContext blocks until the latch is signaled or ctx is done. It returns
// ctx.Err() in the latter case and leaves the latch untouched.
func (l *Latch) WaitContext(ctx context.Context) error {
	var start time.Time
	if l.obs != nil {
		start = time.Now()
	}
	done := l.Done()
	var err error
	select {
	case <-done:
	default:
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if l.obs != nil {
		l.obs.LatchWaited(ctx, time.Since(start), err == nil)
	}
	return err
}

// IsSet reports whether the current arm cycle has completed.
func (l *Latch) IsSet() bool {
	select {
	case <-l.Done():
		return true
	default:
		return false
	}
}

// CurrentCount returns the number of ticks still outstanding, never less
// than zero.
func (l *Latch) CurrentCount() int {
	n := l.counter.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// InitialCount returns the count the latch was last armed with.
func (l *Latch) InitialCount() int { return int(l.initial.Load()) }
