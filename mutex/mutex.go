package mutex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	serrors "github.com/NetPo4ki/go-syncx/errors"
)

type Option func(*Options)

type Options struct {
	AutoAcquire     bool
	AbandonTolerant bool
	PanicAsError    bool
	Opener          Opener
	Observer        Observer
}

func defaultOptions() Options { return Options{AutoAcquire: true, AbandonTolerant: true} }

// WithAutoAcquire controls whether New blocks until the lock is held.
func WithAutoAcquire(v bool) Option { return func(o *Options) { o.AutoAcquire = v } }

// WithAbandonTolerant controls whether acquiring an abandoned lock counts as
// success. When false, Acquire returns ErrAbandonedLock but still holds the
// lock.
func WithAbandonTolerant(v bool) Option { return func(o *Options) { o.AbandonTolerant = v } }

// WithPanicAsError makes With return a panic in its function as an error
// instead of re-panicking once the lock is released.
func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

func WithOpener(op Opener) Option { return func(o *Options) { o.Opener = op } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

type Observer interface {
	MutexAcquired(ctx context.Context, name string, outcome Outcome, wait time.Duration, err error)
	MutexReleased(ctx context.Context, name string, held time.Duration, err error)
}

// ScopedMutex holds one handle on a named lock. Acquire, Release and Close
// must not be called concurrently on the same ScopedMutex; Held may be.
// Always Close a ScopedMutex, typically with defer, so the lock is released
// on every return path.
type ScopedMutex struct {
	name string
	h    Handle

	mu         sync.Mutex
	held       atomic.Bool
	closed     bool
	acquiredAt time.Time

	opts Options
	obs  Observer
}

// New opens the named lock and, unless WithAutoAcquire(false) is given,
// blocks until it is held.
func New(name string, optFns ...Option) (*ScopedMutex, error) {
	return NewContext(context.Background(), name, optFns...)
}

// NewContext is New with the automatic acquisition bounded by ctx. If the
// lock turns out to be abandoned and the mutex is not abandon tolerant, the
// mutex is returned together with ErrAbandonedLock: it holds the lock and
// must be closed.
func NewContext(ctx context.Context, name string, optFns ...Option) (*ScopedMutex, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if opts.Opener == nil {
		opts.Opener = DefaultOpener()
	}
	h, err := opts.Opener.Open(name)
	if err != nil {
		return nil, err
	}
	m := &ScopedMutex{name: name, h: h, opts: opts, obs: opts.Observer}
	if !opts.AutoAcquire {
		return m, nil
	}
	if err := m.AcquireContext(ctx); err != nil {
		if m.Held() {
			return m, err
		}
		_ = h.Close()
		return nil, err
	}
	return m, nil
}

func (m *ScopedMutex) Name() string { return m.name }

// Held reports whether this instance currently owns the lock.
func (m *ScopedMutex) Held() bool { return m.held.Load() }

// Acquire blocks until the lock is held.
func (m *ScopedMutex) Acquire() error {
	return m.AcquireContext(context.Background())
}

// AcquireContext blocks until the lock is held or ctx is done. An abandoned
// lock is acquired either way; whether that is reported as ErrAbandonedLock
// depends on WithAbandonTolerant.
func (m *ScopedMutex) AcquireContext(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mutex %q: acquire after close: %w", m.name, serrors.ErrInvalidOperation)
	}
	if m.held.Load() {
		return fmt.Errorf("mutex %q: already held: %w", m.name, serrors.ErrInvalidOperation)
	}

	start := time.Now()
	outcome, err := m.h.Wait(ctx)
	switch outcome {
	case Acquired:
		m.markHeld()
		err = nil
	case AcquiredAfterAbandonment:
		m.markHeld()
		err = nil
		if !m.opts.AbandonTolerant {
			err = fmt.Errorf("mutex %q: %w", m.name, serrors.ErrAbandonedLock)
		}
	default:
		if err == nil {
			err = fmt.Errorf("mutex %q: wait %s", m.name, outcome)
		}
	}
	if m.obs != nil {
		m.obs.MutexAcquired(ctx, m.name, outcome, time.Since(start), err)
	}
	return err
}

func (m *ScopedMutex) markHeld() {
	m.acquiredAt = time.Now()
	m.held.Store(true)
}

// Release gives up the lock. The underlying handle rejects the call with
// ErrOwnerMismatch if this instance does not hold it.
func (m *ScopedMutex) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mutex %q: release after close: %w", m.name, serrors.ErrOwnerMismatch)
	}
	return m.release()
}

func (m *ScopedMutex) release() error {
	// held must be false before the handle lets go of the lock.
	wasHeld := m.held.Swap(false)
	err := m.h.Release()
	if err != nil && wasHeld {
		m.held.Store(true)
	}
	if m.obs != nil && wasHeld {
		m.obs.MutexReleased(context.Background(), m.name, time.Since(m.acquiredAt), err)
	}
	return err
}

// Close releases the lock if held and then closes the handle. The handle is
// closed even if the release fails. Close is idempotent.
func (m *ScopedMutex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var relErr error
	if m.held.Load() {
		relErr = m.release()
	}
	m.held.Store(false)
	return combine(relErr, m.h.Close())
}

// With acquires the named lock, runs fn and releases the lock however fn
// returns, including by panic. Under an abandon intolerant policy an
// abandoned lock is released again and fn is not run.
func With(ctx context.Context, name string, fn func(ctx context.Context) error, optFns ...Option) (err error) {
	m, err := NewContext(ctx, name, append(optFns[:len(optFns):len(optFns)], WithAutoAcquire(true))...)
	if err != nil {
		if m != nil {
			err = combine(err, m.Close())
		}
		return err
	}
	defer func() {
		r := recover()
		var perr error
		if r != nil && m.opts.PanicAsError {
			perr = fmt.Errorf("panic: %v", r)
		}
		err = combine(err, perr, m.Close())
		if r != nil && !m.opts.PanicAsError {
			panic(r)
		}
	}()
	return fn(ctx)
}

func combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	return multierror.Append(nil, nonNil...)
}

// IsAbandoned reports whether err says the lock was acquired after
// abandonment, in which case the caller holds it.
func IsAbandoned(err error) bool {
	return errors.Is(err, serrors.ErrAbandonedLock)
}
