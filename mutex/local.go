package mutex

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	serrors "github.com/NetPo4ki/go-syncx/errors"
)

// LocalOpener serves named locks shared by the goroutines of one process.
type LocalOpener struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch        chan struct{}
	abandoned atomic.Bool
	refs      int
}

func NewLocalOpener() *LocalOpener {
	return &LocalOpener{slots: make(map[string]*localSlot)}
}

// Open implements Opener.
func (o *LocalOpener) Open(name string) (Handle, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.slots[name]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		o.slots[name] = s
	}
	s.refs++
	return &localHandle{o: o, name: name, slot: s}, nil
}

func (o *LocalOpener) unref(name string, s *localSlot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s.refs--
	// An abandoned slot outlives its handles so the next opener sees it.
	if s.refs == 0 && !s.abandoned.Load() && o.slots[name] == s {
		delete(o.slots, name)
	}
}

type localHandle struct {
	o    *LocalOpener
	name string
	slot *localSlot

	mu     sync.Mutex
	held   bool
	closed bool
}

func (h *localHandle) Wait(ctx context.Context) (Outcome, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Failed, fmt.Errorf("mutex %q: %w", h.name, os.ErrClosed)
	}
	if h.held {
		h.mu.Unlock()
		return Failed, fmt.Errorf("mutex %q: handle already owns the lock: %w", h.name, serrors.ErrInvalidOperation)
	}
	h.mu.Unlock()

	select {
	case h.slot.ch <- struct{}{}:
	case <-ctx.Done():
		return waitOutcome(ctx.Err()), ctx.Err()
	}

	h.mu.Lock()
	h.held = true
	h.mu.Unlock()
	if h.slot.abandoned.Swap(false) {
		return AcquiredAfterAbandonment, nil
	}
	return Acquired, nil
}

func (h *localHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.held {
		return fmt.Errorf("mutex %q: %w", h.name, serrors.ErrOwnerMismatch)
	}
	h.held = false
	<-h.slot.ch
	return nil
}

func (h *localHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if h.held {
		h.held = false
		h.slot.abandoned.Store(true)
		<-h.slot.ch
	}
	h.mu.Unlock()
	h.o.unref(h.name, h.slot)
	return nil
}
