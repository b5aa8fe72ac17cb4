// Package errgroup pairs a golang.org/x/sync/errgroup.Group with a countdown
// latch. Each function started through the Group ticks the latch when it
// returns, so other goroutines can wait for a known number of completions
// without joining the group.
package errgroup

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/NetPo4ki/go-syncx/latch"
)

// Group is an errgroup.Group whose functions tick a latch on return.
type Group struct {
	g *errgroup.Group
	l *latch.Latch
}

// WithLatch creates a Group expecting n functions. The returned context is
// canceled when any function returns a non-nil error or when Wait returns.
func WithLatch(ctx context.Context, n int, opts ...latch.Option) (*Group, context.Context, error) {
	l, err := latch.New(n, opts...)
	if err != nil {
		return nil, nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, l: l}, gctx, nil
}

// Go starts f. The latch is ticked after f returns, whatever it returns.
// Starting more functions than the latch counts makes Wait report
// ErrInvalidOperation.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	g.g.Go(func() (err error) {
		defer func() {
			if terr := g.l.Tick(); terr != nil && err == nil {
				err = terr
			}
		}()
		return f()
	})
}

// SetLimit limits the number of active functions; see errgroup.Group.SetLimit.
func (g *Group) SetLimit(n int) { g.g.SetLimit(n) }

// Latch returns the latch ticked by the group's functions.
func (g *Group) Latch() *latch.Latch { return g.l }

// Wait blocks until all functions have returned and returns the first
// non-nil error.
func (g *Group) Wait() error {
	return g.g.Wait()
}
