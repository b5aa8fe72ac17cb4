package mutex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	serrors "github.com/NetPo4ki/go-syncx/errors"
)

const helperEnv = "GOSYNCX_TEST_LOCK_HELPER"

func TestMain(m *testing.M) {
	if name := os.Getenv(helperEnv); name != "" {
		os.Exit(lockHelper(name))
	}
	goleak.VerifyTestMain(m)
}

// lockHelper runs in a child process: it takes the named lock, reports it
// on stdout and exits without releasing once stdin is closed.
func lockHelper(name string) int {
	h, err := DefaultOpener().Open(name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if _, err := h.Wait(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	fmt.Println("locked")
	_, _ = io.Copy(io.Discard, os.Stdin)
	return 0
}

var testOpeners = map[string]func(t *testing.T) Opener{
	"local": func(*testing.T) Opener { return NewLocalOpener() },
}

func forEachOpener(t *testing.T, fn func(t *testing.T, op Opener)) {
	t.Helper()
	for name, mk := range testOpeners {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, mk(t))
		})
	}
}

func TestNewAcquiresAndCloseReleases(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		m, err := New("job", WithOpener(op))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if !m.Held() {
			t.Fatal("expected lock held after New")
		}
		if err := m.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if m.Held() {
			t.Fatal("expected lock released after Close")
		}
		if err := m.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}
		m2, err := New("job", WithOpener(op))
		if err != nil {
			t.Fatalf("reacquire: %v", err)
		}
		_ = m2.Close()
	})
}

func TestMutualExclusion(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		const workers = 8
		const rounds = 20
		var holders atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < rounds; j++ {
					err := With(context.Background(), "shared", func(context.Context) error {
						if n := holders.Add(1); n != 1 {
							return fmt.Errorf("%d concurrent holders", n)
						}
						time.Sleep(100 * time.Microsecond)
						holders.Add(-1)
						return nil
					}, WithOpener(op))
					if err != nil {
						t.Errorf("with: %v", err)
						return
					}
				}
			}()
		}
		wg.Wait()
	})
}

func TestCloseWakesBlockedWaiter(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		first, err := New("door", WithOpener(op))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		acquired := make(chan *ScopedMutex)
		go func() {
			second, err := New("door", WithOpener(op))
			if err != nil {
				t.Errorf("second new: %v", err)
				close(acquired)
				return
			}
			acquired <- second
		}()
		select {
		case <-acquired:
			t.Fatal("second instance acquired while first holds the lock")
		case <-time.After(30 * time.Millisecond):
		}
		if err := first.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		select {
		case second := <-acquired:
			if second == nil || !second.Held() {
				t.Fatal("second instance should hold the lock")
			}
			_ = second.Close()
		case <-time.After(time.Second):
			t.Fatal("waiter not released after Close")
		}
	})
}

// pausingOpener hands out handles whose Release blocks after the inner
// release until resume is closed.
type pausingOpener struct {
	Opener
	released chan struct{}
	resume   chan struct{}
}

type pausingHandle struct {
	Handle
	o *pausingOpener
}

func (o *pausingOpener) Open(name string) (Handle, error) {
	h, err := o.Opener.Open(name)
	if err != nil {
		return nil, err
	}
	return &pausingHandle{Handle: h, o: o}, nil
}

func (h *pausingHandle) Release() error {
	err := h.Handle.Release()
	close(h.o.released)
	<-h.o.resume
	return err
}

func TestHeldNeverOverlapsDuringRelease(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		pausing := &pausingOpener{Opener: op, released: make(chan struct{}), resume: make(chan struct{})}
		first, err := New("handover", WithOpener(pausing))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		errc := make(chan error, 1)
		go func() { errc <- first.Release() }()
		<-pausing.released

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		second, err := NewContext(ctx, "handover", WithOpener(op))
		if err != nil {
			close(pausing.resume)
			<-errc
			t.Fatalf("second new: %v", err)
		}
		if first.Held() && second.Held() {
			t.Error("both instances report the lock held")
		}
		close(pausing.resume)
		if err := <-errc; err != nil {
			t.Fatalf("release: %v", err)
		}
		if first.Held() || !second.Held() {
			t.Fatalf("unexpected ownership after handover: first=%v second=%v", first.Held(), second.Held())
		}
		_ = second.Close()
		_ = first.Close()
	})
}

func TestReleaseFailureKeepsHeld(t *testing.T) {
	t.Parallel()
	op := NewLocalOpener()
	m, err := New("sticky", WithOpener(op))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Close()
	m.h = failingRelease{m.h}
	if err := m.Release(); err == nil {
		t.Fatal("expected release error")
	}
	if !m.Held() {
		t.Fatal("failed release must leave the lock held")
	}
	m.h = m.h.(failingRelease).Handle
}

type failingRelease struct{ Handle }

func (failingRelease) Release() error { return errors.New("release failed") }

func TestAcquireContextTimesOut(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		owner, err := New("busy", WithOpener(op))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		defer owner.Close()

		obs := &recordObserver{}
		m, err := New("busy", WithOpener(op), WithAutoAcquire(false), WithObserver(obs))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		defer m.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		start := time.Now()
		err = m.AcquireContext(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Fatal("acquire did not respect context timeout")
		}
		if m.Held() {
			t.Fatal("timed out acquire must not hold the lock")
		}
		if got := obs.lastOutcome(); got != TimedOut {
			t.Fatalf("expected TimedOut outcome, got %v", got)
		}
	})
}

func TestAbandonTolerant(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		abandon(t, op, "crashy")
		obs := &recordObserver{}
		m, err := New("crashy", WithOpener(op), WithObserver(obs))
		if err != nil {
			t.Fatalf("tolerant acquire should succeed, got %v", err)
		}
		defer m.Close()
		if !m.Held() {
			t.Fatal("expected lock held")
		}
		if got := obs.lastOutcome(); got != AcquiredAfterAbandonment {
			t.Fatalf("expected abandonment outcome, got %v", got)
		}
	})
}

func TestAbandonIntolerant(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		abandon(t, op, "crashy")
		m, err := New("crashy", WithOpener(op), WithAutoAcquire(false), WithAbandonTolerant(false))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		err = m.Acquire()
		if !errors.Is(err, serrors.ErrAbandonedLock) || !IsAbandoned(err) {
			t.Fatalf("expected ErrAbandonedLock, got %v", err)
		}
		if !m.Held() {
			t.Fatal("ownership must be kept after abandonment")
		}
		if err := m.Release(); err != nil {
			t.Fatalf("release: %v", err)
		}
		if err := m.Acquire(); err != nil {
			t.Fatalf("clean reacquire: %v", err)
		}
		_ = m.Close()
	})
}

func TestNewIntolerantReturnsHeldMutex(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		abandon(t, op, "crashy")
		m, err := New("crashy", WithOpener(op), WithAbandonTolerant(false))
		if !IsAbandoned(err) {
			t.Fatalf("expected ErrAbandonedLock, got %v", err)
		}
		if m == nil || !m.Held() {
			t.Fatal("expected held mutex alongside the error")
		}
		if err := m.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})
}

func TestReleaseWithoutOwnership(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		m, err := New("idle", WithOpener(op), WithAutoAcquire(false))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		defer m.Close()
		if err := m.Release(); !errors.Is(err, serrors.ErrOwnerMismatch) {
			t.Fatalf("expected ErrOwnerMismatch, got %v", err)
		}
		if err := m.Acquire(); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if err := m.Acquire(); !errors.Is(err, serrors.ErrInvalidOperation) {
			t.Fatalf("expected ErrInvalidOperation on reacquire, got %v", err)
		}
		if err := m.Release(); err != nil {
			t.Fatalf("release: %v", err)
		}
		if err := m.Release(); !errors.Is(err, serrors.ErrOwnerMismatch) {
			t.Fatalf("expected ErrOwnerMismatch on double release, got %v", err)
		}
	})
}

func TestWithReleasesOnError(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		boom := errors.New("boom")
		err := With(context.Background(), "scoped", func(context.Context) error { return boom }, WithOpener(op))
		if !errors.Is(err, boom) {
			t.Fatalf("expected fn error, got %v", err)
		}
		assertFree(t, op, "scoped")
	})
}

func TestWithReleasesOnPanic(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		func() {
			defer func() {
				if r := recover(); r != "panic-value" {
					t.Fatalf("expected re-panic, got %v", r)
				}
			}()
			_ = With(context.Background(), "scoped", func(context.Context) error {
				panic("panic-value")
			}, WithOpener(op))
		}()
		assertFree(t, op, "scoped")

		err := With(context.Background(), "scoped", func(context.Context) error {
			panic("panic-value")
		}, WithOpener(op), WithPanicAsError(true))
		if err == nil || err.Error() == "panic-value" {
			t.Fatalf("expected converted panic error, got %v", err)
		}
		assertFree(t, op, "scoped")
	})
}

func TestWithIntolerantSkipsFn(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		abandon(t, op, "crashy")
		ran := false
		err := With(context.Background(), "crashy", func(context.Context) error {
			ran = true
			return nil
		}, WithOpener(op), WithAbandonTolerant(false))
		if !IsAbandoned(err) {
			t.Fatalf("expected ErrAbandonedLock, got %v", err)
		}
		if ran {
			t.Fatal("fn must not run on an intolerant abandoned lock")
		}
		assertFree(t, op, "crashy")
	})
}

func TestObserverPairs(t *testing.T) {
	t.Parallel()
	forEachOpener(t, func(t *testing.T, op Opener) {
		obs := &recordObserver{}
		for i := 0; i < 3; i++ {
			if err := With(context.Background(), "observed", func(context.Context) error { return nil },
				WithOpener(op), WithObserver(obs)); err != nil {
				t.Fatalf("with: %v", err)
			}
		}
		obs.mu.Lock()
		defer obs.mu.Unlock()
		if obs.acquired != 3 || obs.released != 3 {
			t.Fatalf("expected 3 acquire/release pairs, got %d/%d", obs.acquired, obs.released)
		}
	})
}

func TestValidateName(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", ".", "..", "a/b", "nul\x00"} {
		if err := ValidateName(name); !errors.Is(err, serrors.ErrInvalidArgument) {
			t.Fatalf("ValidateName(%q): expected ErrInvalidArgument, got %v", name, err)
		}
		if _, err := New(name, WithOpener(NewLocalOpener())); !errors.Is(err, serrors.ErrInvalidArgument) {
			t.Fatalf("New(%q): expected ErrInvalidArgument, got %v", name, err)
		}
	}
	for _, name := range []string{"job", "job_2", "build-cache.v2"} {
		if err := ValidateName(name); err != nil {
			t.Fatalf("ValidateName(%q): %v", name, err)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	cases := map[Outcome]string{
		Failed:                   "failed",
		Acquired:                 "acquired",
		AcquiredAfterAbandonment: "acquired_after_abandonment",
		TimedOut:                 "timed_out",
	}
	for o, want := range cases {
		if o.String() != want {
			t.Fatalf("%d: got %q want %q", int(o), o.String(), want)
		}
	}
}

// abandon takes the named lock through a raw handle and closes the handle
// without releasing.
func abandon(t *testing.T, op Opener, name string) {
	t.Helper()
	h, err := op.Open(name)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func assertFree(t *testing.T, op Opener, name string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	m, err := NewContext(ctx, name, WithOpener(op), WithAbandonTolerant(false))
	if err != nil {
		t.Fatalf("lock %q not cleanly released: %v", name, err)
	}
	_ = m.Close()
}

type recordObserver struct {
	mu       sync.Mutex
	acquired int
	released int
	outcome  Outcome
}

func (o *recordObserver) MutexAcquired(_ context.Context, _ string, outcome Outcome, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acquired++
	o.outcome = outcome
}

func (o *recordObserver) MutexReleased(_ context.Context, _ string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released++
}

func (o *recordObserver) lastOutcome() Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}
