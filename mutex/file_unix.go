//go:build unix

package mutex

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	serrors "github.com/NetPo4ki/go-syncx/errors"
)

const (
	minPoll = time.Millisecond
	maxPoll = 50 * time.Millisecond
)

// FileOpener serves named locks shared by every process on the host. Each
// name maps to a file under dir locked with flock(2). The owner writes a
// record into the file once it holds the lock and truncates it on release,
// so a record found by the next owner means the lock was abandoned.
//
// Lock files are never removed: unlinking a file another process has open
// would let two owners lock different inodes under the same name.
type FileOpener struct {
	dir string
}

func NewFileOpener(dir string) *FileOpener {
	return &FileOpener{dir: dir}
}

func (o *FileOpener) Dir() string { return o.dir }

func (o *FileOpener) path(name string) string {
	return filepath.Join(o.dir, name+".lock")
}

// Open implements Opener. The lock file and its directory are created if
// missing.
func (o *FileOpener) Open(name string) (Handle, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil, fmt.Errorf("mutex %q: %w", name, err)
	}
	f, err := os.OpenFile(o.path(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mutex %q: %w", name, err)
	}
	return &fileHandle{name: name, f: f}, nil
}

// Owner is the record left in a lock file by its current or last owner.
type Owner struct {
	PID   int
	Since time.Time
}

// State describes a named lock as seen from outside.
type State struct {
	Held      bool
	Abandoned bool
	Owner     *Owner
}

// Inspect reports the state of the named lock without acquiring it.
func (o *FileOpener) Inspect(name string) (State, error) {
	if err := ValidateName(name); err != nil {
		return State{}, err
	}
	f, err := os.Open(o.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("mutex %q: %w", name, err)
	}
	defer f.Close()

	owner, err := readOwner(f)
	if err != nil {
		return State{}, fmt.Errorf("mutex %q: %w", name, err)
	}
	st := State{Owner: owner}
	fd := int(f.Fd())
	err = flock(fd, unix.LOCK_SH|unix.LOCK_NB)
	switch {
	case err == nil:
		_ = flock(fd, unix.LOCK_UN)
		st.Abandoned = owner != nil
	case errors.Is(err, unix.EWOULDBLOCK):
		st.Held = true
	default:
		return State{}, fmt.Errorf("mutex %q: %w", name, err)
	}
	return st, nil
}

type fileHandle struct {
	name string

	mu     sync.Mutex
	f      *os.File
	held   bool
	closed bool
}

func (h *fileHandle) Wait(ctx context.Context) (Outcome, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Failed, fmt.Errorf("mutex %q: %w", h.name, os.ErrClosed)
	}
	if h.held {
		h.mu.Unlock()
		return Failed, fmt.Errorf("mutex %q: handle already owns the lock: %w", h.name, serrors.ErrInvalidOperation)
	}
	fd := int(h.f.Fd())
	h.mu.Unlock()

	if err := lockFile(ctx, fd); err != nil {
		err = fmt.Errorf("mutex %q: %w", h.name, err)
		if ctx.Err() != nil {
			return waitOutcome(err), err
		}
		return Failed, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	abandoned, err := h.claim()
	if err != nil {
		_ = flock(fd, unix.LOCK_UN)
		return Failed, fmt.Errorf("mutex %q: %w", h.name, err)
	}
	h.held = true
	if abandoned {
		return AcquiredAfterAbandonment, nil
	}
	return Acquired, nil
}

// lockFile takes an exclusive flock on fd. Without a cancellable context it
// blocks in the kernel; otherwise it polls with a growing interval.
func lockFile(ctx context.Context, fd int) error {
	if ctx.Done() == nil {
		return flock(fd, unix.LOCK_EX)
	}
	interval := minPoll
	for {
		err := flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return err
		}
		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		interval = min(interval*2, maxPoll)
	}
}

func flock(fd, how int) error {
	for {
		err := unix.Flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// claim replaces any previous owner record with ours and reports whether
// one was present.
func (h *fileHandle) claim() (bool, error) {
	st, err := h.f.Stat()
	if err != nil {
		return false, err
	}
	abandoned := st.Size() > 0
	if err := h.f.Truncate(0); err != nil {
		return false, err
	}
	rec := fmt.Sprintf("%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := h.f.WriteAt([]byte(rec), 0); err != nil {
		return false, err
	}
	return abandoned, nil
}

func (h *fileHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.held || h.closed {
		return fmt.Errorf("mutex %q: %w", h.name, serrors.ErrOwnerMismatch)
	}
	if err := h.f.Truncate(0); err != nil {
		return fmt.Errorf("mutex %q: clear owner record: %w", h.name, err)
	}
	if err := flock(int(h.f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("mutex %q: %w", h.name, err)
	}
	h.held = false
	return nil
}

// Close closes the lock file. If the handle still owns the lock its record
// stays behind and the kernel drops the flock, which is what a crashed
// owner looks like to the next acquirer.
func (h *fileHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.held = false
	return h.f.Close()
}

func readOwner(f *os.File) (*Owner, error) {
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if line == "" {
		return nil, nil
	}
	// A record without its newline comes from an owner that died mid-write.
	o := &Owner{}
	pid, since, _ := strings.Cut(strings.TrimSpace(line), " ")
	o.PID, _ = strconv.Atoi(pid)
	o.Since, _ = time.Parse(time.RFC3339Nano, since)
	return o, nil
}
