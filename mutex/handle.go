package mutex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	serrors "github.com/NetPo4ki/go-syncx/errors"
)

// Outcome is the result of waiting on a lock handle.
type Outcome int

const (
	Failed Outcome = iota
	Acquired
	// AcquiredAfterAbandonment means ownership was granted but the previous
	// owner went away without releasing.
	AcquiredAfterAbandonment
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AcquiredAfterAbandonment:
		return "acquired_after_abandonment"
	case TimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

// Handle is one opened reference to a named lock. A handle owns the lock
// between a successful Wait and Release. Closing a handle that still owns
// the lock abandons it: the next Wait on any handle for the same name
// reports AcquiredAfterAbandonment.
type Handle interface {
	// Wait blocks until ownership is obtained or ctx is done. Deadline
	// expiry is reported as TimedOut, other failures as Failed; both come
	// with a non-nil error.
	Wait(ctx context.Context) (Outcome, error)
	// Release gives up ownership. It returns ErrOwnerMismatch if the handle
	// does not own the lock.
	Release() error
	Close() error
}

// Opener opens or creates the lock identified by name.
type Opener interface {
	Open(name string) (Handle, error)
}

// EnvLockDir overrides the directory used by the default file-backed opener.
const EnvLockDir = "GOSYNCX_LOCK_DIR"

// DefaultDir returns the lock directory used when no opener is configured.
func DefaultDir() string {
	if dir := os.Getenv(EnvLockDir); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "go-syncx")
}

const maxNameLen = 200

// ValidateName reports whether name can identify a lock. Names map to file
// names, so path separators and NUL bytes are rejected.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("mutex: invalid name %q: %w", name, serrors.ErrInvalidArgument)
	case len(name) > maxNameLen:
		return fmt.Errorf("mutex: name longer than %d bytes: %w", maxNameLen, serrors.ErrInvalidArgument)
	case strings.ContainsAny(name, "/\x00") || strings.ContainsRune(name, filepath.Separator):
		return fmt.Errorf("mutex: name %q contains a path separator or NUL: %w", name, serrors.ErrInvalidArgument)
	}
	return nil
}

func waitOutcome(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOut
	}
	return Failed
}
