//go:build unix

package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-syncx/internal/log"
	"github.com/NetPo4ki/go-syncx/mutex"
)

const (
	rootDesc = `namedlock serializes work across processes on this host with named locks.

Locks are files under the lock directory, locked with flock(2). A lock whose
holder exited without releasing it is reported as abandoned; run treats it as
acquired unless --strict is given.
`
	rootExample = `  # Run a build while no other build on this host runs
  namedlock run build -- make all

  # Give up after 30 seconds
  namedlock run --timeout 30s build -- make all

  # Show who holds a lock
  namedlock inspect build
`
)

var ErrArgument = errors.New("argument error")

// ExitError carries the exit code of a command run under a lock.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("command exited with status %d", e.Code) }

// RootArgs holds flags shared by every subcommand.
type RootArgs struct {
	dir       *string
	logLevel  *string
	logFormat *string

	logger *slog.Logger
}

func NewRootArgs() *RootArgs {
	return &RootArgs{
		dir:       new(string),
		logLevel:  new(string),
		logFormat: new(string),
	}
}

func (a *RootArgs) opener() *mutex.FileOpener {
	return mutex.NewFileOpener(*a.dir)
}

// NewRootCmd returns the namedlock command tree.
func NewRootCmd() *cobra.Command {
	args := NewRootArgs()

	cmd := &cobra.Command{
		Use:           "namedlock",
		Short:         "Run commands under host-wide named locks",
		Long:          rootDesc,
		Example:       rootExample,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(args.dir, "dir", mutex.DefaultDir(), "Lock directory (env "+mutex.EnvLockDir+")")
	cmd.PersistentFlags().StringVar(args.logLevel, "log-level", envOr(log.EnvLevel, "warn"), "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(args.logFormat, "log-format", envOr(log.EnvFormat, log.TextFormat), "Log format: text or json")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		h, err := log.CreateHandler(cmd.ErrOrStderr(), *args.logLevel, *args.logFormat)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrArgument, err)
		}
		args.logger = slog.New(h)
		return nil
	}

	cmd.AddCommand(NewRunCmd(args))
	cmd.AddCommand(NewInspectCmd(args))

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
