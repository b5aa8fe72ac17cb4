//go:build unix

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-syncx/mutex"
	"github.com/NetPo4ki/go-syncx/observe/logging"
)

func NewRunCmd(args *RootArgs) *cobra.Command {
	timeout := new(time.Duration)
	strict := new(bool)

	cmd := &cobra.Command{
		Use:   "run NAME -- COMMAND [ARGS...]",
		Short: "Run a command while holding a named lock",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, argv []string) error {
			name, command := argv[0], argv[1:]

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if *timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, *timeout)
				defer cancel()
			}

			op := args.opener()
			err := mutex.With(ctx, name, func(context.Context) error {
				args.logger.Info("lock acquired, running command", "name", name, "dir", op.Dir(), "command", command[0])
				// --timeout bounds the lock wait only, not the command.
				c := exec.Command(command[0], command[1:]...)
				c.Stdin = cmd.InOrStdin()
				c.Stdout = cmd.OutOrStdout()
				c.Stderr = cmd.ErrOrStderr()
				return c.Run()
			},
				mutex.WithOpener(op),
				mutex.WithAbandonTolerant(!*strict),
				mutex.WithObserver(logging.New(args.logger)),
			)

			var exitErr *exec.ExitError
			switch {
			case err == nil:
				return nil
			case errors.As(err, &exitErr):
				return &ExitError{Code: exitErr.ExitCode()}
			case errors.Is(err, context.DeadlineExceeded):
				return fmt.Errorf("timed out after %s waiting for lock %q", *timeout, name)
			default:
				return err
			}
		},
	}

	cmd.Flags().DurationVar(timeout, "timeout", 0, "Give up waiting for the lock after this long (0 waits forever)")
	cmd.Flags().BoolVar(strict, "strict", false, "Fail instead of proceeding when the lock was abandoned")

	return cmd
}
