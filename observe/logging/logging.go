// Package logging reports latch and mutex activity through log/slog.
package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/NetPo4ki/go-syncx/mutex"
)

// Logger implements latch.Observer and mutex.Observer. Routine events are
// logged at debug level; abandonment and failures are warnings or errors.
type Logger struct {
	log *slog.Logger
}

// New returns an observer writing to l, or to slog.Default when l is nil.
func New(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

func (l *Logger) LatchTicked(ctx context.Context, remaining int) {
	l.log.DebugContext(ctx, "latch ticked", slog.Int("remaining", remaining))
}

func (l *Logger) LatchCompleted(ctx context.Context) {
	l.log.InfoContext(ctx, "latch completed")
}

func (l *Logger) LatchReset(ctx context.Context, count int) {
	l.log.DebugContext(ctx, "latch reset", slog.Int("count", count))
}

func (l *Logger) LatchWaited(ctx context.Context, wait time.Duration, signaled bool) {
	l.log.DebugContext(ctx, "latch wait returned",
		slog.Duration("wait", wait),
		slog.Bool("signaled", signaled),
	)
}

func (l *Logger) MutexAcquired(ctx context.Context, name string, outcome mutex.Outcome, wait time.Duration, err error) {
	attrs := []any{
		slog.String("name", name),
		slog.String("outcome", outcome.String()),
		slog.Duration("wait", wait),
	}
	switch {
	case err != nil && (outcome == mutex.Acquired || outcome == mutex.AcquiredAfterAbandonment):
		l.log.WarnContext(ctx, "mutex acquired after abandonment", append(attrs, slog.Any("error", err))...)
	case err != nil:
		l.log.ErrorContext(ctx, "mutex acquire failed", append(attrs, slog.Any("error", err))...)
	case outcome == mutex.AcquiredAfterAbandonment:
		l.log.WarnContext(ctx, "mutex acquired after abandonment", attrs...)
	default:
		l.log.DebugContext(ctx, "mutex acquired", attrs...)
	}
}

func (l *Logger) MutexReleased(ctx context.Context, name string, held time.Duration, err error) {
	if err != nil {
		l.log.ErrorContext(ctx, "mutex release failed", slog.String("name", name), slog.Any("error", err))
		return
	}
	l.log.DebugContext(ctx, "mutex released", slog.String("name", name), slog.Duration("held", held))
}
