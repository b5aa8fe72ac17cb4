// Package log builds log/slog loggers from level and format strings.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	JSONFormat = "json"
	TextFormat = "text"

	EnvLevel  = "GOSYNCX_LOG_LEVEL"
	EnvFormat = "GOSYNCX_LOG_FORMAT"
)

// CreateHandler creates a [slog.Handler] by strings. An empty format means text.
func CreateHandler(w io.Writer, logLevel, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: GetLevel(logLevel)}
	switch strings.ToLower(logFormat) {
	case JSONFormat:
		return slog.NewJSONHandler(w, opts), nil
	case TextFormat, "":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", logFormat)
	}
}

func GetLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug", "trace":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
