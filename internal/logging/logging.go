// Package logging builds the process-wide structured logger. Grounded on
// cmd/worker/main.go's slog setup and the original implementation's
// get_logger helper, which tees every record to stdout and to a
// webviewer-tailable file under CONFIG_PATH/log.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// New builds a *slog.Logger that writes JSON records to stdout and to
// logPath, creating logPath's parent directory if needed. If logPath
// cannot be opened, the file sink is skipped and a warning is emitted to
// stdout alone — a mediator with a broken log file should still run.
func New(level, logPath string) *slog.Logger {
	writers := []io.Writer{os.Stdout}
	var sinkErr error

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			sinkErr = err
		} else if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
			sinkErr = err
		} else {
			writers = append(writers, f)
		}
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler)
	if sinkErr != nil {
		logger.Warn("log file unavailable, logging to stdout only", "path", logPath, "error", sinkErr)
	}
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
