// Package logger sets up structured JSON logging for the engine.
package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup returns a JSON slog.Logger writing to w.
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupRotating returns a JSON logger writing to both stderr and a
// size-rotated log file. maxSizeMB and maxBackups bound disk usage.
func SetupRotating(path string, maxSizeMB, maxBackups int) *slog.Logger {
	if path == "" {
		return Setup(os.Stderr)
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	return Setup(io.MultiWriter(os.Stderr, rotator))
}
