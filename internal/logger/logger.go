// Package logger builds the process-wide structured logger and writes
// crash logs when a command panics.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text-handler logger writing to w. Verbose enables debug
// records; otherwise the level is info.
func New(w io.Writer, verbose bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Setup installs a stderr logger as the slog default and returns it.
// Packages that log through slog.Default pick it up immediately.
func Setup(verbose bool) *slog.Logger {
	log := New(os.Stderr, verbose)
	slog.SetDefault(log)
	return log
}
