// Package gclog is the collector's diagnostic logger: a log/slog logger
// gated by an integer verbosity level.
//
// Level 1 prints one line per collection, level 3 adds space usage before
// and after, level 4 traces phase delegation. Warnings (slow locks) are
// printed at any verbosity.
package gclog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Verbosity levels.
const (
	Quiet  = 0
	PerGC  = 1
	Usage  = 3
	Phases = 4
)

// Logger is safe for concurrent use.
type Logger struct {
	sl        *slog.Logger
	verbosity atomic.Int32
}

// New creates a logger writing text records to w.
func New(w io.Writer, verbosity int, color bool) *Logger {
	var h slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	if color {
		h = &colorHandler{Handler: h, w: w, mu: new(sync.Mutex)}
	}
	l := &Logger{sl: slog.New(h)}
	l.verbosity.Store(int32(verbosity))
	return l
}

// NewStderr creates a logger on the process's stderr. Level names are
// coloured when stderr is a terminal.
func NewStderr(verbosity int) *Logger {
	fd := os.Stderr.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return New(colorable.NewColorableStderr(), verbosity, tty)
}

// Discard returns a logger that drops everything.
func Discard() *Logger { return New(io.Discard, Quiet, false) }

// Verbosity returns the current level.
func (l *Logger) Verbosity() int { return int(l.verbosity.Load()) }

// SetVerbosity changes the level of a running logger.
func (l *Logger) SetVerbosity(v int) { l.verbosity.Store(int32(v)) }

// V reports whether messages at level are printed.
func (l *Logger) V(level int) bool { return l.Verbosity() >= level }

// Logf prints a formatted message if level is enabled.
func (l *Logger) Logf(level int, format string, args ...any) {
	if !l.V(level) {
		return
	}
	l.sl.Log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...), "v", level)
}

// Log prints msg with structured attributes if level is enabled.
func (l *Logger) Log(level int, msg string, attrs ...any) {
	if !l.V(level) {
		return
	}
	l.sl.Log(context.Background(), slog.LevelInfo, msg, append([]any{"v", level}, attrs...)...)
}

// Warnf prints regardless of verbosity.
func (l *Logger) Warnf(format string, args ...any) {
	l.sl.Warn(fmt.Sprintf(format, args...))
}

// Warn prints msg with attributes regardless of verbosity.
func (l *Logger) Warn(msg string, attrs ...any) { l.sl.Warn(msg, attrs...) }

// Slog exposes the underlying logger.
func (l *Logger) Slog() *slog.Logger { return l.sl }

const (
	ansiReset  = "\x1b[0m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiCyan   = "\x1b[36m"
)

// colorHandler wraps each record in an ANSI colour chosen by its level.
type colorHandler struct {
	slog.Handler
	w  io.Writer
	mu *sync.Mutex
}

func (h *colorHandler) Handle(ctx context.Context, r slog.Record) error {
	c := ansiCyan
	switch {
	case r.Level >= slog.LevelError:
		c = ansiRed
	case r.Level >= slog.LevelWarn:
		c = ansiYellow
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := io.WriteString(h.w, c); err != nil {
		return err
	}
	err := h.Handler.Handle(ctx, r)
	_, _ = io.WriteString(h.w, ansiReset)
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorHandler{Handler: h.Handler.WithAttrs(attrs), w: h.w, mu: h.mu}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return &colorHandler{Handler: h.Handler.WithGroup(name), w: h.w, mu: h.mu}
}
