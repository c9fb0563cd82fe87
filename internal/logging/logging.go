// Package logging configures the process-wide slog logger and hands out
// component-scoped children.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var level atomic.Pointer[slog.LevelVar]

func init() {
	lv := new(slog.LevelVar)
	level.Store(lv)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
}

// Setup installs a text handler writing to w at the named level
// ("debug", "info", "warn", "error"). Unknown names fall back to info.
func Setup(w io.Writer, name string) {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(name))
	level.Store(lv)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})))
}

// SetLevel changes the level of the handler installed by Setup.
func SetLevel(name string) {
	level.Load().Set(ParseLevel(name))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns the default logger scoped to a component.
func New(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
