package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gogpu/gg"

	"github.com/dshills/easel/internal/config"
)

// ParseLogLevel parses a level name. Unknown names map to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a text or JSON logger writing to w (os.Stderr when nil).
// The returned LevelVar can change the level later.
func NewLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	if w == nil {
		w = os.Stderr
	}
	level := new(slog.LevelVar)
	level.Set(ParseLogLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), level
}

// forwardLogger routes the rendering library's diagnostics through l.
func forwardLogger(l *slog.Logger) {
	gg.SetLogger(l.With("component", "gg"))
}
