package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dshills/easel/internal/config"
)

func writeConfig(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"loud", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, level := NewLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "uid", "abc")
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not one JSON record: %q", buf.String())
	}
	if rec["msg"] != "shown" || rec["uid"] != "abc" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	level.Set(slog.LevelDebug)
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("level change not honoured")
	}

	buf.Reset()
	text, _ := NewLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	text.Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	if s := m.Snapshot(); s.Commits != 0 || s.MinCommit != 0 {
		t.Errorf("empty snapshot = %+v", s)
	}
	m.RecordCommit(2*time.Millisecond, nil)
	m.RecordCommit(4*time.Millisecond, nil)
	m.RecordCommit(time.Second, errors.New("commit failed"))

	s := m.Snapshot()
	if s.Commits != 2 || s.FailedCommits != 1 {
		t.Errorf("counts = %+v", s)
	}
	if s.MinCommit != 2*time.Millisecond || s.MaxCommit != 4*time.Millisecond {
		t.Errorf("min/max = %v/%v", s.MinCommit, s.MaxCommit)
	}
	if s.AvgCommit != 3*time.Millisecond || s.LastCommit != 4*time.Millisecond {
		t.Errorf("avg/last = %v/%v", s.AvgCommit, s.LastCommit)
	}
}
