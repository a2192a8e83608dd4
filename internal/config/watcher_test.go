package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "easel.toml", "[history]\nmaxEntries = 10\n")

	got := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { got <- c },
		WithDebounce(10*time.Millisecond), WithEnv(noEnv()))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[history]\nmaxEntries = 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A slow write can be observed half done; wait for the final content.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-got:
			if cfg.History.MaxEntries == 20 {
				return
			}
		case <-timeout:
			t.Fatal("no reload after write")
		}
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "easel.toml", "")

	got := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) { got <- c },
		WithDebounce(10*time.Millisecond), WithEnv(noEnv()))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	writeFile(t, dir, "other.toml", "[history]\nmaxEntries = 3\n")
	select {
	case <-got:
		t.Error("reloaded for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "easel.yaml", "history:\n  maxEntries: 5\n")

	calls := 0
	w, err := NewWatcher(path, func(*Config) { calls++ }, WithDebounce(time.Hour), WithEnv(noEnv()))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if _, err := w.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	writeFile(t, dir, "easel.yaml", "history:\n  maxEntries: -5\n")
	if _, err := w.Reload(); err == nil {
		t.Error("expected invalid config to be rejected")
	}
	if calls != 1 {
		t.Errorf("onChange called %d times, want 1", calls)
	}
	reloads, failures := w.Stats()
	if reloads != 1 || failures != 1 {
		t.Errorf("Stats() = %d, %d; want 1, 1", reloads, failures)
	}
}

func TestWatcherClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "easel.toml")
	w, err := NewWatcher(path, func(*Config) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := w.Reload(); err == nil {
		t.Error("Reload after Close should fail")
	}
}

func TestNewWatcherRejectsUnsupportedFormat(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "easel.ini"), func(*Config) {}); err == nil {
		t.Error("expected error for .ini")
	}
	if _, err := NewWatcher("easel.toml", nil); err == nil {
		t.Error("expected error for nil callback")
	}
}
