package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatch_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("trigger:\n  no_blink_seconds: 20\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zap.NewNop(), func(c *Config) { got <- c })
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-got:
			// A reload may observe the truncated file before the write lands.
			if c.Trigger.NoBlinkSeconds != 45 {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch returned %v", err)
			}
			return
		case <-tick.C:
			// The watcher may not be registered yet; keep rewriting.
			_ = os.WriteFile(path, []byte("trigger:\n  no_blink_seconds: 45\n"), 0o600)
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_InvalidReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("trigger:\n  mode: sometimes\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	calls := 0
	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(50 * time.Millisecond)
			appendLine(t, path, "# edited\n")
		}
	}()
	if err := Watch(ctx, path, zap.NewNop(), func(*Config) { calls++ }); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if calls != 0 {
		t.Errorf("onChange called %d times for invalid config", calls)
	}
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), nil, func(*Config) {})
	if err == nil {
		t.Fatal("expected error watching a missing file")
	}
}

// appendLine appends without truncating so every intermediate state of the
// file stays invalid.
func appendLine(t *testing.T, path, line string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Error(err)
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line)
}
