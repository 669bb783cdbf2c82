package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("history:\n  limit: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	errs := make(chan error, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond,
			func(c *Config) { changes <- c },
			func(err error) { errs <- err })
	}()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("history:\n  limit: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if c.History.Limit != 7 {
			t.Errorf("History.Limit = %d, want 7", c.History.Limit)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}

	if err := os.WriteFile(path, []byte("history:\n  limit: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errs:
		if err == nil {
			t.Error("nil error for invalid config")
		}
	case c := <-changes:
		t.Errorf("invalid config delivered: %+v", c.History)
	case <-time.After(3 * time.Second):
		t.Fatal("no error after invalid write")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing", "config.yaml"), 0, func(*Config) {}, nil)
	if err == nil {
		t.Error("Watch() should fail for a missing directory")
	}
}
