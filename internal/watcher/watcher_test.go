package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_EmitsSettledJSON(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Two writes inside the settle window collapse to one event.
	path := filepath.Join(dir, "graph.json")
	if err := os.WriteFile(path, []byte(`{"nodes":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"nodes":[{"type":"KSampler"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	// Non-JSON files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-w.Events():
		if got != path {
			t.Fatalf("event path = %q, want %q", got, path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event before timeout")
	}

	select {
	case got := <-w.Events():
		t.Fatalf("unexpected second event %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

// Shutdown racing a burst of firing debounce timers must not send on the
// closed events channel.
func TestWatcher_ShutdownUnderLoad(t *testing.T) {
	for iter := 0; iter < 10; iter++ {
		dir := t.TempDir()

		w, err := New(dir, WithDebounce(time.Millisecond))
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		runDone := make(chan error, 1)
		go func() { runDone <- w.Run(ctx) }()

		for i := 0; i < 20; i++ {
			name := filepath.Join(dir, fmt.Sprintf("wf-%d.json", i))
			if err := os.WriteFile(name, []byte(`{"nodes":[]}`), 0o644); err != nil {
				t.Fatal(err)
			}
		}

		// Cancel while timers are mid-fire. Events is intentionally not
		// drained first, so callbacks race the close directly.
		time.Sleep(time.Duration(iter) * 500 * time.Microsecond)
		cancel()

		select {
		case err := <-runDone:
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("Run returned %v, want context.Canceled", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Run did not return after cancel")
		}

		// After Run returns the channel must be closed, with anything
		// buffered still readable.
		for {
			if _, ok := <-w.Events(); !ok {
				break
			}
		}
		w.Close()
	}
}
