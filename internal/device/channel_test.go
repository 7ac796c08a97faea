package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// newShellChannel returns a channel whose session is a local /bin/sh
// reading commands from stdin, standing in for "adb shell".
func newShellChannel(t *testing.T) *Channel {
	t.Helper()
	ch := NewChannel(Config{Binary: "/bin/sh", Shell: []string{"-s"}})
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestChannel_ExecuteBeforeOpen(t *testing.T) {
	ch := newShellChannel(t)

	_, err := ch.Execute(context.Background(), "echo hi", time.Second)
	if !errors.Is(err, ErrChannelNotReady) {
		t.Errorf("Execute() error = %v, want %v", err, ErrChannelNotReady)
	}
}

func TestChannel_OpenThenExecute(t *testing.T) {
	ch := newShellChannel(t)
	ctx := context.Background()

	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !ch.IsOpen() {
		t.Error("IsOpen() = false after Open()")
	}

	out, err := ch.Execute(ctx, "echo hi", time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "hi" {
		t.Errorf("Execute() = %q, want %q", out, "hi")
	}
	if strings.Contains(out, sentinelPrefix) {
		t.Errorf("Execute() output contains sentinel: %q", out)
	}
}

func TestChannel_OpenIsIdempotent(t *testing.T) {
	ch := newShellChannel(t)
	ctx := context.Background()

	if err := ch.Open(ctx); err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	ch.mu.Lock()
	first := ch.current
	ch.mu.Unlock()

	if err := ch.Open(ctx); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	ch.mu.Lock()
	second := ch.current
	ch.mu.Unlock()

	if first != second {
		t.Error("second Open() replaced a live session")
	}
}

func TestChannel_MultiLineOutput(t *testing.T) {
	ch := newShellChannel(t)
	ctx := context.Background()
	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	out, err := ch.Execute(ctx, "printf 'a\\nb\\nc\\n'", time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "a\nb\nc" {
		t.Errorf("Execute() = %q, want %q", out, "a\nb\nc")
	}

	out, err = ch.Execute(ctx, "true", time.Second)
	if err != nil {
		t.Fatalf("Execute(true) error = %v", err)
	}
	if out != "" {
		t.Errorf("Execute(true) = %q, want empty", out)
	}
}

func TestChannel_TimeoutThenResync(t *testing.T) {
	ch := newShellChannel(t)
	ctx := context.Background()
	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	out, err := ch.Execute(ctx, "echo partial; sleep 1", 200*time.Millisecond)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("Execute() error = %v, want %v", err, ErrCommandTimeout)
	}
	if out != "partial" {
		t.Errorf("partial output = %q, want %q", out, "partial")
	}

	// The late sentinel from the timed-out command must be discarded.
	out, err = ch.Execute(ctx, "echo after", 5*time.Second)
	if err != nil {
		t.Fatalf("Execute() after timeout error = %v", err)
	}
	if out != "after" {
		t.Errorf("Execute() after timeout = %q, want %q", out, "after")
	}
}

func TestChannel_LateOutputIsDiscarded(t *testing.T) {
	ch := newShellChannel(t)
	ctx := context.Background()
	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := ch.Execute(ctx, "sleep 0.3; echo stale", 100*time.Millisecond); !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("Execute() error = %v, want %v", err, ErrCommandTimeout)
	}

	out, err := ch.Execute(ctx, "echo fresh", 5*time.Second)
	if err != nil {
		t.Fatalf("Execute() after timeout error = %v", err)
	}
	if out != "fresh" {
		t.Errorf("Execute() after timeout = %q, want %q", out, "fresh")
	}
}

func TestChannel_SessionExit(t *testing.T) {
	ch := newShellChannel(t)
	ctx := context.Background()
	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := ch.Execute(ctx, "exit 0", time.Second); !errors.Is(err, ErrChannelNotReady) {
		t.Errorf("Execute(exit) error = %v, want %v", err, ErrChannelNotReady)
	}
	if _, err := ch.Execute(ctx, "echo hi", time.Second); !errors.Is(err, ErrChannelNotReady) {
		t.Errorf("Execute() after exit error = %v, want %v", err, ErrChannelNotReady)
	}

	if err := ch.Open(ctx); err != nil {
		t.Fatalf("re-Open() error = %v", err)
	}
	if out, err := ch.Execute(ctx, "echo back", time.Second); err != nil || out != "back" {
		t.Errorf("Execute() after re-Open = %q, %v; want %q, nil", out, err, "back")
	}
}

func TestChannel_CloseIdempotent(t *testing.T) {
	ch := newShellChannel(t)
	ctx := context.Background()
	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := ch.Close(); err != nil {
			t.Errorf("Close() #%d error = %v", i, err)
		}
	}
	if _, err := ch.Execute(ctx, "echo hi", time.Second); !errors.Is(err, ErrChannelNotReady) {
		t.Errorf("Execute() after Close error = %v, want %v", err, ErrChannelNotReady)
	}
}

func TestChannel_OpenUnavailable(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing binary", Config{Binary: "/nonexistent/adb"}},
		{"session exits immediately", Config{Binary: "/bin/false", Shell: []string{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChannel(tt.cfg)
			err := ch.Open(context.Background())
			if !errors.Is(err, ErrChannelUnavailable) {
				t.Errorf("Open() error = %v, want %v", err, ErrChannelUnavailable)
			}
		})
	}
}

func TestChannel_ExecuteSerialises(t *testing.T) {
	ch := newShellChannel(t)
	ctx := context.Background()
	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("cmd-%d", i)
			out, err := ch.Execute(ctx, "echo "+want, 5*time.Second)
			if err != nil {
				errs <- err
				return
			}
			if out != want {
				errs <- fmt.Errorf("Execute() = %q, want %q", out, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestChannel_ExecuteCancelled(t *testing.T) {
	ch := newShellChannel(t)
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ch.Execute(ctx, "sleep 1", 5*time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want %v", err, context.Canceled)
	}
}
