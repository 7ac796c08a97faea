package device

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestRunOneShot_ExitStatus(t *testing.T) {
	ch := NewChannel(Config{Binary: "/bin/sh"})

	res, err := ch.RunOneShot(context.Background(), time.Second, "-c", "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Fatalf("RunOneShot() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Success() {
		t.Error("Success() = true, want false")
	}
	if got := strings.TrimSpace(string(res.Stdout)); got != "out" {
		t.Errorf("Stdout = %q, want %q", got, "out")
	}
	if got := strings.TrimSpace(string(res.Stderr)); got != "err" {
		t.Errorf("Stderr = %q, want %q", got, "err")
	}
}

func TestRunOneShot_Timeout(t *testing.T) {
	ch := NewChannel(Config{Binary: "/bin/sh"})

	start := time.Now()
	_, err := ch.RunOneShot(context.Background(), 100*time.Millisecond, "-c", "sleep 5")
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("RunOneShot() error = %v, want %v", err, ErrCommandTimeout)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("RunOneShot() did not honour its timeout")
	}
}

func TestRunOneShot_SerialPrepended(t *testing.T) {
	// With /bin/sh as the binary, "-s emulator-5554 extra" reads commands
	// from an empty stdin and exits 0; a missing "-s" would fail on "extra".
	ch := NewChannel(Config{Binary: "/bin/sh", Serial: "emulator-5554"})

	res, err := ch.RunOneShot(context.Background(), time.Second, "extra")
	if err != nil {
		t.Fatalf("RunOneShot() error = %v", err)
	}
	if !res.Success() {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestCapture_Failure(t *testing.T) {
	ch := NewChannel(Config{Binary: "/bin/false"})

	img, err := ch.Capture(context.Background())
	if !errors.Is(err, ErrCaptureFailed) {
		t.Errorf("Capture() error = %v, want %v", err, ErrCaptureFailed)
	}
	if img != nil {
		t.Error("Capture() returned an image on failure")
	}
}

func TestParseDevices(t *testing.T) {
	out := "List of devices attached\n" +
		"emulator-5554\tdevice\n" +
		"127.0.0.1:5555\toffline\n" +
		"R58M12ABCDE\tdevice\n" +
		"\n"

	got := parseDevices(out)
	want := []string{"emulator-5554", "R58M12ABCDE"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseDevices() = %v, want %v", got, want)
	}
}
