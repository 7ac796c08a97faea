package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Result is the outcome of an independent adb invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Success reports a zero exit status.
func (r Result) Success() bool { return r.ExitCode == 0 }

// RunOneShot spawns a separate adb process with the device's serial
// arguments prepended. It shares no state with the persistent session.
//
// A non-zero exit status is reported in Result, not as an error.
//
// Returns:
//   - error: ErrCommandTimeout on timeout, ctx.Err() on cancellation,
//     or a start failure
func (c *Channel) RunOneShot(ctx context.Context, timeout time.Duration, args ...string) (Result, error) {
	return c.runOneShot(ctx, timeout, append(c.serialArgs(), args...))
}

// runOneShot is RunOneShot without serial arguments, used for discovery.
func (c *Channel) runOneShot(ctx context.Context, timeout time.Duration, args []string) (Result, error) {
	if timeout <= 0 {
		timeout = c.cfg.OneShotTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.cfg.Binary, args...) //nolint:gosec // binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	switch {
	case ctx.Err() != nil:
		return res, ctx.Err()
	case runCtx.Err() != nil:
		return res, fmt.Errorf("%w: %s %s", ErrCommandTimeout, c.cfg.Binary, strings.Join(args, " "))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("running %s: %w", c.cfg.Binary, err)
	}
	return res, nil
}

// ListDevices returns the serials adb reports in the "device" state.
func (c *Channel) ListDevices(ctx context.Context) ([]string, error) {
	res, err := c.runOneShot(ctx, c.cfg.OneShotTimeout, []string{"devices"})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("adb devices exited %d: %s", res.ExitCode, bytes.TrimSpace(res.Stderr))
	}
	return parseDevices(string(res.Stdout)), nil
}

// parseDevices extracts online serials from "adb devices" output.
func parseDevices(out string) []string {
	var serials []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials
}
