package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"
)

// Tap injects a single touch at p.
func (c *Channel) Tap(ctx context.Context, p image.Point) error {
	_, err := c.Execute(ctx, fmt.Sprintf("input tap %d %d", p.X, p.Y), c.cfg.CommandTimeout)
	if err != nil {
		return fmt.Errorf("tap %d,%d: %w", p.X, p.Y, err)
	}
	return nil
}

// Swipe drags from one point to another over d.
func (c *Channel) Swipe(ctx context.Context, from, to image.Point, d time.Duration) error {
	cmd := fmt.Sprintf("input swipe %d %d %d %d %d", from.X, from.Y, to.X, to.Y, d.Milliseconds())
	// input swipe returns only after the gesture completes.
	if _, err := c.Execute(ctx, cmd, c.cfg.CommandTimeout+d); err != nil {
		return fmt.Errorf("swipe %v->%v: %w", from, to, err)
	}
	return nil
}

// StartApp launches pkg. With an activity it uses "am start -n", otherwise
// it fires the launcher intent through monkey.
func (c *Channel) StartApp(ctx context.Context, pkg, activity string) error {
	args := []string{"shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1"}
	if activity != "" {
		args = []string{"shell", "am", "start", "-n", pkg + "/" + activity}
	}
	return c.shellOK(ctx, "start app", args)
}

// ForceStop kills the app process.
func (c *Channel) ForceStop(ctx context.Context, pkg string) error {
	return c.shellOK(ctx, "force-stop", []string{"shell", "am", "force-stop", pkg})
}

// IsAppRunning reports whether pkg has a live process.
func (c *Channel) IsAppRunning(ctx context.Context, pkg string) (bool, error) {
	res, err := c.RunOneShot(ctx, 0, "shell", "pidof", pkg)
	if err != nil {
		return false, err
	}
	return res.Success() && len(bytes.TrimSpace(res.Stdout)) > 0, nil
}

// WaitForDevice blocks until adb sees the device.
func (c *Channel) WaitForDevice(ctx context.Context, timeout time.Duration) error {
	return c.shellOK(ctx, "wait-for-device", []string{"wait-for-device"}, timeout)
}

// BootCompleted reports whether Android finished booting.
func (c *Channel) BootCompleted(ctx context.Context) (bool, error) {
	res, err := c.RunOneShot(ctx, 0, "shell", "getprop", "sys.boot_completed")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(res.Stdout)) == "1", nil
}

// Reboot restarts the device or emulator.
func (c *Channel) Reboot(ctx context.Context) error {
	return c.shellOK(ctx, "reboot", []string{"reboot"})
}

func (c *Channel) shellOK(ctx context.Context, what string, args []string, timeout ...time.Duration) error {
	var d time.Duration
	if len(timeout) > 0 {
		d = timeout[0]
	}
	res, err := c.RunOneShot(ctx, d, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if !res.Success() {
		return fmt.Errorf("%s: exit %d: %s", what, res.ExitCode, bytes.TrimSpace(res.Stderr))
	}
	return nil
}
