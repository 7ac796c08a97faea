package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"
)

// Capture takes a screenshot with "exec-out screencap -p" and decodes it.
// Binary output cannot cross the line-oriented session, so this always
// uses a one-shot invocation.
func (c *Channel) Capture(ctx context.Context) (image.Image, error) {
	data, err := c.capturePNG(ctx, c.cfg.CaptureTimeout)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding png: %v", ErrCaptureFailed, err)
	}
	return img, nil
}

// CapturePNG returns the raw PNG bytes, for diagnostics and the API.
func (c *Channel) CapturePNG(ctx context.Context) ([]byte, error) {
	return c.capturePNG(ctx, c.cfg.CaptureTimeout)
}

func (c *Channel) capturePNG(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := c.RunOneShot(ctx, timeout, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if !res.Success() || len(res.Stdout) == 0 {
		return nil, fmt.Errorf("%w: exit %d: %s", ErrCaptureFailed, res.ExitCode, bytes.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}
