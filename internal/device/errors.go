package device

import "errors"

// Domain-specific errors for the device channel.
var (
	// ErrChannelNotReady is returned by Execute when no live session exists.
	ErrChannelNotReady = errors.New("device: channel not ready")

	// ErrChannelUnavailable is returned by Open when the device cannot be reached.
	ErrChannelUnavailable = errors.New("device: channel unavailable")

	// ErrCommandTimeout is returned when a command's sentinel is not seen in time.
	// The session may be desynchronised; output returned alongside is partial.
	ErrCommandTimeout = errors.New("device: command timed out")

	// ErrCaptureFailed is returned when a screenshot cannot be taken or decoded.
	ErrCaptureFailed = errors.New("device: capture failed")
)
