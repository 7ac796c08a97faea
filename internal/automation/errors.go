package automation

import "errors"

var (
	// ErrUnknownCommand is returned for command names other than
	// pause, resume and reset.
	ErrUnknownCommand = errors.New("automation: unknown command")

	// ErrCommandQueueFull is returned when the loop has not drained
	// earlier commands yet.
	ErrCommandQueueFull = errors.New("automation: command queue full")

	// ErrNoKnownScreen is returned when a relaunched app never reaches a
	// recognised screen within the launch timeout.
	ErrNoKnownScreen = errors.New("automation: no known screen after launch")

	// ErrRecoveryFailed is returned when both app and emulator restarts fail.
	ErrRecoveryFailed = errors.New("automation: recovery failed")

	// ErrSessionLost is returned when the device session died and could
	// not be reopened.
	ErrSessionLost = errors.New("automation: device session lost")

	// ErrPanic wraps a panic recovered from one loop iteration.
	ErrPanic = errors.New("automation: panic in loop iteration")
)
