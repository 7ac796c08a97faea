package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// sentinelPrefix marks end-of-command lines. Any line carrying this prefix
// that does not match the current command's sentinel is left over from a
// command that timed out and is dropped.
const sentinelPrefix = "__MERGEBOT_EOC_"

// lineBuffer is the capacity of the session's line channel.
const lineBuffer = 1024

// handshakeTimeout bounds the echo round trip run by Open.
const handshakeTimeout = 10 * time.Second

// Config describes how to reach one device.
type Config struct {
	// Binary is the adb executable.
	Binary string

	// Serial selects the device with "-s". Empty means adb's default device.
	Serial string

	// Shell overrides the arguments used to start the persistent session.
	// Nil means ["-s", Serial, "shell"].
	Shell []string

	// CommandTimeout is the default timeout for helpers built on Execute.
	CommandTimeout time.Duration

	// OneShotTimeout is the default timeout for helpers built on RunOneShot.
	OneShotTimeout time.Duration

	// CaptureTimeout bounds one screencap round trip. Zero means OneShotTimeout.
	CaptureTimeout time.Duration
}

// Logger defines the logging interface for the device channel.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// session is one running shell process.
type session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Channel is a persistent command session to one device.
//
// Thread Safety:
//   - Execute calls are serialised; concurrent callers block.
//   - Close may be called at any time, including during Execute.
type Channel struct {
	cfg    Config
	logger Logger

	execMu sync.Mutex // serialises command/response pairs

	mu      sync.Mutex // guards current
	current *session
}

// NewChannel creates a closed channel. Call Open before Execute.
func NewChannel(cfg Config) *Channel {
	if cfg.Binary == "" {
		cfg.Binary = "adb"
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.OneShotTimeout == 0 {
		cfg.OneShotTimeout = 30 * time.Second
	}
	if cfg.CaptureTimeout == 0 {
		cfg.CaptureTimeout = cfg.OneShotTimeout
	}
	return &Channel{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the channel.
func (c *Channel) SetLogger(logger Logger) {
	c.logger = logger
}

// Serial returns the configured device serial.
func (c *Channel) Serial() string {
	return c.cfg.Serial
}

// Open starts the interactive session, or reuses it if already alive.
// The session is checked with an echo round trip before Open returns.
//
// Returns:
//   - error: ErrChannelUnavailable (wrapped) if the device cannot be reached
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.current != nil && c.current.alive() {
		c.mu.Unlock()
		return nil
	}
	s, err := c.spawn()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	c.current = s
	c.mu.Unlock()

	marker := "mergebot-ready"
	out, err := c.Execute(ctx, "echo "+marker, handshakeTimeout)
	if err != nil || strings.TrimSpace(out) != marker {
		_ = c.Close() //nolint:errcheck // already failing
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: handshake failed: %v", ErrChannelUnavailable, err)
	}

	c.logger.Info("device session open", "serial", c.cfg.Serial, "pid", s.cmd.Process.Pid)
	return nil
}

func (c *Channel) sessionArgs() []string {
	if c.cfg.Shell != nil {
		return c.cfg.Shell
	}
	return append(c.serialArgs(), "shell")
}

func (c *Channel) serialArgs() []string {
	if c.cfg.Serial == "" {
		return nil
	}
	return []string{"-s", c.cfg.Serial}
}

// spawn starts the shell process. stdout and stderr share one pipe so
// error text is returned inline with command output.
func (c *Channel) spawn() (*session, error) {
	cmd := exec.Command(c.cfg.Binary, c.sessionArgs()...) //nolint:gosec // binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("starting %s: %w", c.cfg.Binary, err)
	}
	w.Close() // child holds its own copy

	s := &session{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, lineBuffer),
		done:  make(chan struct{}),
	}

	go func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			s.lines <- strings.TrimRight(sc.Text(), "\r")
		}
		r.Close()
		err := cmd.Wait()
		c.logger.Debug("device session exited", "serial", c.cfg.Serial, "error", err)
		// done before lines: a reader that sees lines closed must also see !alive().
		close(s.done)
		close(s.lines)
	}()

	return s, nil
}

// Close tears down the session. Safe to call repeatedly and concurrently
// with Execute, which then fails with ErrChannelNotReady.
func (c *Channel) Close() error {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	_ = s.stdin.Close() //nolint:errcheck // process is being killed anyway
	if s.cmd.Process != nil {
		if err := unix.Kill(-s.cmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			c.logger.Warn("killing device session", "serial", c.cfg.Serial, "error", err)
		}
	}

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("device session %s did not exit", c.cfg.Serial)
	}
	c.logger.Info("device session closed", "serial", c.cfg.Serial)
	return nil
}

// IsOpen reports whether a live session exists.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.alive()
}

// Execute runs one shell command on the persistent session and returns its
// combined output without the trailing newline.
//
// Parameters:
//   - command: A single shell command line
//   - timeout: Maximum wait for the command's sentinel
//
// Returns:
//   - string: Command output, partial on timeout
//   - error: ErrChannelNotReady if the session is not live,
//     ErrCommandTimeout if the sentinel was not seen in time,
//     ctx.Err() if the context ended first
func (c *Channel) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil || !s.alive() {
		return "", ErrChannelNotReady
	}

	sentinel := sentinelPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := io.WriteString(s.stdin, command+"\necho "+sentinel+"\n"); err != nil {
		return "", fmt.Errorf("%w: writing command: %v", ErrChannelNotReady, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out []string
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return strings.Join(out, "\n"), fmt.Errorf("%w: session exited", ErrChannelNotReady)
			}
			if line == sentinel {
				return strings.Join(out, "\n"), nil
			}
			if strings.HasPrefix(line, sentinelPrefix) {
				// A stale sentinel ends an earlier timed-out command; what was
				// collected so far is that command's late output.
				out = out[:0]
				continue
			}
			out = append(out, line)
		case <-timer.C:
			c.logger.Warn("device command timed out", "serial", c.cfg.Serial, "command", command, "timeout", timeout)
			return strings.Join(out, "\n"), ErrCommandTimeout
		case <-ctx.Done():
			return strings.Join(out, "\n"), ctx.Err()
		}
	}
}
