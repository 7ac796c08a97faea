package emulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/infrastructure/config"
	"github.com/nerrad567/mergebot/internal/process"
)

// bootPollInterval is how often sys.boot_completed is read while booting.
const bootPollInterval = 2 * time.Second

var (
	// ErrBootTimeout is returned when Android does not finish booting in time.
	ErrBootTimeout = errors.New("emulator: boot did not complete")

	// ErrProcessExited is returned when the managed emulator dies while booting.
	ErrProcessExited = errors.New("emulator: process exited")
)

// Logger defines the logging interface for the emulator manager.
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

// Device is the part of the adb channel the manager drives.
// *device.Channel implements it.
type Device interface {
	Open(ctx context.Context) error
	Close() error
	WaitForDevice(ctx context.Context, timeout time.Duration) error
	BootCompleted(ctx context.Context) (bool, error)
	Reboot(ctx context.Context) error
}

// Process is a supervised child process. *process.Manager implements it.
type Process interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}

// Manager starts, stops and restarts the emulator.
//
// Thread Safety:
//   - Not safe for concurrent use. Restart is called from the automation
//     loop only; Start and Stop bracket the run.
type Manager struct {
	cfg    config.EmulatorConfig
	dev    Device
	proc   Process
	clock  clock.Clock
	logger Logger
}

// New creates a manager. A managed emulator gets a process supervisor that
// relaunches it with backoff if it crashes.
func New(cfg config.EmulatorConfig, dev Device, clk clock.Clock) *Manager {
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = 3 * time.Minute
	}
	m := &Manager{
		cfg:    cfg,
		dev:    dev,
		clock:  clk,
		logger: noopLogger{},
	}
	if cfg.Managed {
		pc := process.DefaultConfig("emulator", cfg.Binary, cfg.Args)
		if cfg.GracefulTimeout > 0 {
			pc.GracefulTimeout = cfg.GracefulTimeout
		}
		pc.OnRestart = func(attempt int) {
			m.logger.Warn("emulator crashed, relaunching", "attempt", attempt)
		}
		m.proc = process.NewManager(pc)
	}
	return m
}

// SetLogger sets the logger for the manager and its process supervisor.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
	if pm, ok := m.proc.(*process.Manager); ok {
		pm.SetLogger(logger)
	}
}

// Managed reports whether the emulator process is owned by this manager.
func (m *Manager) Managed() bool {
	return m.proc != nil
}

// Start launches a managed emulator, waits for it to boot and opens the
// device channel. For an external device it only waits for the boot.
func (m *Manager) Start(ctx context.Context) error {
	if m.proc != nil && !m.proc.IsRunning() {
		m.logger.Info("starting emulator", "binary", m.cfg.Binary, "args", m.cfg.Args)
		if err := m.proc.Start(ctx); err != nil {
			return fmt.Errorf("starting emulator: %w", err)
		}
	}
	if err := m.waitBoot(ctx); err != nil {
		return err
	}
	return m.dev.Open(ctx)
}

// Stop terminates a managed emulator. A no-op for an external device.
func (m *Manager) Stop() error {
	if m.proc == nil {
		return nil
	}
	m.logger.Info("stopping emulator")
	return m.proc.Stop()
}

// Restart power-cycles the device and blocks until it has booted and the
// channel is open again.
//
// Returns:
//   - error: ErrBootTimeout, ErrProcessExited, ctx.Err() or a device error
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.dev.Close(); err != nil {
		m.logger.Warn("closing device channel before restart failed", "error", err)
	}

	if m.proc != nil {
		m.logger.Warn("killing emulator process")
		if err := m.proc.Stop(); err != nil {
			m.logger.Warn("stopping emulator failed", "error", err)
		}
		if err := m.proc.Start(ctx); err != nil {
			return fmt.Errorf("relaunching emulator: %w", err)
		}
	} else {
		m.logger.Warn("rebooting device")
		if err := m.dev.Reboot(ctx); err != nil {
			return fmt.Errorf("rebooting device: %w", err)
		}
		// The old boot flag stays readable until the reboot takes effect.
		if err := m.clock.Sleep(ctx, bootPollInterval); err != nil {
			return err
		}
	}

	if err := m.waitBoot(ctx); err != nil {
		return err
	}
	if err := m.dev.Open(ctx); err != nil {
		return fmt.Errorf("reopening device channel: %w", err)
	}
	m.logger.Info("emulator restarted")
	return nil
}

// waitBoot blocks until adb sees the device and sys.boot_completed is 1.
func (m *Manager) waitBoot(ctx context.Context) error {
	deadline := m.clock.Now().Add(m.cfg.BootTimeout)

	if err := m.dev.WaitForDevice(ctx, m.cfg.BootTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: device not visible: %w", ErrBootTimeout, err)
	}

	for {
		if m.proc != nil && !m.proc.IsRunning() {
			return ErrProcessExited
		}
		done, err := m.dev.BootCompleted(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			m.logger.Debug("boot check failed", "error", err)
		}
		if done {
			m.logger.Info("device booted")
			return nil
		}
		if !m.clock.Now().Before(deadline) {
			return fmt.Errorf("%w within %v", ErrBootTimeout, m.cfg.BootTimeout)
		}
		if err := m.clock.Sleep(ctx, bootPollInterval); err != nil {
			return err
		}
	}
}
