package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/history"
	"github.com/nerrad567/mergebot/internal/screen"
)

// AppControl starts and stops the game.
type AppControl interface {
	StartApp(ctx context.Context, pkg, activity string) error
	ForceStop(ctx context.Context, pkg string) error
}

// Detector identifies the current screen.
type Detector interface {
	Detect(ctx context.Context) (screen.Observation, error)
}

// EmulatorRestarter restarts the whole device.
type EmulatorRestarter interface {
	Restart(ctx context.Context) error
}

// RestartRecorder persists restarts.
type RestartRecorder interface {
	RecordRestart(ctx context.Context, r history.Restart) error
}

// RecoveryConfig bounds the restart policy.
type RecoveryConfig struct {
	Serial   string
	Package  string
	Activity string

	// LaunchTimeout bounds waiting for a known screen after a launch.
	LaunchTimeout time.Duration

	// MaxConsecutive app restarts run back to back; the next one first
	// waits Cooldown.
	MaxConsecutive int
	Cooldown       time.Duration
}

// Recovery performs escalating restarts: the app first, the emulator when
// the relaunched app never reaches a known screen.
//
// Thread Safety:
//   - Not safe for concurrent use. The automation loop owns it.
type Recovery struct {
	app      AppControl
	detect   Detector
	emulator EmulatorRestarter
	clock    clock.Clock
	cfg      RecoveryConfig

	consecutive int
	session     Session
	recorder    RestartRecorder
	onRestart   func(level string, ok bool)
	logger      Logger
}

// NewRecovery creates a Recovery. emulator may be nil, in which case a
// failed app restart is final.
func NewRecovery(app AppControl, detect Detector, emulator EmulatorRestarter, clk clock.Clock, cfg RecoveryConfig) *Recovery {
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 90 * time.Second
	}
	return &Recovery{
		app:      app,
		detect:   detect,
		emulator: emulator,
		clock:    clk,
		cfg:      cfg,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for recovery events.
func (r *Recovery) SetLogger(logger Logger) {
	r.logger = logger
}

// SetSession makes every relaunch first reopen a dead device session.
// A session that cannot be reopened fails the app level, escalating to
// the emulator restart.
func (r *Recovery) SetSession(s Session) {
	r.session = s
}

// SetRecorder persists every restart attempt. nil disables.
func (r *Recovery) SetRecorder(rec RestartRecorder) {
	r.recorder = rec
}

// OnRestart registers a hook called after every restart attempt.
func (r *Recovery) OnRestart(fn func(level string, ok bool)) {
	r.onRestart = fn
}

// ResetBudget marks the session healthy again, re-arming the consecutive
// restart budget. Called when a battle completes.
func (r *Recovery) ResetBudget() {
	r.consecutive = 0
}

// Consecutive returns the number of app restarts since the last reset.
func (r *Recovery) Consecutive() int {
	return r.consecutive
}

// RestartApp force-stops and relaunches the game, then waits for a known
// screen. If none appears the emulator is restarted.
//
// Returns:
//   - error: ctx.Err() on cancellation, ErrRecoveryFailed when every level failed
func (r *Recovery) RestartApp(ctx context.Context, reason string) error {
	if r.cfg.MaxConsecutive > 0 && r.consecutive >= r.cfg.MaxConsecutive {
		r.logger.Warn("restart budget spent, cooling down",
			"restarts", r.consecutive, "cooldown", r.cfg.Cooldown)
		if err := r.clock.Sleep(ctx, r.cfg.Cooldown); err != nil {
			return err
		}
		r.consecutive = 0
	}
	r.consecutive++

	r.logger.Warn("restarting app", "reason", reason, "attempt", r.consecutive)
	err := r.relaunch(ctx)
	r.record(ctx, history.LevelApp, reason, err == nil)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	r.logger.Error("app restart failed", "error", err)
	return r.RestartEmulator(ctx, reason)
}

// RestartEmulator restarts the device and relaunches the game.
func (r *Recovery) RestartEmulator(ctx context.Context, reason string) error {
	if r.emulator == nil {
		return fmt.Errorf("%w: no emulator control configured", ErrRecoveryFailed)
	}
	r.logger.Warn("restarting emulator", "reason", reason)

	err := r.emulator.Restart(ctx)
	if err == nil {
		err = r.relaunch(ctx)
	}
	r.record(ctx, history.LevelEmulator, reason, err == nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrRecoveryFailed, err)
	}
	return nil
}

func (r *Recovery) relaunch(ctx context.Context) error {
	if r.session != nil && !r.session.IsOpen() {
		r.logger.Warn("device session lost, reopening before relaunch")
		if err := r.session.Open(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrSessionLost, err)
		}
	}
	if err := r.app.ForceStop(ctx, r.cfg.Package); err != nil {
		r.logger.Warn("force-stop failed", "error", err)
	}
	if err := r.app.StartApp(ctx, r.cfg.Package, r.cfg.Activity); err != nil {
		return fmt.Errorf("starting app: %w", err)
	}
	return r.waitKnown(ctx)
}

// waitKnown polls until the classifier recognises a routable screen.
func (r *Recovery) waitKnown(ctx context.Context) error {
	deadline := r.clock.Now().Add(r.cfg.LaunchTimeout)
	for {
		obs, err := r.detect.Detect(ctx)
		if err != nil {
			return err
		}
		if obs.State.Known() {
			r.logger.Info("app reached known screen", "screen", obs.Name)
			return nil
		}
		if !r.clock.Now().Before(deadline) {
			return fmt.Errorf("%w within %v", ErrNoKnownScreen, r.cfg.LaunchTimeout)
		}
		if err := r.clock.Sleep(ctx, time.Second); err != nil {
			return err
		}
	}
}

func (r *Recovery) record(ctx context.Context, level, reason string, ok bool) {
	if r.onRestart != nil {
		r.onRestart(level, ok)
	}
	if r.recorder == nil {
		return
	}
	rs := history.Restart{
		Serial:    r.cfg.Serial,
		Level:     level,
		Reason:    reason,
		OK:        ok,
		CreatedAt: r.clock.Now(),
	}
	if err := r.recorder.RecordRestart(context.WithoutCancel(ctx), rs); err != nil {
		r.logger.Warn("failed to record restart", "error", err)
	}
}
