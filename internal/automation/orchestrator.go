package automation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mergebot/internal/board"
	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/screen"
)

const (
	pausedPoll       = time.Second
	commandQueueSize = 8
)

// Logger defines the logging interface for the automation package.
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

// Observer is the screen classifier as seen by the loop.
type Observer interface {
	Detector
	IsVictory(ctx context.Context) bool
	Round(ctx context.Context, life1, life2 image.Rectangle) (screen.RoundInfo, bool)
}

// AppMonitor reports whether the game process is alive.
type AppMonitor interface {
	IsAppRunning(ctx context.Context, pkg string) (bool, error)
}

// Session is the persistent device session. *device.Channel implements it.
type Session interface {
	Open(ctx context.Context) error
	IsOpen() bool
	Close() error
}

// PlanExecutor carries out plans. *Executor implements it.
type PlanExecutor interface {
	Execute(ctx context.Context, plan Plan) (Feedback, error)
}

// Command is an operator request applied at the top of the next iteration.
type Command string

const (
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandReset  Command = "reset"
)

// ParseCommand validates a command name.
func ParseCommand(name string) (Command, error) {
	switch c := Command(name); c {
	case CommandPause, CommandResume, CommandReset:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

// Stats is a snapshot of the loop published after every iteration.
type Stats struct {
	Serial      string             `json:"serial,omitempty"`
	Screen      string             `json:"screen"`
	State       screen.State       `json:"state"`
	ScreenSince time.Time          `json:"screen_since,omitzero"`
	Paused      bool               `json:"paused"`
	Counters    Counters           `json:"counters"`
	Battle      BattleState        `json:"battle"`
	Board       []board.CellResult `json:"board,omitempty"`
	Iterations  uint64             `json:"iterations"`
	UpdatedAt   time.Time          `json:"updated_at,omitzero"`
}

// Config holds the orchestrator's static settings.
type Config struct {
	Serial       string
	Package      string
	PollInterval time.Duration

	// Life1 and Life2 are the life pip regions read for the round.
	Life1 image.Rectangle
	Life2 image.Rectangle
}

// Orchestrator is the polling loop for one device.
//
// Thread Safety:
//   - Run must be called once, from one goroutine.
//   - Send and Stats are safe for concurrent use.
//   - Stats listeners run on the loop goroutine and must not block.
type Orchestrator struct {
	observer Observer
	app      AppMonitor
	exec     PlanExecutor
	rules    *Rules
	clock    clock.Clock
	session  Session
	cfg      Config

	state      SessionState
	lastState  screen.State
	paused     bool
	iterations uint64

	commands  chan Command
	stats     atomic.Pointer[Stats]
	listeners []func(Stats)
	boardView func() []board.CellResult
	logger    Logger
}

// NewOrchestrator wires the loop. session is reopened at the top of an
// iteration when it has died, and closed as soon as ctx is cancelled.
func NewOrchestrator(observer Observer, app AppMonitor, exec PlanExecutor, rules *Rules,
	clk clock.Clock, session Session, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	o := &Orchestrator{
		observer: observer,
		app:      app,
		exec:     exec,
		rules:    rules,
		clock:    clk,
		session:  session,
		cfg:      cfg,
		state:    NewSession(rules.Policy()),
		commands: make(chan Command, commandQueueSize),
		logger:   noopLogger{},
	}
	o.stats.Store(&Stats{Serial: cfg.Serial, Counters: o.state.Counters})
	return o
}

// SetLogger sets the logger for the loop.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
}

// OnStats registers a listener for every published snapshot. Call before Run.
func (o *Orchestrator) OnStats(fn func(Stats)) {
	o.listeners = append(o.listeners, fn)
}

// SetBoardView sets the source of the board cells included in Stats.
// Call before Run.
func (o *Orchestrator) SetBoardView(fn func() []board.CellResult) {
	o.boardView = fn
}

// Send queues a command without blocking.
func (o *Orchestrator) Send(cmd Command) error {
	if _, err := ParseCommand(string(cmd)); err != nil {
		return err
	}
	select {
	case o.commands <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// Stats returns the latest snapshot.
func (o *Orchestrator) Stats() Stats {
	return *o.stats.Load()
}

// Run polls until ctx is cancelled and then returns ctx.Err().
//
// Every other failure is logged and, unless it came from recovery itself,
// escalated to an app restart. Panics in an iteration are recovered and
// treated the same way.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.session != nil {
		closeOnce := sync.OnceFunc(func() {
			if err := o.session.Close(); err != nil {
				o.logger.Warn("closing device channel failed", "error", err)
			}
		})
		stop := context.AfterFunc(ctx, closeOnce)
		defer stop()
		defer closeOnce()
	}

	o.logger.Info("automation loop started", "serial", o.cfg.Serial, "mode", o.rules.Policy().Mode)
	for {
		if err := ctx.Err(); err != nil {
			o.logger.Info("automation loop stopped", "iterations", o.iterations)
			return err
		}
		o.drain()

		if o.paused {
			if err := o.clock.Sleep(ctx, pausedPoll); err != nil {
				return err
			}
			continue
		}

		if err := o.iterate(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			o.logger.Error("automation iteration failed", "error", err)
			o.escalate(ctx, err)
		}
		o.iterations++
		o.publish()

		if err := o.clock.Sleep(ctx, o.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic recovered in automation loop", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	if err := o.ensureSession(ctx); err != nil {
		return err
	}

	obs, err := o.observer.Detect(ctx)
	if err != nil {
		return err
	}
	facts := o.gather(ctx, obs.State)

	if obs.Name != o.state.Screen {
		o.logger.Info("screen changed", "from", o.state.Screen, "to", obs.Name, "score", obs.Score)
	}
	plan, next := o.rules.Step(o.state, obs, facts, o.clock.Now())
	o.state = next
	o.lastState = obs.State

	return o.execute(ctx, plan)
}

func (o *Orchestrator) execute(ctx context.Context, plan Plan) error {
	if len(plan) == 0 {
		return nil
	}
	fb, err := o.exec.Execute(ctx, plan)
	o.state = o.state.Apply(fb, o.clock.Now())
	return err
}

// ensureSession reopens a device session that died since the last
// iteration. A failed reopen is escalated like any other failure, so
// recovery can fall back to an emulator restart.
func (o *Orchestrator) ensureSession(ctx context.Context) error {
	if o.session == nil || o.session.IsOpen() {
		return nil
	}
	o.logger.Warn("device session lost, reopening")
	if err := o.session.Open(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionLost, err)
	}
	o.logger.Info("device session reopened")
	return nil
}

// gather collects only the facts the rules need for this screen.
func (o *Orchestrator) gather(ctx context.Context, st screen.State) Facts {
	need := o.rules.Needs(o.state, st)
	var f Facts
	if need.Has(NeedVictory) {
		f.Victory = o.observer.IsVictory(ctx)
	}
	if need.Has(NeedAppRunning) {
		running, err := o.app.IsAppRunning(ctx, o.cfg.Package)
		if err != nil {
			// Assume alive; the unknown-screen timer still escalates.
			o.logger.Warn("app liveness check failed", "error", err)
			running = true
		}
		f.AppRunning = running
	}
	if need.Has(NeedRound) {
		f.Round, f.RoundOK = o.observer.Round(ctx, o.cfg.Life1, o.cfg.Life2)
	}
	return f
}

// escalate answers an unexpected failure with an app restart.
func (o *Orchestrator) escalate(ctx context.Context, cause error) {
	if errors.Is(cause, ErrRecoveryFailed) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic recovered during escalation", "panic", r)
		}
	}()
	if err := o.execute(ctx, Plan{restartApp(cause.Error())}); err != nil && ctx.Err() == nil {
		o.logger.Error("escalation restart failed", "error", err)
	}
}

func (o *Orchestrator) drain() {
	for {
		select {
		case cmd := <-o.commands:
			o.apply(cmd)
		default:
			return
		}
	}
}

func (o *Orchestrator) apply(cmd Command) {
	o.logger.Info("applying command", "command", cmd)
	switch cmd {
	case CommandPause:
		o.paused = true
	case CommandResume:
		o.paused = false
		// Time spent paused must not count as a stuck screen.
		o.state.ScreenSince = time.Time{}
		o.state.UnknownSince = time.Time{}
	case CommandReset:
		o.state = o.state.Reset(o.rules.Policy())
	}
	o.publish()
}

func (o *Orchestrator) publish() {
	st := Stats{
		Serial:      o.cfg.Serial,
		Screen:      o.state.Screen,
		State:       o.lastState,
		ScreenSince: o.state.ScreenSince,
		Paused:      o.paused,
		Counters:    o.state.Counters,
		Battle:      o.state.Battle,
		Iterations:  o.iterations,
		UpdatedAt:   o.clock.Now(),
	}
	if o.boardView != nil {
		st.Board = o.boardView()
	}
	o.stats.Store(&st)
	for _, fn := range o.listeners {
		fn(st)
	}
}
