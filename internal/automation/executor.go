package automation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mergebot/internal/board"
	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/device"
	"github.com/nerrad567/mergebot/internal/layout"
	"github.com/nerrad567/mergebot/internal/merge"
	"github.com/nerrad567/mergebot/internal/results"
)

const defaultSurrenderDelay = 500 * time.Millisecond

// Device is the part of the device channel the executor drives.
type Device interface {
	AppControl
	Tap(ctx context.Context, p image.Point) error
	CapturePNG(ctx context.Context) ([]byte, error)
}

// Regions resolves layout regions. *layout.Layout implements it.
type Regions interface {
	Get(group, name string) (layout.Region, error)
}

// BoardScanner refreshes cells of the board model.
type BoardScanner interface {
	Scan(ctx context.Context, b *board.Board, indices []int) (board.ScanReport, error)
}

// Merger runs merge passes and remembers failed pairs.
type Merger interface {
	Run(ctx context.Context, b *board.Board) (merge.Report, error)
	Reset()
	NewRound()
	Implicated() []int
}

// Restarter performs recovery restarts.
type Restarter interface {
	RestartApp(ctx context.Context, reason string) error
	ResetBudget()
}

// ExecutorConfig holds the executor's static settings.
type ExecutorConfig struct {
	Serial   string
	Package  string
	Activity string

	// DiagnosticsDir receives diagnostic screenshots. Empty disables them.
	DiagnosticsDir string

	// SurrenderDelay separates the flag tap from the confirmation tap.
	SurrenderDelay time.Duration
}

// Executor carries out plans against the device.
//
// Thread Safety:
//   - Not safe for concurrent use. The automation loop owns it, along
//     with the board it mutates.
type Executor struct {
	dev      Device
	regions  Regions
	board    *board.Board
	scanner  BoardScanner
	merger   Merger
	recovery Restarter
	sink     results.Sink
	clock    clock.Clock
	cfg      ExecutorConfig

	// lastRound is the round of the most recent scan and merge.
	lastRound int

	onMerge func(round int, rep merge.Report)
	logger  Logger
}

// NewExecutor wires an executor. sink may be nil.
func NewExecutor(dev Device, regions Regions, b *board.Board, scanner BoardScanner, merger Merger,
	recovery Restarter, sink results.Sink, clk clock.Clock, cfg ExecutorConfig) *Executor {
	if cfg.SurrenderDelay <= 0 {
		cfg.SurrenderDelay = defaultSurrenderDelay
	}
	return &Executor{
		dev:      dev,
		regions:  regions,
		board:    b,
		scanner:  scanner,
		merger:   merger,
		recovery: recovery,
		sink:     sink,
		clock:    clk,
		cfg:      cfg,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for executed actions.
func (e *Executor) SetLogger(logger Logger) {
	e.logger = logger
}

// OnMerge registers a hook called after every merge pass.
func (e *Executor) OnMerge(fn func(round int, rep merge.Report)) {
	e.onMerge = fn
}

// Board returns the board model. Only the loop goroutine may touch it.
func (e *Executor) Board() *board.Board {
	return e.board
}

// Execute runs the plan in order.
//
// Device and sink failures are logged and skipped; the next poll sees
// their effect. A gesture failing because the device session is gone
// ends the plan with that error so the loop can recover. A restart ends the plan, since the remaining actions were
// planned for a screen that no longer exists.
//
// Returns:
//   - Feedback: merges performed and whether a restart happened
//   - error: ctx.Err() on cancellation, or a recovery failure
func (e *Executor) Execute(ctx context.Context, plan Plan) (Feedback, error) {
	var fb Feedback
	for _, a := range plan {
		if err := ctx.Err(); err != nil {
			return fb, err
		}
		e.logger.Debug("executing action", "action", a.String())

		switch a.Kind {
		case ActTap:
			if err := e.tap(ctx, a.Group, a.Name); err != nil {
				return fb, err
			}
		case ActWait:
			if err := e.clock.Sleep(ctx, a.Delay); err != nil {
				return fb, err
			}
		case ActLaunchApp:
			e.logger.Info("launching app", "package", e.cfg.Package)
			if err := e.dev.StartApp(ctx, e.cfg.Package, e.cfg.Activity); err != nil {
				e.logger.Warn("app launch failed", "error", err)
			}
		case ActRestartApp:
			fb.Restarted = true
			return fb, e.recovery.RestartApp(ctx, a.Reason)
		case ActDiagnostic:
			e.diagnostic(ctx, a.Reason)
		case ActResetBoard:
			e.board.Reset()
			e.merger.Reset()
			e.lastRound = 0
		case ActScanMerge:
			n, err := e.scanMerge(ctx, a.Round, a.Passes)
			fb.Merges += n
			if err != nil {
				return fb, err
			}
		case ActCollectCoin:
			if err := e.tap(ctx, GroupBattle, RegionCoin); err != nil {
				return fb, err
			}
		case ActSurrender:
			e.logger.Info("surrendering battle")
			if err := e.tap(ctx, GroupBattle, RegionFlag); err != nil {
				return fb, err
			}
			if err := e.clock.Sleep(ctx, e.cfg.SurrenderDelay); err != nil {
				return fb, err
			}
			if err := e.tap(ctx, GroupBattle, RegionSurrenderConfirm); err != nil {
				return fb, err
			}
		case ActRecordResult:
			e.record(ctx, a.Result)
		default:
			e.logger.Error("unhandled action", "action", a.String())
		}
	}
	return fb, ctx.Err()
}

// tap touches a layout region. Only a lost session is returned; other
// failures are logged.
func (e *Executor) tap(ctx context.Context, group, name string) error {
	r, err := e.regions.Get(group, name)
	if err != nil {
		e.logger.Error("tap target missing from layout", "group", group, "name", name, "error", err)
		return nil
	}
	if err := e.dev.Tap(ctx, r.Center()); err != nil {
		if errors.Is(err, device.ErrChannelNotReady) {
			return err
		}
		e.logger.Warn("tap failed", "group", group, "name", name, "error", err)
	}
	return nil
}

func (e *Executor) scanMerge(ctx context.Context, round, passes int) (int, error) {
	if round != e.lastRound {
		e.merger.NewRound()
		e.lastRound = round
	}
	merges := 0
	for pass := 1; pass <= max(passes, 1); pass++ {
		indices := board.RescanIndices(e.board, round, e.merger.Implicated())
		scan, err := e.scanner.Scan(ctx, e.board, indices)
		if err != nil {
			return merges, err
		}
		rep, err := e.merger.Run(ctx, e.board)
		merges += rep.Merges
		if e.onMerge != nil {
			e.onMerge(round, rep)
		}
		if err != nil {
			return merges, err
		}
		e.logger.Debug("scan and merge pass complete",
			"round", round,
			"pass", pass,
			"scanned", scan.Scanned,
			"learned", scan.Learned,
			"merges", rep.Merges,
			"failures", rep.Failures,
		)
	}
	return merges, nil
}

func (e *Executor) record(ctx context.Context, res results.BattleResult) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.Serial = e.cfg.Serial
	e.recovery.ResetBudget()

	e.logger.Info("battle finished",
		"id", res.ID,
		"outcome", res.Outcome,
		"rounds", res.Rounds,
		"merges", res.Merges,
		"duration", res.Duration(),
		"wins", res.Wins,
		"losses", res.Losses,
	)
	if e.sink == nil {
		return
	}
	// A result must not be lost because shutdown began mid-write.
	if err := e.sink.Record(context.WithoutCancel(ctx), res); err != nil {
		e.logger.Warn("failed to record battle result", "id", res.ID, "error", err)
	}
}

func (e *Executor) diagnostic(ctx context.Context, reason string) {
	if e.cfg.DiagnosticsDir == "" {
		return
	}
	png, err := e.dev.CapturePNG(ctx)
	if err != nil {
		e.logger.Warn("diagnostic capture failed", "error", err)
		return
	}
	if err := os.MkdirAll(e.cfg.DiagnosticsDir, 0o755); err != nil {
		e.logger.Warn("creating diagnostics dir failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.png", e.clock.Now().UTC().Format("20060102T150405Z"), reason)
	path := filepath.Join(e.cfg.DiagnosticsDir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		e.logger.Warn("writing diagnostic screenshot failed", "error", err)
		return
	}
	e.logger.Info("diagnostic screenshot saved", "path", path, "reason", reason)
}
