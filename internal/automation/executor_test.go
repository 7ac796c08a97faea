package automation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/mergebot/internal/board"
	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/device"
	"github.com/nerrad567/mergebot/internal/layout"
	"github.com/nerrad567/mergebot/internal/merge"
	"github.com/nerrad567/mergebot/internal/results"
)

const testLayout = `
version: 1
width: 1000
height: 1000
regions:
  - {group: main, name: pvp, x: 0, y: 0, w: 100, h: 100}
  - {group: battle, name: flag, x: 100, y: 0, w: 20, h: 20}
  - {group: battle, name: surrender_confirm, x: 200, y: 200, w: 100, h: 40}
  - {group: battle, name: coin, x: 300, y: 300, w: 20, h: 20}
  - {group: battle, name: end_round, x: 400, y: 400, w: 20, h: 20}
`

type execFixture struct {
	dev      *fakeDevice
	board    *board.Board
	scanner  *fakeScanner
	merger   *fakeMerger
	recovery *fakeRestarter
	recorded []results.BattleResult
	clock    *clock.Fake
	exec     *Executor
}

func newExecFixture(t *testing.T, cfg ExecutorConfig) *execFixture {
	t.Helper()
	l, err := layout.Parse([]byte(testLayout))
	if err != nil {
		t.Fatalf("layout.Parse() error = %v", err)
	}
	f := &execFixture{
		dev:      &fakeDevice{},
		board:    board.New(board.NewGeometry(image.Rect(0, 500, 50, 550), 2, 3, 60, 60)),
		scanner:  &fakeScanner{},
		merger:   &fakeMerger{},
		recovery: &fakeRestarter{},
		clock:    clock.NewFake(t0),
	}
	sink := results.SinkFunc(func(_ context.Context, r results.BattleResult) error {
		f.recorded = append(f.recorded, r)
		return nil
	})
	f.exec = NewExecutor(f.dev, l, f.board, f.scanner, f.merger, f.recovery, sink, f.clock, cfg)
	return f
}

func TestExecute_TapsInOrder(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	plan := Plan{
		tap(GroupMain, "pvp"),
		{Kind: ActSurrender},
		{Kind: ActCollectCoin},
		tap(GroupBattle, RegionEndRound),
	}

	if _, err := f.exec.Execute(context.Background(), plan); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := []image.Point{{50, 50}, {110, 10}, {250, 220}, {310, 310}, {410, 410}}
	if !reflect.DeepEqual(f.dev.taps, want) {
		t.Errorf("taps = %v, want %v", f.dev.taps, want)
	}
	if f.clock.Slept() != defaultSurrenderDelay {
		t.Errorf("slept %v, want surrender delay %v", f.clock.Slept(), defaultSurrenderDelay)
	}
}

func TestExecute_MissingRegionIsSkipped(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	plan := Plan{tap(GroupChest, RegionClaim), tap(GroupMain, "pvp")}

	if _, err := f.exec.Execute(context.Background(), plan); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(f.dev.taps) != 1 {
		t.Errorf("taps = %v, want only main/pvp", f.dev.taps)
	}
}

func TestExecute_Wait(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	if _, err := f.exec.Execute(context.Background(), Plan{wait(2 * time.Second)}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if f.clock.Slept() != 2*time.Second {
		t.Errorf("slept %v, want 2s", f.clock.Slept())
	}
}

func TestExecute_RestartEndsPlan(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	plan := Plan{restartApp("stuck"), tap(GroupMain, "pvp")}

	fb, err := f.exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !fb.Restarted {
		t.Error("feedback does not report the restart")
	}
	if !reflect.DeepEqual(f.recovery.restarts, []string{"stuck"}) {
		t.Errorf("restarts = %v, want [stuck]", f.recovery.restarts)
	}
	if len(f.dev.taps) != 0 {
		t.Errorf("taps after restart = %v, want none", f.dev.taps)
	}
}

func TestExecute_RestartFailureIsReturned(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	f.recovery.err = ErrRecoveryFailed

	_, err := f.exec.Execute(context.Background(), Plan{restartApp("stuck")})
	if !errors.Is(err, ErrRecoveryFailed) {
		t.Errorf("Execute() error = %v, want %v", err, ErrRecoveryFailed)
	}
}

func TestExecute_LaunchApp(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{Package: "com.example.rumble"})
	f.dev.startErr = errDevice

	if _, err := f.exec.Execute(context.Background(), Plan{{Kind: ActLaunchApp}}); err != nil {
		t.Fatalf("Execute() error = %v, launch failures are not fatal", err)
	}
	if f.dev.started != 1 {
		t.Errorf("started = %d, want 1", f.dev.started)
	}
}

func TestExecute_RecordResult(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{Serial: "emulator-5554"})
	res := results.BattleResult{Outcome: results.Win, Rounds: 4}

	if _, err := f.exec.Execute(context.Background(), Plan{{Kind: ActRecordResult, Result: res}}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(f.recorded) != 1 {
		t.Fatalf("recorded %d results, want 1", len(f.recorded))
	}
	got := f.recorded[0]
	if got.ID == "" || got.Serial != "emulator-5554" || got.Outcome != results.Win {
		t.Errorf("recorded = %+v, want an ID, the serial and the outcome", got)
	}
	if f.recovery.resets != 1 {
		t.Errorf("restart budget resets = %d, want 1", f.recovery.resets)
	}
}

func TestExecute_ScanMerge(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	f.merger.merges = 2
	var hooked []int
	f.exec.OnMerge(func(round int, rep merge.Report) { hooked = append(hooked, round) })

	if err := f.board.Set(board.CellResult{Index: 4, Kind: "fire", Level: 1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	f.merger.implicated = []int{4}

	fb, err := f.exec.Execute(context.Background(), Plan{{Kind: ActScanMerge, Round: 2, Passes: 2}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if fb.Merges != 4 {
		t.Errorf("merges = %d, want 4", fb.Merges)
	}
	if len(f.scanner.calls) != 2 {
		t.Fatalf("scans = %d, want 2", len(f.scanner.calls))
	}
	// Round 2 rescans empty cells and the implicated one; 4 is occupied
	// but implicated, so all six cells are scanned.
	if want := []int{0, 1, 2, 3, 4, 5}; !reflect.DeepEqual(f.scanner.calls[0], want) {
		t.Errorf("scanned %v, want %v", f.scanner.calls[0], want)
	}
	if !reflect.DeepEqual(hooked, []int{2, 2}) {
		t.Errorf("merge hook rounds = %v, want [2 2]", hooked)
	}
}

func TestExecute_ScanMergeStartsNewRoundOnce(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	rounds := []int{1, 1, 2, 2, 3}
	for _, r := range rounds {
		if _, err := f.exec.Execute(context.Background(), Plan{{Kind: ActScanMerge, Round: r, Passes: 1}}); err != nil {
			t.Fatalf("Execute(round %d) error = %v", r, err)
		}
	}
	if f.merger.rounds != 3 {
		t.Errorf("merger new rounds = %d, want 3", f.merger.rounds)
	}

	// A new battle starting again at round 1 releases again.
	plan := Plan{{Kind: ActResetBoard}, {Kind: ActScanMerge, Round: 1, Passes: 1}}
	if _, err := f.exec.Execute(context.Background(), plan); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if f.merger.rounds != 4 {
		t.Errorf("merger new rounds after reset = %d, want 4", f.merger.rounds)
	}
}

func TestExecute_LostSessionEndsPlan(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	f.dev.tapErr = fmt.Errorf("tap: %w", device.ErrChannelNotReady)
	plan := Plan{tap(GroupMain, "pvp"), {Kind: ActWait, Delay: time.Second}}

	_, err := f.exec.Execute(context.Background(), plan)
	if !errors.Is(err, device.ErrChannelNotReady) {
		t.Fatalf("Execute() error = %v, want %v", err, device.ErrChannelNotReady)
	}
	if f.clock.Slept() != 0 {
		t.Errorf("slept %v after lost session, want 0", f.clock.Slept())
	}
}

func TestExecute_TapFailureIsLogged(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	f.dev.tapErr = errDevice

	if _, err := f.exec.Execute(context.Background(), Plan{{Kind: ActCollectCoin}}); err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
}

func TestExecute_ResetBoard(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	if err := f.board.Set(board.CellResult{Index: 0, Kind: "fire", Level: 1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := f.exec.Execute(context.Background(), Plan{{Kind: ActResetBoard}}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if f.board.Len() != 0 || f.merger.resets != 1 {
		t.Errorf("board len = %d, merger resets = %d, want 0 and 1", f.board.Len(), f.merger.resets)
	}
}

func TestExecute_Diagnostic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "diag")
	f := newExecFixture(t, ExecutorConfig{DiagnosticsDir: dir})
	f.dev.png = []byte("\x89PNG")

	if _, err := f.exec.Execute(context.Background(), Plan{{Kind: ActDiagnostic, Reason: "unknown_screen"}}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	path := filepath.Join(dir, "20261019T120000Z_unknown_screen.png")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading diagnostic: %v", err)
	}
	if string(data) != "\x89PNG" {
		t.Errorf("diagnostic content = %q", data)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	f := newExecFixture(t, ExecutorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.exec.Execute(ctx, Plan{tap(GroupMain, "pvp")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want %v", err, context.Canceled)
	}
	if len(f.dev.taps) != 0 {
		t.Errorf("taps = %v, want none", f.dev.taps)
	}
}
