package automation

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/nerrad567/mergebot/internal/board"
	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/history"
	"github.com/nerrad567/mergebot/internal/merge"
	"github.com/nerrad567/mergebot/internal/screen"
)

var errDevice = errors.New("device offline")

type fakeDevice struct {
	taps      []image.Point
	started   int
	stopped   int
	startErr  error
	png       []byte
	tapErr    error
	onStarted func()
}

func (d *fakeDevice) Tap(_ context.Context, p image.Point) error {
	if d.tapErr != nil {
		return d.tapErr
	}
	d.taps = append(d.taps, p)
	return nil
}

func (d *fakeDevice) StartApp(context.Context, string, string) error {
	d.started++
	if d.onStarted != nil {
		d.onStarted()
	}
	return d.startErr
}

func (d *fakeDevice) ForceStop(context.Context, string) error {
	d.stopped++
	return nil
}

func (d *fakeDevice) CapturePNG(context.Context) ([]byte, error) {
	if d.png == nil {
		return nil, errDevice
	}
	return d.png, nil
}

// fakeObserver replays screen names; the last one repeats.
type fakeObserver struct {
	mu      sync.Mutex
	script  []string
	detects int
	victory bool
	round   screen.RoundInfo
	roundOK bool

	victoryChecks int
	roundChecks   int

	// after, if set, runs once the script is exhausted.
	after func()
}

func (o *fakeObserver) Detect(ctx context.Context) (screen.Observation, error) {
	if err := ctx.Err(); err != nil {
		return screen.Observation{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	i := min(o.detects, len(o.script)-1)
	o.detects++
	if o.detects == len(o.script) && o.after != nil {
		o.after()
	}
	name := o.script[i]
	return screen.Observation{Name: name, State: screen.Parse(name), Score: 1}, nil
}

func (o *fakeObserver) IsVictory(context.Context) bool {
	o.victoryChecks++
	return o.victory
}

func (o *fakeObserver) Round(context.Context, image.Rectangle, image.Rectangle) (screen.RoundInfo, bool) {
	o.roundChecks++
	return o.round, o.roundOK
}

type fakeApp struct {
	running bool
	err     error
	checks  int
}

func (a *fakeApp) IsAppRunning(context.Context, string) (bool, error) {
	a.checks++
	return a.running, a.err
}

type fakeExecutor struct {
	plans   []Plan
	panicOn ActionKind
	err     error
	fb      Feedback
}

func (e *fakeExecutor) Execute(_ context.Context, p Plan) (Feedback, error) {
	e.plans = append(e.plans, p)
	if e.panicOn != 0 && p.Has(e.panicOn) {
		e.panicOn = 0
		panic("boom")
	}
	fb := e.fb
	if p.Has(ActRestartApp) {
		fb.Restarted = true
	}
	return fb, e.err
}

func (e *fakeExecutor) count(k ActionKind) int {
	n := 0
	for _, p := range e.plans {
		for _, a := range p {
			if a.Kind == k {
				n++
			}
		}
	}
	return n
}

type fakeSession struct {
	mu      sync.Mutex
	open    bool
	opens   int
	closed  int
	openErr error
}

func (s *fakeSession) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return s.openErr
	}
	s.open = true
	return nil
}

func (s *fakeSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.open = false
	s.mu.Unlock()
	return nil
}

// kill drops the session without a Close, as when adb dies.
func (s *fakeSession) kill() {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
}

// stoppingClock is a fake clock that cancels the run after limit sleeps.
type stoppingClock struct {
	*clock.Fake
	cancel context.CancelFunc
	limit  int
	sleeps int
}

func (c *stoppingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	if c.sleeps >= c.limit {
		c.cancel()
	}
	return c.Fake.Sleep(ctx, d)
}

type fakeScanner struct {
	calls [][]int
}

func (s *fakeScanner) Scan(_ context.Context, _ *board.Board, indices []int) (board.ScanReport, error) {
	s.calls = append(s.calls, indices)
	return board.ScanReport{Scanned: len(indices)}, nil
}

type fakeMerger struct {
	merges     int
	resets     int
	rounds     int
	implicated []int
}

func (m *fakeMerger) Run(context.Context, *board.Board) (merge.Report, error) {
	return merge.Report{Merges: m.merges}, nil
}

func (m *fakeMerger) Reset() { m.resets++ }

func (m *fakeMerger) NewRound() { m.rounds++ }

func (m *fakeMerger) Implicated() []int { return m.implicated }

type fakeRestarter struct {
	restarts []string
	resets   int
	err      error
}

func (r *fakeRestarter) RestartApp(_ context.Context, reason string) error {
	r.restarts = append(r.restarts, reason)
	return r.err
}

func (r *fakeRestarter) ResetBudget() { r.resets++ }

type fakeEmulator struct {
	restarts int
	err      error
	onStart  func()
}

func (e *fakeEmulator) Restart(context.Context) error {
	e.restarts++
	if e.onStart != nil {
		e.onStart()
	}
	return e.err
}

type fakeRecorder struct {
	restarts []history.Restart
}

func (r *fakeRecorder) RecordRestart(_ context.Context, rs history.Restart) error {
	r.restarts = append(r.restarts, rs)
	return nil
}
