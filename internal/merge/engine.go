package merge

import (
	"context"
	"image"
	"sort"
	"time"

	"github.com/nerrad567/mergebot/internal/board"
	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/vision"
)

// Capturer returns the current device frame.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Input injects the gestures the engine needs.
type Input interface {
	Tap(ctx context.Context, p image.Point) error
	Swipe(ctx context.Context, from, to image.Point, d time.Duration) error
}

// Logger defines the logging interface for the engine.
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

// Config tunes the engine.
type Config struct {
	MaxLevel     int
	MaxAttempts  int
	RetryDelay   time.Duration
	DragDuration time.Duration
	VerifyDelay  time.Duration
	EmptyRange   int
	PatchSize    int
}

// Pair is a merge candidate. The drag goes from Second onto First.
type Pair struct {
	First  int    `json:"first"`
	Second int    `json:"second"`
	Kind   string `json:"kind"`
	Level  int    `json:"level"`
}

type pairKey Pair

type memo struct {
	revFirst  uint64
	revSecond uint64
}

// Report summarises one Run.
type Report struct {
	Merges   int    `json:"merges"`
	Failures int    `json:"failures"`
	CoinTaps int    `json:"coin_taps"`
	Merged   []Pair `json:"merged,omitempty"`
}

// Engine performs merges on a Board.
//
// Thread Safety:
//   - Not safe for concurrent use. The automation loop owns it.
type Engine struct {
	capture Capturer
	input   Input
	clock   clock.Clock
	coin    image.Point
	cfg     Config
	failed  map[pairKey]memo
	logger  Logger
}

// NewEngine creates an engine. coin is the tap point that collects the
// currency dropped by a merge.
func NewEngine(capture Capturer, input Input, clk clock.Clock, coin image.Point, cfg Config) *Engine {
	if cfg.MaxLevel == 0 {
		cfg.MaxLevel = 4
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.EmptyRange == 0 {
		cfg.EmptyRange = 20
	}
	if cfg.PatchSize == 0 {
		cfg.PatchSize = 12
	}
	if cfg.DragDuration == 0 {
		cfg.DragDuration = 300 * time.Millisecond
	}
	return &Engine{
		capture: capture,
		input:   input,
		clock:   clk,
		coin:    coin,
		cfg:     cfg,
		failed:  make(map[pairKey]memo),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Reset forgets every failed pair. Called at battle start.
func (e *Engine) Reset() {
	e.NewRound()
}

// NewRound releases the pairs parked during the previous round. A
// rescan that reads the same hero keeps the cell's revision.
func (e *Engine) NewRound() {
	if len(e.failed) > 0 {
		e.logger.Debug("releasing parked pairs for new round", "count", len(e.failed))
	}
	e.failed = make(map[pairKey]memo)
}

// Run merges until no legal pair remains.
//
// After each successful merge the search restarts from the first hero
// kind, since a merge can unlock further merges. A pair whose drag could
// not be verified is skipped until one of its cells changes.
//
// Returns:
//   - Report: what was merged
//   - error: only ctx.Err() on cancellation
func (e *Engine) Run(ctx context.Context, b *board.Board) (Report, error) {
	var rep Report
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		e.release(b)

		p, ok := e.next(b)
		if !ok {
			return rep, nil
		}

		merged, err := e.execute(ctx, b, p)
		if err != nil {
			return rep, err
		}
		if !merged {
			rep.Failures++
			e.failed[pairKey(p)] = memo{revFirst: b.Revision(p.First), revSecond: b.Revision(p.Second)}
			e.logger.Warn("merge not verified, pair parked", "first", p.First, "second", p.Second,
				"kind", p.Kind, "level", p.Level)
			continue
		}

		rep.Merges++
		rep.Merged = append(rep.Merged, p)
		b.Remove(p.Second)
		first, _ := b.Get(p.First)
		first.Level = p.Level + 1
		if err := b.Set(first); err != nil {
			e.logger.Error("promoting merged cell failed", "index", p.First, "error", err)
		}
		e.logger.Debug("merged", "first", p.First, "second", p.Second, "kind", p.Kind, "level", first.Level)

		if b.Len() < b.Geometry().Capacity() {
			if err := e.input.Tap(ctx, e.coin); err != nil {
				if ctx.Err() != nil {
					return rep, ctx.Err()
				}
				e.logger.Debug("coin tap failed", "error", err)
			} else {
				rep.CoinTaps++
			}
		}
	}
}

// release drops failed pairs whose cells changed since the failure.
func (e *Engine) release(b *board.Board) {
	for k, m := range e.failed {
		if b.Revision(k.First) != m.revFirst || b.Revision(k.Second) != m.revSecond {
			delete(e.failed, k)
		}
	}
}

// next picks the next pair: hero kinds in name order, levels ascending,
// an edge-to-centre drag if one exists, else the first legal pair.
func (e *Engine) next(b *board.Board) (Pair, bool) {
	groups := make(map[string]map[int][]board.CellResult)
	for _, c := range b.Cells() {
		if !c.Mergeable(e.cfg.MaxLevel) {
			continue
		}
		if groups[c.Kind] == nil {
			groups[c.Kind] = make(map[int][]board.CellResult)
		}
		groups[c.Kind][c.Level] = append(groups[c.Kind][c.Level], c)
	}

	kinds := make([]string, 0, len(groups))
	for k := range groups {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	geom := b.Geometry()
	for _, kind := range kinds {
		levels := make([]int, 0, len(groups[kind]))
		for l := range groups[kind] {
			levels = append(levels, l)
		}
		sort.Ints(levels)

		for _, level := range levels {
			if p, ok := e.pick(geom, groups[kind][level]); ok {
				return p, true
			}
		}
	}
	return Pair{}, false
}

func (e *Engine) pick(geom board.Geometry, cells []board.CellResult) (Pair, bool) {
	var fallback *Pair
	for i := 0; i < len(cells); i++ {
		for j := i + 1; j < len(cells); j++ {
			a, c := cells[i], cells[j]
			p := Pair{First: a.Index, Second: c.Index, Kind: a.Kind, Level: a.Level}
			edgeA, edgeC := geom.IsEdge(a.Index), geom.IsEdge(c.Index)
			switch {
			case edgeA && !edgeC:
				p.First, p.Second = c.Index, a.Index
			case !edgeA && edgeC:
			default:
				if fallback == nil && !e.isFailed(p) {
					fb := p
					fallback = &fb
				}
				continue
			}
			if !e.isFailed(p) {
				return p, true
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Pair{}, false
}

func (e *Engine) isFailed(p Pair) bool {
	_, ok := e.failed[pairKey(p)]
	return ok
}

// legal re-checks a pair against the board right before acting on it.
func (e *Engine) legal(b *board.Board, p Pair) bool {
	if p.First == p.Second || p.Level >= e.cfg.MaxLevel {
		return false
	}
	want := board.CellResult{Kind: p.Kind, Level: p.Level}
	a, okA := b.Get(p.First)
	c, okC := b.Get(p.Second)
	return okA && okC && !a.IsStone() && a.SameValue(want) && c.SameValue(want)
}

// execute drags Second onto First and verifies Second is empty
// afterwards, retrying up to MaxAttempts times.
func (e *Engine) execute(ctx context.Context, b *board.Board, p Pair) (bool, error) {
	if !e.legal(b, p) {
		return false, nil
	}
	first, _ := b.Get(p.First)
	second, _ := b.Get(p.Second)
	from, to := vision.Center(second.Rect), vision.Center(first.Rect)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.clock.Sleep(ctx, e.cfg.RetryDelay); err != nil {
				return false, err
			}
		}
		if err := e.input.Swipe(ctx, from, to, e.cfg.DragDuration); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			e.logger.Debug("drag failed", "attempt", attempt, "error", err)
			continue
		}
		if err := e.clock.Sleep(ctx, e.cfg.VerifyDelay); err != nil {
			return false, err
		}
		frame, err := e.capture.Capture(ctx)
		if err != nil || frame == nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			e.logger.Debug("verify capture failed", "attempt", attempt, "error", err)
			continue
		}
		empty, err := vision.IsEmptyPatch(frame, second.Rect, e.cfg.PatchSize, e.cfg.EmptyRange)
		if err != nil {
			e.logger.Warn("verify cell outside frame", "index", p.Second, "error", err)
			return false, nil
		}
		if empty {
			return true, nil
		}
	}
	return false, nil
}

// FailedPairs returns the parked pairs ordered by first index.
func (e *Engine) FailedPairs() []Pair {
	out := make([]Pair, 0, len(e.failed))
	for k := range e.failed {
		out = append(out, Pair(k))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].First != out[j].First {
			return out[i].First < out[j].First
		}
		return out[i].Second < out[j].Second
	})
	return out
}

// Implicated returns every cell index that belongs to a parked pair.
func (e *Engine) Implicated() []int {
	seen := make(map[int]bool)
	for k := range e.failed {
		seen[k.First] = true
		seen[k.Second] = true
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
