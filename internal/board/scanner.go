package board

import (
	"context"
	"image"
	"image/draw"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/ocr"
	"github.com/nerrad567/mergebot/internal/templates"
	"github.com/nerrad567/mergebot/internal/vision"
)

// Capturer returns the current device frame.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Tapper injects a touch.
type Tapper interface {
	Tap(ctx context.Context, p image.Point) error
}

// Logger defines the logging interface for the scanner.
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

// Regions locates the hero info panel shown after tapping a cell.
type Regions struct {
	Level image.Rectangle
	Name  image.Rectangle
}

// ScanConfig tunes the scanner.
type ScanConfig struct {
	SettleDelay time.Duration
	EmptyRange  int // central patch gray range below this is empty
	PatchSize   int
	Threshold   float64
}

// ScanReport summarises one Scan call.
type ScanReport struct {
	Scanned  int   `json:"scanned"`
	Empty    int   `json:"empty"`
	Occupied int   `json:"occupied"`
	Stones   int   `json:"stones"`
	Learned  int   `json:"learned"`
	Skipped  []int `json:"skipped,omitempty"`
}

// Scanner reads cells from device frames into a Board.
type Scanner struct {
	capture Capturer
	tap     Tapper
	store   templates.Store
	matcher vision.Matcher
	ocr     ocr.Recognizer
	clock   clock.Clock
	regions Regions
	cfg     ScanConfig
	logger  Logger
}

// NewScanner creates a scanner. Zero config values default to a 100ms
// settle delay, empty range 20, a 12px patch and threshold 0.95.
func NewScanner(capture Capturer, tap Tapper, store templates.Store, matcher vision.Matcher,
	rec ocr.Recognizer, clk clock.Clock, regions Regions, cfg ScanConfig) *Scanner {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 100 * time.Millisecond
	}
	if cfg.EmptyRange == 0 {
		cfg.EmptyRange = 20
	}
	if cfg.PatchSize == 0 {
		cfg.PatchSize = 12
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.95
	}
	if rec == nil {
		rec = ocr.Nop{}
	}
	return &Scanner{
		capture: capture,
		tap:     tap,
		store:   store,
		matcher: matcher,
		ocr:     rec,
		clock:   clk,
		regions: regions,
		cfg:     cfg,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the scanner.
func (s *Scanner) SetLogger(logger Logger) {
	s.logger = logger
}

// Scan updates the given cells of b.
//
// A single capture classifies every requested cell as empty or occupied.
// Each occupied cell then costs one tap and one capture to read its level
// and hero name. Cells whose rectangle falls outside the frame are skipped.
// A failed capture leaves the affected cells as they were.
//
// Returns:
//   - ScanReport: counts for logging and telemetry
//   - error: only ctx.Err() on cancellation
func (s *Scanner) Scan(ctx context.Context, b *Board, indices []int) (ScanReport, error) {
	var rep ScanReport
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	frame, err := s.capture.Capture(ctx)
	if err != nil || frame == nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		s.logger.Warn("board capture failed, keeping previous state", "error", err)
		return rep, nil
	}

	geom := b.Geometry()
	var occupied []int
	for _, i := range indices {
		rect, err := geom.Rect(i)
		if err != nil {
			s.logger.Warn("skipping cell", "index", i, "error", err)
			rep.Skipped = append(rep.Skipped, i)
			continue
		}
		// A partly visible cell is never tapped.
		if !rect.In(frame.Bounds()) {
			s.logger.Warn("cell outside frame, skipping", "index", i, "cell", rect, "frame", frame.Bounds())
			rep.Skipped = append(rep.Skipped, i)
			continue
		}
		empty, err := vision.IsEmptyPatch(frame, rect, s.cfg.PatchSize, s.cfg.EmptyRange)
		if err != nil {
			s.logger.Warn("cell patch unreadable, skipping", "index", i, "error", err)
			rep.Skipped = append(rep.Skipped, i)
			continue
		}
		rep.Scanned++
		if empty {
			b.Remove(i)
			rep.Empty++
			continue
		}
		occupied = append(occupied, i)
	}

	for _, i := range occupied {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rect, _ := geom.Rect(i)
		cell, ok, err := s.read(ctx, i, rect, &rep)
		if err != nil {
			return rep, err
		}
		if !ok {
			continue
		}
		rep.Occupied++
		if cell.IsStone() {
			rep.Stones++
		}
		if err := b.Set(cell); err != nil {
			s.logger.Warn("storing cell failed", "index", i, "error", err)
		}
	}

	s.logger.Debug("board scanned",
		"scanned", rep.Scanned, "empty", rep.Empty, "occupied", rep.Occupied,
		"stones", rep.Stones, "learned", rep.Learned)
	return rep, nil
}

// read taps cell i and identifies it from the hero panel. ok is false
// when the cell could not be observed and should keep its old value.
func (s *Scanner) read(ctx context.Context, i int, rect image.Rectangle, rep *ScanReport) (CellResult, bool, error) {
	if err := s.tap.Tap(ctx, vision.Center(rect)); err != nil {
		if ctx.Err() != nil {
			return CellResult{}, false, ctx.Err()
		}
		s.logger.Debug("cell tap failed", "index", i, "error", err)
		return CellResult{}, false, nil
	}
	if err := s.clock.Sleep(ctx, s.cfg.SettleDelay); err != nil {
		return CellResult{}, false, err
	}
	frame, err := s.capture.Capture(ctx)
	if err != nil || frame == nil {
		if ctx.Err() != nil {
			return CellResult{}, false, ctx.Err()
		}
		s.logger.Debug("cell capture failed, keeping previous state", "index", i, "error", err)
		return CellResult{}, false, nil
	}

	level, ok := s.level(frame)
	if !ok {
		return Stone(i, rect), true, nil
	}
	kind, learned := s.name(ctx, frame)
	if kind == "" {
		s.logger.Debug("hero name unresolved, recording stone", "index", i)
		return Stone(i, rect), true, nil
	}
	if learned {
		rep.Learned++
	}
	return CellResult{Index: i, Kind: kind, Level: level, Rect: rect}, true, nil
}

// level returns the best scoring level template inside the level region.
func (s *Scanner) level(frame image.Image) (int, bool) {
	roi, err := vision.Crop(frame, s.regions.Level)
	if err != nil {
		s.logger.Debug("level region outside frame", "error", err)
		return 0, false
	}
	best, bestScore := 0, s.cfg.Threshold
	found := false
	for _, t := range s.store.List(templates.Levels) {
		lvl, ok := parseLevel(t.Name)
		if !ok {
			continue
		}
		m, err := s.matcher.Match(roi, t.Image)
		if err != nil {
			continue
		}
		if m.Score >= bestScore {
			best, bestScore, found = lvl, m.Score, true
		}
	}
	return best, found
}

// name identifies the hero, first from cached templates and then by OCR.
// A new OCR result is written back to the store. learned reports that.
func (s *Scanner) name(ctx context.Context, frame image.Image) (kind string, learned bool) {
	roi, err := vision.Crop(frame, s.regions.Name)
	if err != nil {
		s.logger.Debug("name region outside frame", "error", err)
		return "", false
	}

	bestScore := s.cfg.Threshold
	for _, t := range s.store.List(templates.Heroes) {
		m, err := s.matcher.Match(roi, t.Image)
		if err != nil {
			continue
		}
		if m.Score >= bestScore {
			kind, bestScore = t.Name, m.Score
		}
	}
	if kind != "" {
		return kind, false
	}

	text, err := s.ocr.Recognize(ctx, roi)
	if err != nil {
		s.logger.Debug("ocr failed", "error", err)
		return "", false
	}
	key := ocr.Normalize(text)
	if key == "" {
		return "", false
	}
	if _, ok := s.store.Get(templates.Heroes, key); ok {
		return key, false
	}
	if err := s.store.Put(templates.Heroes, key, clone(roi)); err != nil {
		s.logger.Warn("caching hero template failed", "hero", key, "error", err)
		return key, false
	}
	s.logger.Info("learned hero template", "hero", key)
	return key, true
}

// parseLevel reads the level from names like "3" or "level_3".
func parseLevel(name string) (int, bool) {
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		name = name[i+1:]
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// clone copies img into a fresh image anchored at the origin so it does
// not keep the whole frame alive.
func clone(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
