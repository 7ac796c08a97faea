package screen

import (
	"context"
	"image"
	"time"

	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/templates"
	"github.com/nerrad567/mergebot/internal/vision"
)

// UnknownName is the name reported when no template matches.
const UnknownName = "unknown"

// VictoryTemplate is the marker template that identifies a won battle.
const VictoryTemplate = "victory"

// LifeEmptyTemplate is the marker template of an empty life pip.
const LifeEmptyTemplate = "life_empty"

// Capturer returns the current device frame.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Tapper injects a touch.
type Tapper interface {
	Tap(ctx context.Context, p image.Point) error
}

// Logger defines the logging interface for the classifier.
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

// Config tunes detection.
type Config struct {
	Threshold  float64
	MaxRetries int
	Backoff    time.Duration

	// DarkLuma is the mean luma under which a frame is logged as dimmed.
	// 0 disables the check.
	DarkLuma float64
}

// Observation is the result of one Detect call.
type Observation struct {
	Name     string
	State    State
	Score    float64
	Button   bool // a button template matched and was tapped
	Attempts int
	Frame    image.Image `json:"-"`
}

// Classifier identifies the current screen.
type Classifier struct {
	capture Capturer
	tap     Tapper
	store   templates.Store
	matcher vision.Matcher
	clock   clock.Clock
	cfg     Config
	logger  Logger
}

// NewClassifier creates a classifier. Zero config values take the defaults
// of threshold 0.95, 10 retries and 1s backoff.
func NewClassifier(capture Capturer, tap Tapper, store templates.Store, matcher vision.Matcher, clk clock.Clock, cfg Config) *Classifier {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.95
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 10
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	return &Classifier{
		capture: capture,
		tap:     tap,
		store:   store,
		matcher: matcher,
		clock:   clk,
		cfg:     cfg,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the classifier.
func (c *Classifier) SetLogger(logger Logger) {
	c.logger = logger
}

// Threshold returns the configured match threshold.
func (c *Classifier) Threshold() float64 {
	return c.cfg.Threshold
}

// Detect captures frames until a screen or button template matches, or
// MaxRetries attempts are spent.
//
// Returns:
//   - Observation: the matched screen, or Name "unknown" / State Unknown
//   - error: only ctx.Err() on cancellation
func (c *Classifier) Detect(ctx context.Context) (Observation, error) {
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Observation{}, err
		}

		frame, err := c.capture.Capture(ctx)
		if err != nil || frame == nil || frame.Bounds().Empty() {
			if ctx.Err() != nil {
				return Observation{}, ctx.Err()
			}
			c.logger.Debug("capture failed, retrying", "attempt", attempt, "error", err)
			if err := c.clock.Sleep(ctx, c.cfg.Backoff); err != nil {
				return Observation{}, err
			}
			continue
		}

		if c.cfg.DarkLuma > 0 {
			if l := vision.MeanLuma(frame); l < c.cfg.DarkLuma {
				c.logger.Debug("frame dimmed, popup overlay likely", "luma", l)
			}
		}

		if obs, ok := c.firstMatch(frame, templates.Screens); ok {
			obs.Attempts = attempt
			return obs.Observation, nil
		}

		if obs, ok := c.firstMatch(frame, templates.Buttons); ok {
			obs.Button = true
			obs.Attempts = attempt
			at := vision.Center(obs.rect)
			if err := c.tap.Tap(ctx, at); err != nil {
				c.logger.Warn("tapping button failed", "button", obs.Name, "error", err)
			} else {
				c.logger.Debug("tapped button", "button", obs.Name, "x", at.X, "y", at.Y)
			}
			return obs.Observation, nil
		}

		if err := c.clock.Sleep(ctx, c.cfg.Backoff); err != nil {
			return Observation{}, err
		}
	}

	return Observation{Name: UnknownName, State: Unknown, Attempts: c.cfg.MaxRetries}, nil
}

type located struct {
	Observation
	rect image.Rectangle
}

// firstMatch returns the first template in name order at or above the threshold.
func (c *Classifier) firstMatch(frame image.Image, category templates.Category) (located, bool) {
	for _, t := range c.store.List(category) {
		m, err := c.matcher.Match(frame, t.Image)
		if err != nil {
			c.logger.Debug("template not matchable", "category", category, "name", t.Name, "error", err)
			continue
		}
		if m.Score >= c.cfg.Threshold {
			return located{
				Observation: Observation{Name: t.Name, State: Parse(t.Name), Score: m.Score, Frame: frame},
				rect:        m.Rect,
			}, true
		}
	}
	return located{}, false
}

// IsVictory captures once and matches the victory marker.
//
// A failed capture or a missing marker template is reported as false, so
// an unreadable end screen counts as a defeat. Callers must treat false
// as "not confirmed won".
func (c *Classifier) IsVictory(ctx context.Context) bool {
	frame, err := c.capture.Capture(ctx)
	if err != nil || frame == nil {
		c.logger.Warn("victory check capture failed, assuming defeat", "error", err)
		return false
	}
	return c.IsVictoryFrame(frame)
}

// IsVictoryFrame is IsVictory on an already captured frame.
func (c *Classifier) IsVictoryFrame(frame image.Image) bool {
	tmpl, ok := c.store.Get(templates.Markers, VictoryTemplate)
	if !ok {
		c.logger.Warn("victory marker template missing, assuming defeat")
		return false
	}
	m, err := c.matcher.Match(frame, tmpl)
	if err != nil {
		return false
	}
	return m.Score >= c.cfg.Threshold
}

// Round captures once and reads the round from the life pip regions.
// The second return is false when the capture failed or the marker is missing.
func (c *Classifier) Round(ctx context.Context, life1, life2 image.Rectangle) (RoundInfo, bool) {
	marker, ok := c.store.Get(templates.Markers, LifeEmptyTemplate)
	if !ok {
		c.logger.Warn("life pip marker template missing")
		return RoundInfo{}, false
	}
	frame, err := c.capture.Capture(ctx)
	if err != nil || frame == nil {
		c.logger.Debug("round capture failed", "error", err)
		return RoundInfo{}, false
	}
	return ReadRound(c.matcher, frame, marker, life1, life2, c.cfg.Threshold), true
}
