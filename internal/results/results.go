// Package results records the outcome of every battle.
//
// A BattleResult is emitted once per finished battle and fanned out to
// any number of sinks: a JSON-lines file, the SQLite history, MQTT,
// InfluxDB and WebSocket clients. Sinks must not block the automation
// loop for long and their errors are logged, never fatal.
package results

import (
	"context"
	"errors"
	"time"
)

// Outcome is how a battle ended.
type Outcome string

const (
	Win       Outcome = "win"
	Lose      Outcome = "lose"
	Surrender Outcome = "surrender"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == Win || o == Lose || o == Surrender
}

// BattleResult is one finished battle plus the session counters after it.
type BattleResult struct {
	ID         string    `json:"id"`
	Serial     string    `json:"serial,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMS int64     `json:"duration_ms"`
	Outcome    Outcome   `json:"outcome"`
	Rounds     int       `json:"rounds"`
	Merges     int       `json:"merges"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	Streak     int       `json:"streak"`
}

// Duration returns the battle length.
func (r BattleResult) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// Sink receives battle results.
type Sink interface {
	Record(ctx context.Context, r BattleResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r BattleResult) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, r BattleResult) error {
	return f(ctx, r)
}

// Logger defines the logging interface for Multi.
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

// Multi records to every sink in order. A failing sink does not stop the
// others.
type Multi struct {
	sinks  []Sink
	logger Logger
}

// NewMulti returns a fan-out over sinks. Nil sinks are dropped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{logger: noopLogger{}}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// SetLogger sets the logger used for sink failures.
func (m *Multi) SetLogger(logger Logger) {
	m.logger = logger
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Record implements Sink. The returned error joins every sink failure.
func (m *Multi) Record(ctx context.Context, r BattleResult) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, r); err != nil {
			m.logger.Warn("result sink failed", "battle_id", r.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
