package telemetry

import (
	"context"

	"github.com/nerrad567/mergebot/internal/merge"
	"github.com/nerrad567/mergebot/internal/results"
)

// MetricsWriter is the part of *influxdb.Client that Metrics uses. Writes
// are asynchronous and never fail the caller.
type MetricsWriter interface {
	WriteBattle(b results.BattleResult)
	WriteMerge(serial string, round, merges, failures int)
	WriteRestart(serial, level string, ok bool)
}

// Metrics adapts the loop's hooks to time-series points.
type Metrics struct {
	w      MetricsWriter
	serial string
}

// NewMetrics creates a Metrics writing points tagged with serial.
func NewMetrics(w MetricsWriter, serial string) *Metrics {
	return &Metrics{w: w, serial: serial}
}

// Record writes a battle point. It implements results.Sink.
func (m *Metrics) Record(_ context.Context, r results.BattleResult) error {
	if r.Serial == "" {
		r.Serial = m.serial
	}
	m.w.WriteBattle(r)
	return nil
}

// OnMerge writes one scan+merge pass. Passes without activity are skipped.
func (m *Metrics) OnMerge(round int, rep merge.Report) {
	if rep.Merges == 0 && rep.Failures == 0 {
		return
	}
	m.w.WriteMerge(m.serial, round, rep.Merges, rep.Failures)
}

// OnRestart writes one recovery attempt.
func (m *Metrics) OnRestart(level string, ok bool) {
	m.w.WriteRestart(m.serial, level, ok)
}
