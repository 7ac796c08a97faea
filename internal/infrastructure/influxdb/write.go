package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/mergebot/internal/results"
)

// Measurement names.
const (
	MeasurementBattles  = "battles"
	MeasurementMerges   = "merges"
	MeasurementRestarts = "restarts"
)

// BattlePoint converts a battle result into a point timestamped at its end.
func BattlePoint(b results.BattleResult) *write.Point {
	won := 0
	if b.Outcome == results.Win {
		won = 1
	}
	return write.NewPoint(MeasurementBattles,
		map[string]string{
			"serial":  b.Serial,
			"mode":    b.Mode,
			"outcome": string(b.Outcome),
		},
		map[string]any{
			"won":         won,
			"duration_ms": b.DurationMS,
			"rounds":      b.Rounds,
			"merges":      b.Merges,
			"streak":      b.Streak,
		},
		b.EndedAt)
}

// MergePoint describes one scan-and-merge pass.
func MergePoint(serial string, round, merges, failures int, at time.Time) *write.Point {
	return write.NewPoint(MeasurementMerges,
		map[string]string{"serial": serial},
		map[string]any{
			"round":    round,
			"merges":   merges,
			"failures": failures,
		},
		at)
}

// RestartPoint describes one recovery attempt. level is "app" or "emulator".
func RestartPoint(serial, level string, ok bool, at time.Time) *write.Point {
	return write.NewPoint(MeasurementRestarts,
		map[string]string{"serial": serial, "level": level},
		map[string]any{"ok": ok},
		at)
}

// WriteBattle queues a battle point.
func (c *Client) WriteBattle(b results.BattleResult) {
	c.writePoint(BattlePoint(b))
}

// WriteMerge queues a merge pass point.
func (c *Client) WriteMerge(serial string, round, merges, failures int) {
	c.writePoint(MergePoint(serial, round, merges, failures, time.Now()))
}

// WriteRestart queues a restart point.
func (c *Client) WriteRestart(serial, level string, ok bool) {
	c.writePoint(RestartPoint(serial, level, ok, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
