// Package telemetry exports the automation loop to the outside world.
//
// Bridge mirrors the loop onto MQTT: retained stats, screen changes and
// battle results are published under mergebot/<serial>/..., and commands
// arriving on mergebot/<serial>/command/<name> are queued on the loop.
// Metrics writes battles, merge passes and restarts to InfluxDB.
//
// Both are optional and fail soft: a broker or database outage is logged
// and never slows the automation loop.
package telemetry
