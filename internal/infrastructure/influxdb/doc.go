// Package influxdb records bot telemetry as InfluxDB time series.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API
// and helpers for the three measurements the bot produces:
//
//   - battles: one point per finished battle (outcome, duration, rounds)
//   - merges: one point per board scan and merge pass
//   - restarts: one point per app or emulator restart
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteBattle(result)
//
// Writes are dropped silently while the client is closed. Asynchronous
// write failures are delivered to the callback set with SetOnError.
package influxdb
