// Package mqtt connects the bot to an MQTT broker.
//
// The client publishes status, stats, screen changes and battle results
// under mergebot/<serial>/..., and subscribes to remote commands on
// mergebot/<serial>/command/<name>. A retained status message marks the
// bot online; the broker's Last Will marks it offline if the process dies.
//
// # Reconnection
//
// paho's auto-reconnect is enabled with the configured backoff bounds.
// Subscriptions are tracked and restored on every reconnect, and the
// online status is republished.
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Message handlers run on
// paho's goroutines and must not block.
package mqtt
