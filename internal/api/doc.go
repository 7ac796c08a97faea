// Package api implements the HTTP control API and WebSocket feed for
// MergeBot.
//
// This package provides:
//   - Read endpoints for the live session stats and the battle history
//   - Control endpoints that queue pause/resume/reset on the automation loop
//   - Direct device access (tap, screenshot) for operators
//   - A WebSocket hub broadcasting stats, screen changes and battle results
//   - Middleware stack (request ID, logging, recovery, CORS, JWT auth)
//
// # Architecture
//
// The server never touches session state. Commands go through the loop's
// command queue and are applied at the top of its next iteration, stats are
// read from the loop's published snapshot, and device calls are serialised
// by the device channel's own lock.
//
// # Security
//
// Every route except /health requires a bearer token minted with
// "mergebot token". WebSocket connections authenticate with a single-use
// ticket from POST /api/v1/auth/ws-ticket so the token never appears in a URL.
package api
