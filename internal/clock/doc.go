// Package clock provides the time source used by the automation loop.
//
// Every delay in the bot (capture backoff, settle waits, stuck-screen
// timers) goes through a Clock so that tests can advance time without
// sleeping. Real is backed by the time package; Fake advances instantly.
package clock
