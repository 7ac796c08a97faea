// Package automation runs the per-device polling loop that plays the game.
//
// Each iteration observes the current screen, gathers the few extra facts
// the screen needs (victory marker, round pips, whether the app runs),
// and asks the Rules for a Plan. Rules.Step is a pure function of
//
//	(SessionState, screen.Observation, Facts, now) -> (Plan, SessionState)
//
// so the whole state machine is tested without a device. The Executor
// turns a Plan into taps, board scans, merges, result records and, when
// needed, recovery restarts.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────┐
//	│                Orchestrator (orchestrator.go)            │
//	│  owns SessionState, applies commands, recovers panics    │
//	│                                                          │
//	│   Detect ──▶ gather Facts ──▶ Rules.Step ──▶ Executor    │
//	│                                  (rules.go)  (executor.go)│
//	│                                                  │       │
//	│                                                  ▼       │
//	│                                    Recovery (recovery.go)│
//	│                              app restart ─▶ emulator     │
//	└──────────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// SessionState, the board and the merge memo are owned by the loop
// goroutine. Other goroutines interact only through Send (commands) and
// Stats (an atomically published snapshot).
package automation
