package api

import (
	"context"
	"time"

	"github.com/nerrad567/mergebot/internal/automation"
	"github.com/nerrad567/mergebot/internal/results"
)

// WebSocket event channels.
const (
	ChannelStats  = "stats"
	ChannelScreen = "screen"
	ChannelBattle = "battle"
)

// screenEvent is broadcast when the detected screen changes.
type screenEvent struct {
	Screen string    `json:"screen"`
	State  string    `json:"state"`
	Since  time.Time `json:"since"`
}

// PublishStats broadcasts a loop snapshot to "stats" subscribers, plus a
// "screen" event when the screen differs from the last snapshot.
// Register it with Orchestrator.OnStats; it never blocks.
func (s *Server) PublishStats(st automation.Stats) {
	s.hub.Broadcast(ChannelStats, st)

	s.screenMu.Lock()
	changed := st.Screen != s.lastScreen
	s.lastScreen = st.Screen
	s.screenMu.Unlock()

	if changed && st.Screen != "" {
		s.hub.Broadcast(ChannelScreen, screenEvent{
			Screen: st.Screen,
			State:  st.State.String(),
			Since:  st.ScreenSince,
		})
	}
}

// Record implements results.Sink by broadcasting to "battle" subscribers.
func (s *Server) Record(_ context.Context, r results.BattleResult) error {
	s.hub.Broadcast(ChannelBattle, r)
	return nil
}
