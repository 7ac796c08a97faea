package screen

import (
	"image"

	"github.com/nerrad567/mergebot/internal/vision"
)

// RoundInfo is derived from the empty life pips of both players.
// Each lost round empties one pip, so the current round is one more than
// the number of empty pips.
type RoundInfo struct {
	Life1Empty int `json:"life1_empty"`
	Life2Empty int `json:"life2_empty"`
	Round      int `json:"round"`
}

// NewRoundInfo computes the round from empty pip counts.
func NewRoundInfo(life1Empty, life2Empty int) RoundInfo {
	return RoundInfo{
		Life1Empty: life1Empty,
		Life2Empty: life2Empty,
		Round:      life1Empty + life2Empty + 1,
	}
}

// ReadRound counts the empty-pip marker inside both life regions of frame.
// A region outside the frame counts as zero.
func ReadRound(m vision.Matcher, frame, marker image.Image, life1, life2 image.Rectangle, threshold float64) RoundInfo {
	count := func(r image.Rectangle) int {
		roi, err := vision.Crop(frame, r)
		if err != nil {
			return 0
		}
		return vision.CountMatches(m, roi, marker, threshold)
	}
	return NewRoundInfo(count(life1), count(life2))
}
