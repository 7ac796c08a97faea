package vision

import (
	"image"
	"sort"
)

// Match is the best placement of a template in a frame.
type Match struct {
	// Score is the normalised correlation in [0, 1].
	Score float64

	// Rect is the matched area in frame coordinates.
	Rect image.Rectangle
}

// Center returns the tap point of the match.
func (m Match) Center() image.Point {
	return Center(m.Rect)
}

// Matcher finds a template inside a frame.
type Matcher interface {
	// Match returns the highest scoring placement of tmpl in frame.
	Match(frame, tmpl image.Image) (Match, error)

	// MatchAll returns every non-overlapping placement scoring at least
	// threshold, best first.
	MatchAll(frame, tmpl image.Image, threshold float64) ([]Match, error)
}

// CountMatches returns how many non-overlapping copies of tmpl appear in
// frame at or above threshold. Errors count as zero.
func CountMatches(m Matcher, frame, tmpl image.Image, threshold float64) int {
	all, err := m.MatchAll(frame, tmpl, threshold)
	if err != nil {
		return 0
	}
	return len(all)
}

// AreSame reports whether a and b show the same content. b is resized to
// a's size when they differ.
func AreSame(a, b image.Image, threshold float64) bool {
	if a == nil || b == nil || a.Bounds().Empty() || b.Bounds().Empty() {
		return false
	}
	ga := newPlane(ToGray(a))
	gb := ToGray(b)
	if gb.Bounds().Size() != a.Bounds().Size() {
		gb = Scale(gb, float64(a.Bounds().Dx())/float64(gb.Bounds().Dx()))
		if gb.Bounds().Size() != a.Bounds().Size() {
			return false
		}
	}
	t := newTemplate(gb)
	return ga.score(t, 0, 0) >= threshold
}

// suppress keeps the best candidates whose rectangles do not overlap an
// already kept one.
func suppress(cands []Match) []Match {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	var kept []Match
	for _, c := range cands {
		overlaps := false
		for _, k := range kept {
			if c.Rect.Overlaps(k.Rect) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}
