package vision

import (
	"fmt"
	"image"
	"math"
)

// minCoarseSide is the smallest template side worth a coarse search pass.
const minCoarseSide = 12

// coarseCandidates is how many coarse peaks are refined at full resolution.
const coarseCandidates = 4

// flatEpsilon is the variance below which a patch is considered flat.
const flatEpsilon = 1e-6

// NCC is a pure Go zero-mean normalised cross-correlation matcher
// (the TM_CCOEFF_NORMED measure).
//
// Scale < 1 downsamples frame and template before any search, trading
// precision for speed on full-resolution screenshots.
type NCC struct {
	Scale float64
}

// NewNCC returns a matcher working at the given scale (0 < scale <= 1).
func NewNCC(scale float64) *NCC {
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	return &NCC{Scale: scale}
}

// Match implements Matcher.
func (n *NCC) Match(frame, tmpl image.Image) (Match, error) {
	f, t, err := n.prepare(frame, tmpl)
	if err != nil {
		return Match{}, err
	}

	best := Match{Score: -1}
	for _, p := range f.candidates(t) {
		if s := f.score(t, p.X, p.Y); s > best.Score {
			best = Match{Score: s, Rect: image.Rectangle{Min: p, Max: p.Add(image.Pt(t.w, t.h))}}
		}
	}
	best.Score = math.Max(best.Score, 0)
	best.Rect = n.toFrame(f, best.Rect)
	return best, nil
}

// MatchAll implements Matcher with an exhaustive full-resolution scan.
// Intended for small regions of interest.
func (n *NCC) MatchAll(frame, tmpl image.Image, threshold float64) ([]Match, error) {
	f, t, err := n.prepare(frame, tmpl)
	if err != nil {
		return nil, err
	}
	var cands []Match
	for y := 0; y+t.h <= f.h; y++ {
		for x := 0; x+t.w <= f.w; x++ {
			if s := f.score(t, x, y); s >= threshold {
				r := image.Rect(x, y, x+t.w, y+t.h)
				cands = append(cands, Match{Score: s, Rect: n.toFrame(f, r)})
			}
		}
	}
	return suppress(cands), nil
}

func (n *NCC) prepare(frame, tmpl image.Image) (*plane, *template, error) {
	if frame == nil || tmpl == nil || frame.Bounds().Empty() || tmpl.Bounds().Empty() {
		return nil, nil, ErrEmptyImage
	}
	scale := n.Scale
	if scale == 0 {
		scale = 1
	}
	f := newPlane(Scale(frame, scale))
	t := newTemplate(Scale(tmpl, scale))
	if t.w > f.w || t.h > f.h {
		return nil, nil, fmt.Errorf("%w: %dx%d in %dx%d", ErrTemplateTooLarge, t.w, t.h, f.w, f.h)
	}
	f.scale = scale
	return f, t, nil
}

// toFrame maps a rectangle in plane-local coordinates back to the
// original frame's coordinate space.
func (n *NCC) toFrame(f *plane, r image.Rectangle) image.Rectangle {
	r = r.Add(f.origin)
	if f.scale == 1 {
		return r
	}
	inv := 1 / f.scale
	return image.Rect(
		int(math.Round(float64(r.Min.X)*inv)),
		int(math.Round(float64(r.Min.Y)*inv)),
		int(math.Round(float64(r.Max.X)*inv)),
		int(math.Round(float64(r.Max.Y)*inv)),
	)
}

// plane is a grayscale frame with summed-area tables for O(1) window
// mean and variance.
type plane struct {
	w, h   int
	origin image.Point
	scale  float64
	pix    []float64
	sum    []float64 // (w+1)*(h+1)
	sq     []float64
}

func newPlane(g *image.Gray) *plane {
	b := g.Bounds()
	p := &plane{
		w:      b.Dx(),
		h:      b.Dy(),
		origin: b.Min,
		scale:  1,
		pix:    make([]float64, b.Dx()*b.Dy()),
		sum:    make([]float64, (b.Dx()+1)*(b.Dy()+1)),
		sq:     make([]float64, (b.Dx()+1)*(b.Dy()+1)),
	}
	stride := p.w + 1
	for y := 0; y < p.h; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		var rs, rq float64
		for x := 0; x < p.w; x++ {
			v := float64(row[x])
			p.pix[y*p.w+x] = v
			rs += v
			rq += v * v
			p.sum[(y+1)*stride+x+1] = p.sum[y*stride+x+1] + rs
			p.sq[(y+1)*stride+x+1] = p.sq[y*stride+x+1] + rq
		}
	}
	return p
}

func (p *plane) window(tab []float64, x, y, w, h int) float64 {
	s := p.w + 1
	return tab[(y+h)*s+x+w] - tab[y*s+x+w] - tab[(y+h)*s+x] + tab[y*s+x]
}

// score returns the NCC of t placed at (x, y) in plane-local coordinates.
func (p *plane) score(t *template, x, y int) float64 {
	n := float64(t.w * t.h)
	sumI := p.window(p.sum, x, y, t.w, t.h)
	varI := p.window(p.sq, x, y, t.w, t.h) - sumI*sumI/n

	if t.flat || varI < flatEpsilon*n {
		// Flat against flat compares brightness; flat against texture never matches.
		if t.flat && varI < flatEpsilon*n && math.Abs(sumI/n-t.mean) < 1 {
			return 1
		}
		return 0
	}

	var cross float64
	for j := 0; j < t.h; j++ {
		row := p.pix[(y+j)*p.w+x : (y+j)*p.w+x+t.w]
		trow := t.dev[j*t.w : (j+1)*t.w]
		for i, v := range row {
			cross += v * trow[i]
		}
	}
	// Σ(I-Ī)T' equals ΣI·T' because ΣT' is zero.
	return cross / math.Sqrt(varI*t.ss)
}

// candidates returns the positions to score at full resolution: every
// position for small inputs, otherwise the neighbourhoods of the best
// peaks found on a downsampled copy.
func (p *plane) candidates(t *template) []image.Point {
	k := 1
	for _, f := range []int{4, 2} {
		if t.w/f >= minCoarseSide && t.h/f >= minCoarseSide {
			k = f
			break
		}
	}
	if k == 1 {
		return p.allPositions(t)
	}

	cp := newPlane(Scale(p.gray(), 1/float64(k)))
	ct := newTemplate(Scale(t.gray(), 1/float64(k)))
	if ct.w > cp.w || ct.h > cp.h {
		return p.allPositions(t)
	}

	type peak struct {
		pt    image.Point
		score float64
	}
	var peaks []peak
	for y := 0; y+ct.h <= cp.h; y++ {
		for x := 0; x+ct.w <= cp.w; x++ {
			s := cp.score(ct, x, y)
			if len(peaks) < coarseCandidates {
				peaks = append(peaks, peak{image.Pt(x, y), s})
				continue
			}
			worst := 0
			for i := range peaks {
				if peaks[i].score < peaks[worst].score {
					worst = i
				}
			}
			if s > peaks[worst].score {
				peaks[worst] = peak{image.Pt(x, y), s}
			}
		}
	}

	seen := make(map[image.Point]bool)
	var out []image.Point
	for _, pk := range peaks {
		cx, cy := pk.pt.X*k, pk.pt.Y*k
		for y := cy - k; y <= cy+k; y++ {
			for x := cx - k; x <= cx+k; x++ {
				pt := image.Pt(x, y)
				if x < 0 || y < 0 || x+t.w > p.w || y+t.h > p.h || seen[pt] {
					continue
				}
				seen[pt] = true
				out = append(out, pt)
			}
		}
	}
	return out
}

func (p *plane) allPositions(t *template) []image.Point {
	out := make([]image.Point, 0, (p.w-t.w+1)*(p.h-t.h+1))
	for y := 0; y+t.h <= p.h; y++ {
		for x := 0; x+t.w <= p.w; x++ {
			out = append(out, image.Pt(x, y))
		}
	}
	return out
}

func (p *plane) gray() *image.Gray {
	return toGray8(p.pix, p.w, p.h)
}

// template is a zero-mean copy of the reference image.
type template struct {
	w, h int
	mean float64
	ss   float64 // Σ(T-mean)²
	flat bool
	dev  []float64
	raw  []float64
}

func newTemplate(g *image.Gray) *template {
	b := g.Bounds()
	t := &template{w: b.Dx(), h: b.Dy()}
	t.raw = make([]float64, t.w*t.h)
	var sum float64
	for y := 0; y < t.h; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < t.w; x++ {
			t.raw[y*t.w+x] = float64(row[x])
			sum += float64(row[x])
		}
	}
	n := float64(len(t.raw))
	t.mean = sum / n
	t.dev = make([]float64, len(t.raw))
	for i, v := range t.raw {
		d := v - t.mean
		t.dev[i] = d
		t.ss += d * d
	}
	t.flat = t.ss < flatEpsilon*n
	return t
}

func (t *template) gray() *image.Gray {
	return toGray8(t.raw, t.w, t.h)
}

func toGray8(pix []float64, w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range pix {
		g.Pix[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
	}
	return g
}
