//go:build gocv

package vision

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"gocv.io/x/gocv"
)

// OpenCV is a Matcher backed by cv::matchTemplate with TM_CCOEFF_NORMED.
// Only available in builds with the "gocv" tag.
type OpenCV struct{}

// NewOpenCV returns the OpenCV matcher.
func NewOpenCV() *OpenCV { return &OpenCV{} }

func toMat(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	mat, err := gocv.ImageToMatRGB(rgba)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("converting image: %w", err)
	}
	gray := gocv.NewMat()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	mat.Close()
	return gray, nil
}

func (o *OpenCV) result(frame, tmpl image.Image) (gocv.Mat, image.Point, error) {
	if frame == nil || tmpl == nil || frame.Bounds().Empty() || tmpl.Bounds().Empty() {
		return gocv.NewMat(), image.Point{}, ErrEmptyImage
	}
	fs, ts := frame.Bounds().Size(), tmpl.Bounds().Size()
	if ts.X > fs.X || ts.Y > fs.Y {
		return gocv.NewMat(), image.Point{}, ErrTemplateTooLarge
	}
	f, err := toMat(frame)
	if err != nil {
		return gocv.NewMat(), image.Point{}, err
	}
	defer f.Close()
	t, err := toMat(tmpl)
	if err != nil {
		return gocv.NewMat(), image.Point{}, err
	}
	defer t.Close()

	res := gocv.NewMat()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(f, t, &res, gocv.TmCcoeffNormed, mask)
	return res, ts, nil
}

// Match implements Matcher.
func (o *OpenCV) Match(frame, tmpl image.Image) (Match, error) {
	res, ts, err := o.result(frame, tmpl)
	defer res.Close()
	if err != nil {
		return Match{}, err
	}
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(res)
	at := frame.Bounds().Min.Add(maxLoc)
	return Match{
		Score: clampScore(float64(maxVal)),
		Rect:  image.Rectangle{Min: at, Max: at.Add(ts)},
	}, nil
}

// MatchAll implements Matcher.
func (o *OpenCV) MatchAll(frame, tmpl image.Image, threshold float64) ([]Match, error) {
	res, ts, err := o.result(frame, tmpl)
	defer res.Close()
	if err != nil {
		return nil, err
	}
	origin := frame.Bounds().Min
	var cands []Match
	for y := 0; y < res.Rows(); y++ {
		for x := 0; x < res.Cols(); x++ {
			s := clampScore(float64(res.GetFloatAt(y, x)))
			if s >= threshold {
				at := origin.Add(image.Pt(x, y))
				cands = append(cands, Match{Score: s, Rect: image.Rectangle{Min: at, Max: at.Add(ts)}})
			}
		}
	}
	return suppress(cands), nil
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(0, math.Min(1, s))
}
