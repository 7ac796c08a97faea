package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// subImager is implemented by every concrete image type in the stdlib.
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the part of img inside r. The result keeps img's
// coordinate space, so points found in it are valid frame points.
func Crop(img image.Image, r image.Rectangle) (image.Image, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	if r.Empty() || !r.In(img.Bounds()) {
		return nil, fmt.Errorf("%w: %v not in %v", ErrOutOfBounds, r, img.Bounds())
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(r), nil
	}
	dst := image.NewRGBA(r)
	draw.Draw(dst, r, img, r.Min, draw.Src)
	return dst, nil
}

// ToGray converts img to 8-bit luma, preserving its bounds.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	switch src := img.(type) {
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := src.PixOffset(b.Min.X, y)
			di := g.PixOffset(b.Min.X, y)
			for x := 0; x < b.Dx(); x++ {
				p := src.Pix[si+4*x : si+4*x+3 : si+4*x+3]
				g.Pix[di+x] = luma(p[0], p[1], p[2])
			}
		}
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := src.PixOffset(b.Min.X, y)
			di := g.PixOffset(b.Min.X, y)
			for x := 0; x < b.Dx(); x++ {
				p := src.Pix[si+4*x : si+4*x+3 : si+4*x+3]
				g.Pix[di+x] = luma(p[0], p[1], p[2])
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g.SetGray(x, y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
			}
		}
	}
	return g
}

// luma matches color.GrayModel's weights.
func luma(r, g, b uint8) uint8 {
	y := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
	return uint8(y)
}

// Scale resizes img by factor with bilinear interpolation.
// The result's bounds start at the scaled origin of img.
func Scale(img image.Image, factor float64) *image.Gray {
	g := ToGray(img)
	if factor == 1 {
		return g
	}
	b := g.Bounds()
	dr := image.Rect(
		int(math.Floor(float64(b.Min.X)*factor)),
		int(math.Floor(float64(b.Min.Y)*factor)),
		int(math.Floor(float64(b.Min.X)*factor))+max(1, int(math.Round(float64(b.Dx())*factor))),
		int(math.Floor(float64(b.Min.Y)*factor))+max(1, int(math.Round(float64(b.Dy())*factor))),
	)
	dst := image.NewGray(dr)
	xdraw.ApproxBiLinear.Scale(dst, dr, g, b, xdraw.Src, nil)
	return dst
}

// GrayRange returns max-min luma over img.
func GrayRange(img image.Image) int {
	g := ToGray(img)
	b := g.Bounds()
	if b.Empty() {
		return 0
	}
	lo, hi := uint8(255), uint8(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y) : g.PixOffset(b.Min.X, y)+b.Dx()]
		for _, v := range row {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	return int(hi) - int(lo)
}

// MeanLuma returns the average luma over img in [0, 255].
func MeanLuma(img image.Image) float64 {
	g := ToGray(img)
	b := g.Bounds()
	if b.Empty() {
		return 0
	}
	var sum uint64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y) : g.PixOffset(b.Min.X, y)+b.Dx()]
		for _, v := range row {
			sum += uint64(v)
		}
	}
	return float64(sum) / float64(b.Dx()*b.Dy())
}

// CenterPatch returns the size x size square centred in r, clipped to r.
func CenterPatch(r image.Rectangle, size int) image.Rectangle {
	c := Center(r)
	half := size / 2
	return image.Rect(c.X-half, c.Y-half, c.X-half+size, c.Y-half+size).Intersect(r)
}

// Center returns the midpoint of r.
func Center(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

// IsEmptyPatch reports whether the central patch of cell is flat: its
// grayscale range is below threshold. A cell not wholly inside frame
// returns ErrOutOfBounds, even when its centre is visible.
func IsEmptyPatch(frame image.Image, cell image.Rectangle, size, threshold int) (bool, error) {
	if frame == nil {
		return false, ErrEmptyImage
	}
	if !cell.In(frame.Bounds()) {
		return false, fmt.Errorf("%w: cell %v not in %v", ErrOutOfBounds, cell, frame.Bounds())
	}
	patch, err := Crop(frame, CenterPatch(cell, size))
	if err != nil {
		return false, err
	}
	return GrayRange(patch) < threshold, nil
}
