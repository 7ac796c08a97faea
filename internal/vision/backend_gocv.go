//go:build gocv

package vision

// New returns the matcher named by backend ("ncc" or "gocv").
func New(backend string, scale float64) Matcher {
	if backend == "gocv" {
		return NewOpenCV()
	}
	return NewNCC(scale)
}
