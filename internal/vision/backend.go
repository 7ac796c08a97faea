//go:build !gocv

package vision

// New returns the matcher named by backend. Without the "gocv" build tag
// every backend resolves to the pure Go NCC matcher.
func New(backend string, scale float64) Matcher {
	return NewNCC(scale)
}
