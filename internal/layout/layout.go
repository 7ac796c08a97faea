// Package layout loads the named screen regions the bot looks at and taps.
//
// A layout is authored once for a fixed device resolution. Regions are
// addressed by (group, name), for example ("battle", "surrender") or
// ("main", "pvp"). The core never computes geometry beyond what is here;
// the board grid is derived from a single reference cell.
package layout

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrRegionNotFound is returned by Get for unknown (group, name) pairs.
var ErrRegionNotFound = errors.New("layout: region not found")

// Region is a named rectangle on the screen.
type Region struct {
	Name  string `yaml:"name"`
	Group string `yaml:"group"`
	X     int    `yaml:"x"`
	Y     int    `yaml:"y"`
	W     int    `yaml:"w"`
	H     int    `yaml:"h"`
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Center returns the region's tap point.
func (r Region) Center() image.Point {
	return image.Pt(r.X+r.W/2, r.Y+r.H/2)
}

type key struct{ group, name string }

// Layout is an immutable, validated set of regions.
type Layout struct {
	Version int      `yaml:"version"`
	Width   int      `yaml:"width"`
	Height  int      `yaml:"height"`
	Regions []Region `yaml:"regions"`

	byKey map[key]Region
}

// Load reads and validates a layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates layout YAML.
func Parse(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("validating layout: %w", err)
	}
	l.byKey = make(map[key]Region, len(l.Regions))
	for _, r := range l.Regions {
		l.byKey[key{r.Group, r.Name}] = r
	}
	return &l, nil
}

// Validate checks resolution, uniqueness, sizes and containment.
func (l *Layout) Validate() error {
	var errs []string
	if l.Width <= 0 || l.Height <= 0 {
		errs = append(errs, "width and height must be positive")
	}
	screen := image.Rect(0, 0, l.Width, l.Height)
	seen := make(map[key]bool, len(l.Regions))
	for i, r := range l.Regions {
		id := fmt.Sprintf("regions[%d] %s/%s", i, r.Group, r.Name)
		if r.Group == "" || r.Name == "" {
			errs = append(errs, id+": group and name are required")
		}
		k := key{r.Group, r.Name}
		if seen[k] {
			errs = append(errs, id+": duplicate region")
		}
		seen[k] = true
		if r.W <= 0 || r.H <= 0 {
			errs = append(errs, id+": w and h must be positive")
		} else if !r.Rect().In(screen) {
			errs = append(errs, id+": outside the screen")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("layout errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Get returns the region keyed by (group, name).
func (l *Layout) Get(group, name string) (Region, error) {
	r, ok := l.byKey[key{group, name}]
	if !ok {
		return Region{}, fmt.Errorf("%w: %s/%s", ErrRegionNotFound, group, name)
	}
	return r, nil
}

// Require reports every missing region among keys given as "group/name".
func (l *Layout) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		group, name, _ := strings.Cut(k, "/")
		if _, ok := l.byKey[key{group, name}]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, strings.Join(missing, ", "))
	}
	return nil
}

// Group returns the regions of one group in file order.
func (l *Layout) Group(group string) []Region {
	var out []Region
	for _, r := range l.Regions {
		if r.Group == group {
			out = append(out, r)
		}
	}
	return out
}
