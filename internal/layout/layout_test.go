package layout

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `
version: 3
width: 1080
height: 1920
regions:
  - {group: board, name: cell_0, x: 200, y: 900, w: 100, h: 100}
  - {group: battle, name: surrender, x: 40, y: 60, w: 80, h: 80}
  - {group: battle, name: life_1, x: 100, y: 300, w: 200, h: 40}
`

func TestParse(t *testing.T) {
	l, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if l.Version != 3 {
		t.Errorf("Version = %d, want 3", l.Version)
	}

	r, err := l.Get("board", "cell_0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if want := image.Rect(200, 900, 300, 1000); r.Rect() != want {
		t.Errorf("Rect() = %v, want %v", r.Rect(), want)
	}
	if want := image.Pt(250, 950); r.Center() != want {
		t.Errorf("Center() = %v, want %v", r.Center(), want)
	}

	if _, err := l.Get("board", "cell_9"); !errors.Is(err, ErrRegionNotFound) {
		t.Errorf("Get(missing) error = %v, want %v", err, ErrRegionNotFound)
	}
	if got := len(l.Group("battle")); got != 2 {
		t.Errorf("len(Group(battle)) = %d, want 2", got)
	}
}

func TestRequire(t *testing.T) {
	l, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := l.Require("board/cell_0", "battle/surrender"); err != nil {
		t.Errorf("Require(existing) error = %v", err)
	}
	err = l.Require("board/cell_0", "main/pvp", "chest/close")
	if !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("Require(missing) error = %v, want %v", err, ErrRegionNotFound)
	}
	if !strings.Contains(err.Error(), "main/pvp") || !strings.Contains(err.Error(), "chest/close") {
		t.Errorf("Require() error = %v, want both missing keys listed", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no resolution", "regions: []", "width and height"},
		{"duplicate", `
width: 100
height: 100
regions:
  - {group: a, name: b, x: 0, y: 0, w: 1, h: 1}
  - {group: a, name: b, x: 1, y: 1, w: 1, h: 1}
`, "duplicate"},
		{"zero size", `
width: 100
height: 100
regions:
  - {group: a, name: b, x: 0, y: 0, w: 0, h: 1}
`, "must be positive"},
		{"outside screen", `
width: 100
height: 100
regions:
  - {group: a, name: b, x: 90, y: 90, w: 20, h: 20}
`, "outside the screen"},
		{"missing name", `
width: 100
height: 100
regions:
  - {group: a, x: 0, y: 0, w: 1, h: 1}
`, "required"},
		{"bad yaml", "width: [", "parsing layout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("Load() error = %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil, want error")
	}
}

func TestShippedLayout(t *testing.T) {
	l, err := Load(filepath.Join("..", "..", "configs", "layout.yaml"))
	if err != nil {
		t.Fatalf("Load(configs/layout.yaml) error = %v", err)
	}
	if _, err := l.Get("board", "cell_0"); err != nil {
		t.Errorf("shipped layout missing board/cell_0: %v", err)
	}
}
