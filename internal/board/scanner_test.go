package board

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/templates"
	"github.com/nerrad567/mergebot/internal/vision"
)

var (
	levelRegion = image.Rect(60, 50, 90, 70)
	nameRegion  = image.Rect(60, 75, 100, 95)
)

func noise(seed int64, w, h int) *image.Gray {
	r := rand.New(rand.NewSource(seed))
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = uint8(r.Intn(256))
	}
	return g
}

func flat(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func paste(dst *image.Gray, src image.Image, at image.Point) {
	draw.Draw(dst, src.Bounds().Sub(src.Bounds().Min).Add(at), src, src.Bounds().Min, draw.Src)
}

func copyGray(src *image.Gray) *image.Gray {
	dst := image.NewGray(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// fakeDevice returns the board frame until a cell is tapped, then the
// hero panel registered for that cell.
type fakeDevice struct {
	board    *image.Gray
	panels   map[image.Point]image.Image
	tapped   *image.Point
	taps     int
	captures int
	failAll  bool
	failFrom int // fail every capture after this many, 0 disables
}

func (d *fakeDevice) Capture(context.Context) (image.Image, error) {
	d.captures++
	if d.failAll || (d.failFrom > 0 && d.captures > d.failFrom) {
		return nil, errors.New("screencap failed")
	}
	if d.tapped != nil {
		p := *d.tapped
		d.tapped = nil
		if panel, ok := d.panels[p]; ok {
			return panel, nil
		}
	}
	return d.board, nil
}

func (d *fakeDevice) Tap(_ context.Context, p image.Point) error {
	d.taps++
	d.tapped = &p
	return nil
}

type fakeOCR struct {
	text  string
	calls int
}

func (f *fakeOCR) Recognize(context.Context, image.Image) (string, error) {
	f.calls++
	return f.text, nil
}

type scanFixture struct {
	geom   Geometry
	board  *Board
	store  *templates.MemStore
	dev    *fakeDevice
	ocr    *fakeOCR
	clock  *clock.Fake
	s      *Scanner
	levels map[int]*image.Gray
	heroes map[string]*image.Gray
}

func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()
	f := &scanFixture{
		geom:   NewGeometry(image.Rect(0, 0, 20, 20), 2, 3, 20, 20),
		store:  templates.NewMemStore(),
		dev:    &fakeDevice{board: flat(100, 100, 128), panels: map[image.Point]image.Image{}},
		ocr:    &fakeOCR{},
		clock:  clock.NewFake(time.Unix(0, 0)),
		levels: map[int]*image.Gray{1: noise(1, 10, 10), 2: noise(2, 10, 10)},
		heroes: map[string]*image.Gray{"fire": noise(3, 16, 8)},
	}
	f.board = New(f.geom)
	for lvl, img := range f.levels {
		name := map[int]string{1: "1", 2: "level_2"}[lvl]
		if err := f.store.Put(templates.Levels, name, img); err != nil {
			t.Fatalf("Put level: %v", err)
		}
	}
	for name, img := range f.heroes {
		if err := f.store.Put(templates.Heroes, name, img); err != nil {
			t.Fatalf("Put hero: %v", err)
		}
	}
	f.s = NewScanner(f.dev, f.dev, f.store, vision.NewNCC(1), f.ocr, f.clock, Regions{
		Level: levelRegion,
		Name:  nameRegion,
	}, ScanConfig{})
	return f
}

// occupy draws a textured occupant into cell i and registers the hero
// panel shown when it is tapped. level 0 means no level badge (stone).
// name nil means an unknown hero name.
func (f *scanFixture) occupy(i, level int, name image.Image) {
	rect, _ := f.geom.Rect(i)
	paste(f.dev.board, noise(int64(100+i), 20, 20), rect.Min)

	panel := copyGray(f.dev.board)
	if level > 0 {
		paste(panel, f.levels[level], levelRegion.Min.Add(image.Pt(2, 2)))
	}
	if name != nil {
		paste(panel, name, nameRegion.Min.Add(image.Pt(2, 3)))
	}
	f.dev.panels[vision.Center(rect)] = panel
}

func TestScanner_Scan(t *testing.T) {
	f := newScanFixture(t)
	f.occupy(0, 2, f.heroes["fire"])
	f.occupy(1, 0, nil)
	f.occupy(4, 1, noise(99, 36, 14))
	f.ocr.text = "Frost  Mage\n"
	_ = f.board.Set(CellResult{Index: 5, Kind: "fire", Level: 1})

	rep, err := f.s.Scan(context.Background(), f.board, f.geom.Indices())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if rep.Scanned != 6 || rep.Empty != 3 || rep.Occupied != 3 || rep.Stones != 1 || rep.Learned != 1 {
		t.Errorf("report = %+v, want scanned 6 empty 3 occupied 3 stones 1 learned 1", rep)
	}
	if c, ok := f.board.Get(0); !ok || c.Kind != "fire" || c.Level != 2 {
		t.Errorf("cell 0 = %v, %v, want fire/2", c, ok)
	}
	if c, ok := f.board.Get(1); !ok || !c.IsStone() || c.Level != UnknownLevel {
		t.Errorf("cell 1 = %v, %v, want stone", c, ok)
	}
	if c, ok := f.board.Get(4); !ok || c.Kind != "frost_mage" || c.Level != 1 {
		t.Errorf("cell 4 = %v, %v, want frost_mage/1", c, ok)
	}
	if _, ok := f.board.Get(5); ok {
		t.Error("cell 5 still occupied after scanning it empty")
	}
	if _, ok := f.store.Get(templates.Heroes, "frost_mage"); !ok {
		t.Error("OCR result was not cached as a hero template")
	}
	if f.dev.taps != 3 {
		t.Errorf("taps = %d, want one per occupied cell (3)", f.dev.taps)
	}
	if f.dev.captures != 4 {
		t.Errorf("captures = %d, want 1 board + 3 panels", f.dev.captures)
	}
	if got := f.clock.Slept(); got != 300*time.Millisecond {
		t.Errorf("settle time = %v, want 300ms", got)
	}

	// The learned template now resolves the hero without OCR.
	calls := f.ocr.calls
	if _, err := f.s.Scan(context.Background(), f.board, []int{4}); err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if f.ocr.calls != calls {
		t.Errorf("OCR called %d more times, want cached template hit", f.ocr.calls-calls)
	}
	if c, _ := f.board.Get(4); c.Kind != "frost_mage" {
		t.Errorf("cell 4 after rescan = %v, want frost_mage", c)
	}
}

func TestScanner_UnreadableNameIsStone(t *testing.T) {
	f := newScanFixture(t)
	f.occupy(2, 1, noise(77, 36, 14))
	f.ocr.text = "?!"

	if _, err := f.s.Scan(context.Background(), f.board, []int{2}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if c, ok := f.board.Get(2); !ok || !c.IsStone() {
		t.Errorf("cell 2 = %v, %v, want stone", c, ok)
	}
	if len(f.store.List(templates.Heroes)) != 1 {
		t.Error("unreadable OCR text was cached")
	}
}

func TestScanner_CaptureFailureKeepsState(t *testing.T) {
	f := newScanFixture(t)
	prev := CellResult{Index: 0, Kind: "fire", Level: 1}
	_ = f.board.Set(prev)

	f.dev.failAll = true
	rep, err := f.s.Scan(context.Background(), f.board, f.geom.Indices())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if rep.Scanned != 0 {
		t.Errorf("Scanned = %d, want 0", rep.Scanned)
	}
	if c, ok := f.board.Get(0); !ok || !c.SameValue(prev) {
		t.Errorf("cell 0 = %v, %v, want unchanged %v", c, ok, prev)
	}

	// Panel capture failing only affects that cell.
	f.dev.failAll = false
	f.dev.failFrom = f.dev.captures + 1
	f.occupy(0, 2, f.heroes["fire"])
	if _, err := f.s.Scan(context.Background(), f.board, []int{0}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if c, _ := f.board.Get(0); !c.SameValue(prev) {
		t.Errorf("cell 0 = %v after failed panel capture, want %v", c, prev)
	}
}

func TestScanner_SkipsOutOfBoundsCells(t *testing.T) {
	f := newScanFixture(t)
	f.dev.board = flat(50, 100, 128)

	rep, err := f.s.Scan(context.Background(), f.board, []int{0, 2, 9})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(rep.Skipped) != 2 {
		t.Errorf("Skipped = %v, want cells 2 and 9", rep.Skipped)
	}
	if rep.Scanned != 1 {
		t.Errorf("Scanned = %d, want 1", rep.Scanned)
	}
}

func TestScanner_PartlyVisibleCellIsNotTapped(t *testing.T) {
	f := newScanFixture(t)
	// Cell 2 spans x 40..60; its centre patch (44..56) fits a 57px frame.
	f.dev.board = noise(7, 57, 100)

	rep, err := f.s.Scan(context.Background(), f.board, []int{2})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !reflect.DeepEqual(rep.Skipped, []int{2}) {
		t.Errorf("Skipped = %v, want [2]", rep.Skipped)
	}
	if f.dev.taps != 0 {
		t.Errorf("taps = %d, want 0", f.dev.taps)
	}
	if _, ok := f.board.Get(2); ok {
		t.Error("cell 2 stored from a partly visible rectangle")
	}
}

func TestScanner_Cancelled(t *testing.T) {
	f := newScanFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.s.Scan(ctx, f.board, f.geom.Indices()); !errors.Is(err, context.Canceled) {
		t.Errorf("Scan() error = %v, want %v", err, context.Canceled)
	}
}
