package board

import (
	"errors"
	"fmt"
	"image"
	"sort"
)

// StoneKind marks an occupied cell whose hero could not be identified.
const StoneKind = "Stone"

// UnknownLevel is the level recorded for stones.
const UnknownLevel = -1

// ErrIndexOutOfRange is returned for cell indices outside the grid.
var ErrIndexOutOfRange = errors.New("board: cell index out of range")

// CellResult is what the scanner learned about one occupied cell.
type CellResult struct {
	Index int             `json:"index"`
	Kind  string          `json:"kind"`
	Level int             `json:"level"`
	Rect  image.Rectangle `json:"-"`
}

// Stone returns the obstacle value for cell index.
func Stone(index int, rect image.Rectangle) CellResult {
	return CellResult{Index: index, Kind: StoneKind, Level: UnknownLevel, Rect: rect}
}

// IsStone reports whether the cell is unidentifiable.
func (c CellResult) IsStone() bool {
	return c.Kind == StoneKind || c.Kind == "" || c.Level < 0
}

// SameValue reports whether two cells hold the same hero at the same level.
func (c CellResult) SameValue(o CellResult) bool {
	return c.Kind == o.Kind && c.Level == o.Level
}

// Mergeable reports whether the cell can take part in a merge at all.
func (c CellResult) Mergeable(maxLevel int) bool {
	return !c.IsStone() && c.Level < maxLevel
}

func (c CellResult) String() string {
	if c.IsStone() {
		return fmt.Sprintf("%d:stone", c.Index)
	}
	return fmt.Sprintf("%d:%s/%d", c.Index, c.Kind, c.Level)
}

// Geometry is the fixed cell layout of the grid.
type Geometry struct {
	Rows  int
	Cols  int
	cells []image.Rectangle
}

// NewGeometry replicates ref across a rows x cols grid. Cell (r, c) is ref
// shifted by c*stepX and r*stepY.
func NewGeometry(ref image.Rectangle, rows, cols, stepX, stepY int) Geometry {
	g := Geometry{Rows: rows, Cols: cols, cells: make([]image.Rectangle, 0, rows*cols)}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			g.cells = append(g.cells, ref.Add(image.Pt(c*stepX, r*stepY)))
		}
	}
	return g
}

// Capacity returns the number of cells.
func (g Geometry) Capacity() int { return len(g.cells) }

// Rect returns the rectangle of cell i.
func (g Geometry) Rect(i int) (image.Rectangle, error) {
	if i < 0 || i >= len(g.cells) {
		return image.Rectangle{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return g.cells[i], nil
}

// IsEdge reports whether cell i is on the first or last row or column.
func (g Geometry) IsEdge(i int) bool {
	r, c := i/g.Cols, i%g.Cols
	return r == 0 || r == g.Rows-1 || c == 0 || c == g.Cols-1
}

// Indices returns every cell index in order.
func (g Geometry) Indices() []int {
	out := make([]int, len(g.cells))
	for i := range out {
		out[i] = i
	}
	return out
}

// Board is the per-battle model of the grid.
//
// Thread Safety:
//   - Not safe for concurrent use. The automation loop owns it.
type Board struct {
	geom  Geometry
	cells map[int]CellResult
	revs  map[int]uint64
	gen   uint64
}

// New returns an empty board over geom.
func New(geom Geometry) *Board {
	return &Board{
		geom:  geom,
		cells: make(map[int]CellResult),
		revs:  make(map[int]uint64),
	}
}

// Geometry returns the board's grid geometry.
func (b *Board) Geometry() Geometry { return b.geom }

// Get returns the cell at index i. ok is false when the cell is empty.
func (b *Board) Get(i int) (CellResult, bool) {
	c, ok := b.cells[i]
	return c, ok
}

// Set stores c at c.Index. The revision changes only when the value does.
func (b *Board) Set(c CellResult) error {
	rect, err := b.geom.Rect(c.Index)
	if err != nil {
		return err
	}
	if c.Rect.Empty() {
		c.Rect = rect
	}
	if old, ok := b.cells[c.Index]; ok && old.SameValue(c) {
		return nil
	}
	b.cells[c.Index] = c
	b.bump(c.Index)
	return nil
}

// Remove empties cell i.
func (b *Board) Remove(i int) {
	if _, ok := b.cells[i]; !ok {
		return
	}
	delete(b.cells, i)
	b.bump(i)
}

// Reset empties every cell.
func (b *Board) Reset() {
	for i := range b.cells {
		b.bump(i)
	}
	b.cells = make(map[int]CellResult)
}

func (b *Board) bump(i int) {
	b.gen++
	b.revs[i] = b.gen
}

// Revision returns a value that changes every time cell i changes.
func (b *Board) Revision(i int) uint64 { return b.revs[i] }

// Len returns the number of occupied cells.
func (b *Board) Len() int { return len(b.cells) }

// Stones returns the number of unidentifiable occupants.
func (b *Board) Stones() int {
	n := 0
	for _, c := range b.cells {
		if c.IsStone() {
			n++
		}
	}
	return n
}

// Cells returns the occupied cells ordered by index.
func (b *Board) Cells() []CellResult {
	out := make([]CellResult, 0, len(b.cells))
	for _, c := range b.cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// RescanIndices returns the cells worth scanning in round. Round 1 scans
// the whole grid. Later rounds scan empty cells, stones and the cells in
// implicated.
func RescanIndices(b *Board, round int, implicated []int) []int {
	if round <= 1 {
		return b.geom.Indices()
	}
	want := make(map[int]bool, len(implicated))
	for _, i := range implicated {
		want[i] = true
	}
	var out []int
	for _, i := range b.geom.Indices() {
		c, ok := b.cells[i]
		if !ok || c.IsStone() || want[i] {
			out = append(out, i)
		}
	}
	return out
}
