package templates

import (
	"errors"
	"fmt"
	"image"
	"regexp"
	"sort"
	"sync"
)

// Category groups templates by purpose.
type Category string

const (
	Screens Category = "screens"
	Buttons Category = "buttons"
	Levels  Category = "levels"
	Heroes  Category = "heroes"
	Markers Category = "markers"
)

// Categories lists every known category.
var Categories = []Category{Screens, Buttons, Levels, Heroes, Markers}

var (
	// ErrInvalidName is returned by Put for names that are not safe file names.
	ErrInvalidName = errors.New("templates: invalid name")

	// ErrUnknownCategory is returned for categories outside Categories.
	ErrUnknownCategory = errors.New("templates: unknown category")
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)

// Template is a named reference image.
type Template struct {
	Name  string
	Image image.Image
}

// Store is the template repository used by the classifier and scanner.
type Store interface {
	// Get returns one template.
	Get(category Category, name string) (image.Image, bool)

	// Put adds or replaces a template.
	Put(category Category, name string, img image.Image) error

	// List returns every template in category sorted by name.
	List(category Category) []Template
}

func validate(category Category, name string) error {
	known := false
	for _, c := range Categories {
		if c == category {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// index is the in-memory map shared by MemStore and FSStore.
type index struct {
	mu   sync.RWMutex
	data map[Category]map[string]image.Image
}

func newIndex() *index {
	return &index{data: make(map[Category]map[string]image.Image)}
}

func (x *index) get(category Category, name string) (image.Image, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	img, ok := x.data[category][name]
	return img, ok
}

func (x *index) set(category Category, name string, img image.Image) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.data[category] == nil {
		x.data[category] = make(map[string]image.Image)
	}
	x.data[category][name] = img
}

func (x *index) remove(category Category, name string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.data[category], name)
}

func (x *index) list(category Category) []Template {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Template, 0, len(x.data[category]))
	for name, img := range x.data[category] {
		out = append(out, Template{Name: name, Image: img})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (x *index) count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, m := range x.data {
		n += len(m)
	}
	return n
}

// MemStore is an in-memory Store.
type MemStore struct {
	idx *index
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{idx: newIndex()}
}

// Get implements Store.
func (m *MemStore) Get(category Category, name string) (image.Image, bool) {
	return m.idx.get(category, name)
}

// Put implements Store.
func (m *MemStore) Put(category Category, name string, img image.Image) error {
	if err := validate(category, name); err != nil {
		return err
	}
	m.idx.set(category, name, img)
	return nil
}

// List implements Store.
func (m *MemStore) List(category Category) []Template {
	return m.idx.list(category)
}
