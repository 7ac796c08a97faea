package templates

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

const ext = ".png"

// Logger defines the logging interface for the template store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// FSStore is a Store backed by PNG files, cached in memory.
type FSStore struct {
	dir    string
	idx    *index
	logger Logger
}

// OpenFS creates the category directories under dir and loads every PNG.
// Files that fail to decode are skipped with a warning.
func OpenFS(dir string, logger Logger) (*FSStore, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &FSStore{dir: dir, idx: newIndex(), logger: logger}
	for _, c := range Categories {
		if err := os.MkdirAll(filepath.Join(dir, string(c)), 0o755); err != nil {
			return nil, fmt.Errorf("creating template directory: %w", err)
		}
		entries, err := os.ReadDir(filepath.Join(dir, string(c)))
		if err != nil {
			return nil, fmt.Errorf("reading template directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
				continue
			}
			s.load(filepath.Join(dir, string(c), e.Name()))
		}
	}
	logger.Info("templates loaded", "dir", dir, "count", s.idx.count())
	return s, nil
}

// Get implements Store.
func (s *FSStore) Get(category Category, name string) (image.Image, bool) {
	return s.idx.get(category, name)
}

// List implements Store.
func (s *FSStore) List(category Category) []Template {
	return s.idx.list(category)
}

// Put implements Store. The file is written to a temporary name and
// renamed so a concurrent watcher never reads a partial PNG.
func (s *FSStore) Put(category Category, name string, img image.Image) error {
	if err := validate(category, name); err != nil {
		return err
	}
	dir := filepath.Join(s.dir, string(category))
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp template: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding template: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing template: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name+ext)); err != nil {
		return fmt.Errorf("saving template: %w", err)
	}

	s.idx.set(category, name, img)
	s.logger.Info("template saved", "category", category, "name", name)
	return nil
}

// Watch reloads templates as files change until ctx is done.
func (s *FSStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	for _, c := range Categories {
		if err := watcher.Add(filepath.Join(s.dir, string(c))); err != nil {
			return fmt.Errorf("watch %s: %w", c, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handle(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("template watcher error", "error", err)
		}
	}
}

func (s *FSStore) handle(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, ext) || strings.HasPrefix(base, ".") {
		return
	}
	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		s.logger.Debug("template changed", "file", event.Name, "op", event.Op.String())
		s.load(event.Name)
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		category, name := s.key(event.Name)
		s.idx.remove(category, name)
		s.logger.Info("template removed", "category", category, "name", name)
	}
}

// key maps <dir>/<category>/<name>.png to its index key.
func (s *FSStore) key(path string) (Category, string) {
	category := Category(filepath.Base(filepath.Dir(path)))
	name := strings.TrimSuffix(filepath.Base(path), ext)
	return category, name
}

func (s *FSStore) load(path string) {
	category, name := s.key(path)
	f, err := os.Open(path) //nolint:gosec // path is inside the template directory
	if err != nil {
		s.logger.Warn("opening template", "file", path, "error", err)
		return
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		s.logger.Warn("decoding template", "file", path, "error", err)
		return
	}
	s.idx.set(category, name, img)
}
