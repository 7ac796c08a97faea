package results

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("results: sink closed")

// JSONL appends one JSON object per line to a file.
//
// Thread Safety:
//   - Safe for concurrent use.
type JSONL struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenJSONL opens path for appending, creating it and its directory.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening results file: %w", err)
	}
	return &JSONL{f: f, path: path}, nil
}

// Path returns the file path.
func (j *JSONL) Path() string { return j.path }

// Record implements Sink.
func (j *JSONL) Record(_ context.Context, r BattleResult) error {
	line, err := sonic.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return ErrClosed
	}
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

// Close closes the file. Safe to call more than once.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// Decode parses one line written by JSONL.
func Decode(line []byte) (BattleResult, error) {
	var r BattleResult
	if err := sonic.Unmarshal(line, &r); err != nil {
		return BattleResult{}, fmt.Errorf("decoding result: %w", err)
	}
	return r, nil
}
